package celebrate

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Service turns streak updates into badges, at most one per user per day.
type Service struct {
	duration time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastShown map[string]time.Time
}

// NewService creates a badge service; badges expire after duration.
func NewService(duration time.Duration) *Service {
	return &Service{
		duration:  duration,
		now:       time.Now,
		lastShown: make(map[string]time.Time),
	}
}

// Celebrate returns a badge for the first completion of the day, or nil.
func (s *Service) Celebrate(userID string, res domain.StreakResult) *domain.Badge {
	if !res.FirstToday || res.Streak <= 0 {
		return nil
	}

	now := s.now()
	if !s.shouldShow(userID, now) {
		return nil
	}
	s.record(userID, now)

	tier := TierFor(res.Streak)
	return &domain.Badge{
		Streak:    res.Streak,
		Tier:      tier,
		Message:   message(tier, res.Streak),
		ExpiresAt: now.Add(s.duration),
	}
}

func (s *Service) shouldShow(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastShown[userID]
	if !ok {
		return true
	}
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

func (s *Service) record(userID string, now time.Time) {
	s.mu.Lock()
	s.lastShown[userID] = now
	s.mu.Unlock()
}
