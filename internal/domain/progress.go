package domain

import "time"

// Gamification defaults.
const (
	MaxHearts    = 5
	XPPerCorrect = 5
	XPPenalty    = 5
)

// UserStats are the backend-owned gamification counters.
type UserStats struct {
	UserID     string     `json:"user_id"`
	Hearts     int        `json:"hearts"`
	XP         int        `json:"xp"`
	Streak     int        `json:"streak"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// NewUserStats returns stats for a user who has not played yet.
func NewUserStats(userID string) UserStats {
	return UserStats{UserID: userID, Hearts: MaxHearts}
}

// StreakResult is returned by a streak update.
type StreakResult struct {
	Streak     int  `json:"streak"`
	FirstToday bool `json:"first_today"`
}

// LoseHeart removes one heart, never going below zero.
func (s UserStats) LoseHeart() UserStats {
	if s.Hearts > 0 {
		s.Hearts--
	}
	return s
}

// RefillHearts restores hearts to the maximum.
func (s UserStats) RefillHearts() UserStats {
	s.Hearts = MaxHearts
	return s
}

// AddXP adds amount (possibly negative) to XP, never going below zero.
func (s UserStats) AddXP(amount int) UserStats {
	s.XP += amount
	if s.XP < 0 {
		s.XP = 0
	}
	return s
}

// TouchStreak advances the streak for activity at now. Activity on the same
// calendar day leaves the streak unchanged; the day after extends it; any
// longer gap restarts it at one.
func (s UserStats) TouchStreak(now time.Time) (UserStats, StreakResult) {
	today := dayOf(now)
	if s.LastActive != nil {
		last := dayOf(s.LastActive.In(now.Location()))
		switch {
		case last.Equal(today):
			return s, StreakResult{Streak: s.Streak, FirstToday: false}
		case last.AddDate(0, 0, 1).Equal(today):
			s.Streak++
		default:
			s.Streak = 1
		}
	} else {
		s.Streak = 1
	}
	t := now
	s.LastActive = &t
	return s, StreakResult{Streak: s.Streak, FirstToday: true}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// BadgeTier selects the celebration animation.
type BadgeTier string

const (
	TierDaily     BadgeTier = "daily"
	TierMilestone BadgeTier = "milestone"
)

// Badge is the celebration shown after the first completion of a day.
type Badge struct {
	Streak    int       `json:"streak"`
	Tier      BadgeTier `json:"tier"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Activity is one delivered progress event in a user's history.
type Activity struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	LessonID   string    `json:"lesson_id,omitempty"`
	Amount     int       `json:"amount,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
