package session

import (
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/google/uuid"
)

// Session is one learner's run through a lesson (or review round).
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status Status `json:"status"`
	State  State  `json:"state"`

	// Badge is set after the first completion of the day and cleared when
	// its display time runs out.
	Badge *domain.Badge `json:"badge,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status represents the session lifecycle
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// NewSession creates an active session around an initial state.
func NewSession(userID string, state State) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    StatusActive,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the session is still being played.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// WrongQuestions returns the questions still in the wrong-answer list.
func (s *Session) WrongQuestions() []domain.Question {
	var out []domain.Question
	for _, w := range s.State.WrongAnswers {
		if w.Index >= 0 && w.Index < len(s.State.Questions) {
			out = append(out, s.State.Questions[w.Index])
		}
	}
	return out
}
