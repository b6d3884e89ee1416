package lesson

import (
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
)

// Client state keys.
const (
	KeyActiveLesson = "active-lesson"
	KeyCategory     = "category"
	KeyQuiz         = "quiz-questions"
	KeyReview       = "review-questions"
)

// ClientState is the per-user local cache of what the learner was doing:
// the active lesson, its category, and the question payloads of the
// current quiz and review round. Blobs carry no schema; anything that
// fails to decode is treated as absent.
type ClientState struct {
	store  *local.Store
	userID string
}

// NewClientState scopes a local store to one user.
func NewClientState(store *local.Store, userID string) *ClientState {
	return &ClientState{store: store, userID: userID}
}

// ActiveLesson is the lesson the learner last opened.
type ActiveLesson struct {
	LessonID string `json:"lesson_id"`
	Number   int    `json:"number"`
}

// SetActiveLesson records the opened lesson and its category.
func (c *ClientState) SetActiveLesson(l domain.Lesson) error {
	if err := c.store.Put(c.userID, KeyActiveLesson, ActiveLesson{LessonID: l.ID, Number: l.Number}); err != nil {
		return err
	}
	return c.store.Put(c.userID, KeyCategory, l.Category)
}

// ActiveLesson returns the last opened lesson and category.
func (c *ClientState) ActiveLesson() (ActiveLesson, string, bool) {
	var active ActiveLesson
	if !c.get(KeyActiveLesson, &active) {
		return ActiveLesson{}, "", false
	}
	var category string
	c.get(KeyCategory, &category)
	return active, category, true
}

type cachedQuiz struct {
	LessonID  string            `json:"lesson_id"`
	Part      int               `json:"part,omitempty"`
	Questions []domain.Question `json:"questions"`
}

// SaveQuiz caches the question payload of the running lesson part.
func (c *ClientState) SaveQuiz(lessonID string, part int, qs []domain.Question) error {
	return c.store.Put(c.userID, KeyQuiz, cachedQuiz{LessonID: lessonID, Part: part, Questions: qs})
}

// Quiz returns the cached quiz payload if it belongs to the lesson part.
func (c *ClientState) Quiz(lessonID string, part int) ([]domain.Question, bool) {
	var cached cachedQuiz
	if !c.get(KeyQuiz, &cached) || cached.LessonID != lessonID || cached.Part != part {
		return nil, false
	}
	return cached.Questions, len(cached.Questions) > 0
}

// SaveReview caches questions answered wrong for a later review round.
func (c *ClientState) SaveReview(qs []domain.Question) error {
	if len(qs) == 0 {
		return c.store.Delete(c.userID, KeyReview)
	}
	return c.store.Put(c.userID, KeyReview, qs)
}

// Review returns the cached review payload.
func (c *ClientState) Review() ([]domain.Question, bool) {
	var qs []domain.Question
	ok := c.get(KeyReview, &qs)
	return qs, ok && len(qs) > 0
}

func (c *ClientState) get(key string, v any) bool {
	err := c.store.Get(c.userID, key, v)
	if err == nil {
		return true
	}
	if !errors.Is(err, local.ErrNotFound) {
		slog.Warn("ignoring unreadable client state", "user", c.userID, "key", key, "error", err)
	}
	return false
}
