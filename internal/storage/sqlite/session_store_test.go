package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	qs := []domain.Question{
		{
			ID:     "q1",
			Kind:   domain.KindMultipleChoice,
			Prompt: "Pick A",
			Choice: &domain.ChoicePayload{
				Options:   []domain.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
				CorrectID: "a",
			},
		},
		{
			ID:     "q2",
			Kind:   domain.KindMatching,
			Prompt: "Match",
			Matching: &domain.MatchingPayload{
				Pairs: []domain.Pair{{Term: "x", Definition: "1"}, {Term: "y", Definition: "2"}},
			},
		},
	}
	state := session.NewState("lesson-1", qs, 42, session.DefaultTimings())
	return session.NewSession("u1", state)
}

func TestSessionStore_SaveAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewSessionStore(db)

	sess := testSession(t)
	sess.State, _ = session.Reduce(sess.State, session.Event{Type: session.EventSelectOption, OptionID: "b"})
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != session.StatusActive {
		t.Errorf("Get() = %+v, want active session for u1", got)
	}
	if got.State.LessonID != "lesson-1" || len(got.State.Questions) != 2 {
		t.Errorf("State = %+v, want lesson-1 with 2 questions", got.State)
	}
	if got.State.Input.SelectedOption != "b" {
		t.Errorf("SelectedOption = %q, want b", got.State.Input.SelectedOption)
	}
	if got.State.Questions[1].Matching == nil || len(got.State.Questions[1].Matching.Pairs) != 2 {
		t.Errorf("matching payload lost: %+v", got.State.Questions[1])
	}
	if got.Badge != nil {
		t.Errorf("Badge = %+v, want nil", got.Badge)
	}

	// Update with a badge and completion.
	sess.Status = session.StatusCompleted
	sess.Badge = &domain.Badge{Streak: 5, Tier: domain.TierMilestone, Message: "5 days", ExpiresAt: time.Now().Add(3 * time.Second)}
	sess.UpdatedAt = time.Now()
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	got, err = store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Badge == nil || got.Badge.Tier != domain.TierMilestone {
		t.Errorf("Badge = %+v, want milestone", got.Badge)
	}
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store := NewSessionStore(openTestDB(t))

	if _, err := store.Get("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_ListActiveAndCount(t *testing.T) {
	store := NewSessionStore(openTestDB(t))

	active := testSession(t)
	done := testSession(t)
	done.Status = session.StatusCompleted
	for _, s := range []*session.Session{active, done} {
		if err := store.Save(s); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != active.ID {
		t.Errorf("ListActive() = %d sessions, want only %s", len(list), active.ID)
	}

	counts, err := store.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[session.StatusActive] != 1 || counts[session.StatusCompleted] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}

	if err := store.Delete(active.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(active.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}
