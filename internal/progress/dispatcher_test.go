package progress

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/celebrate"
	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeBackend, *memOutbox) {
	t.Helper()
	backend := newFakeBackend()
	outbox := newMemOutbox()
	d := NewDispatcher(backend, outbox, celebrate.NewService(3*time.Second))
	return d, backend, outbox
}

func completeEffect(lessonID string, correct, total int) session.Effect {
	return session.Effect{
		Type:     session.EffectCompleteLesson,
		LessonID: lessonID,
		Score:    &session.Score{Correct: correct, Total: total, Percentage: correct * 100 / total},
	}
}

func TestDispatcher_QueuesXPAndHearts(t *testing.T) {
	d, backend, outbox := newTestDispatcher(t)
	sess := &session.Session{UserID: "u1", State: session.State{LessonID: "l1"}}
	ctx := context.Background()

	effects := []session.Effect{
		{Type: session.EffectAwardXP, LessonID: "l1", Amount: 5},
		{Type: session.EffectLoseHeart, LessonID: "l1"},
		{Type: session.EffectAwardXP, LessonID: "l1", Amount: -5},
	}
	for _, eff := range effects {
		badge, err := d.Dispatch(ctx, sess, eff)
		if err != nil {
			t.Fatalf("Dispatch(%s) error = %v", eff.Type, err)
		}
		if badge != nil {
			t.Errorf("Dispatch(%s) badge = %+v, want nil", eff.Type, badge)
		}
	}

	want := []CommandKind{CommandAddXP, CommandLoseHeart, CommandAddXP}
	if got := outbox.kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("outbox kinds = %v, want %v", got, want)
	}
	if calls := backend.callNames(); len(calls) != 0 {
		t.Errorf("backend calls = %v, want none before relay", calls)
	}
}

func TestDispatcher_Complete(t *testing.T) {
	d, backend, outbox := newTestDispatcher(t)
	sess := &session.Session{UserID: "u1", State: session.State{LessonID: "l1"}}

	badge, err := d.Dispatch(context.Background(), sess, completeEffect("l1", 2, 3))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	wantCalls := []string{"UpdateLessonProgress", "UpdateStreak"}
	if got := backend.callNames(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("backend calls = %v, want %v", got, wantCalls)
	}
	u := backend.updates[0]
	if !u.IsCompleted || u.Score != 66 || u.Correct != 2 || u.Total != 3 {
		t.Errorf("progress update = %+v, want completed with score 66", u)
	}
	if badge == nil || badge.Tier != domain.TierMilestone || badge.Streak != 5 {
		t.Errorf("badge = %+v, want milestone for streak 5", badge)
	}
	if n, _ := outbox.Pending(context.Background()); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestDispatcher_CompleteNotFirstToday(t *testing.T) {
	d, backend, _ := newTestDispatcher(t)
	backend.streak = domain.StreakResult{Streak: 3, FirstToday: false}
	sess := &session.Session{UserID: "u1", State: session.State{LessonID: "l1"}}

	badge, err := d.Dispatch(context.Background(), sess, completeEffect("l1", 1, 1))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if badge != nil {
		t.Errorf("badge = %+v, want nil", badge)
	}
}

func TestDispatcher_CompleteQueuesOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		failing  string
		want     []CommandKind
		wantCall []string
	}{
		{
			name:     "progress fails",
			failing:  "UpdateLessonProgress",
			want:     []CommandKind{CommandLessonProgress, CommandUpdateStreak},
			wantCall: []string{"UpdateLessonProgress"},
		},
		{
			name:     "streak fails",
			failing:  "UpdateStreak",
			want:     []CommandKind{CommandUpdateStreak},
			wantCall: []string{"UpdateLessonProgress", "UpdateStreak"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, backend, outbox := newTestDispatcher(t)
			backend.setFail(tt.failing, errUnavailable)
			sess := &session.Session{UserID: "u1", State: session.State{LessonID: "l1"}}

			badge, err := d.Dispatch(context.Background(), sess, completeEffect("l1", 1, 2))
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if badge != nil {
				t.Errorf("badge = %+v, want nil", badge)
			}
			if got := outbox.kinds(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("outbox kinds = %v, want %v", got, tt.want)
			}
			if got := backend.callNames(); !reflect.DeepEqual(got, tt.wantCall) {
				t.Errorf("backend calls = %v, want %v", got, tt.wantCall)
			}
		})
	}
}

func TestDispatcher_ReviewUpdatesStreakOnly(t *testing.T) {
	d, backend, _ := newTestDispatcher(t)
	sess := &session.Session{UserID: "u1", State: session.State{LessonID: "review", Review: true}}

	if _, err := d.Dispatch(context.Background(), sess, completeEffect("review", 1, 1)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	want := []string{"UpdateStreak"}
	if got := backend.callNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("backend calls = %v, want %v", got, want)
	}
}

func TestDispatcher_MultiPart(t *testing.T) {
	d, backend, _ := newTestDispatcher(t)
	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cursor := NewPartCursor(store, backend)
	d.SetPartCursor(cursor)
	l := domain.Lesson{ID: "long", TotalParts: 3}
	ctx := context.Background()

	for part := 1; part <= 3; part++ {
		if got := cursor.CurrentPart(ctx, "u1", l); got != part {
			t.Fatalf("CurrentPart() before part %d = %d", part, got)
		}
		sess := &session.Session{UserID: "u1", State: session.State{LessonID: "long", Part: part, TotalParts: 3}}
		if _, err := d.Dispatch(ctx, sess, completeEffect("long", 2, 2)); err != nil {
			t.Fatalf("Dispatch(part %d) error = %v", part, err)
		}
	}

	for i, u := range backend.updates {
		wantDone := i == 2
		if u.Part != i+1 || u.IsCompleted != wantDone {
			t.Errorf("update %d = part %d completed %v, want part %d completed %v", i, u.Part, u.IsCompleted, i+1, wantDone)
		}
	}
	if got := cursor.CurrentPart(ctx, "u1", l); got != 3 {
		t.Errorf("CurrentPart() after all parts = %d, want 3", got)
	}
}

func TestDispatcher_UnknownEffect(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sess := &session.Session{UserID: "u1"}
	if _, err := d.Dispatch(context.Background(), sess, session.Effect{Type: session.EffectScheduleAdvance}); err == nil {
		t.Error("Dispatch(timer) error = nil, want error")
	}
}
