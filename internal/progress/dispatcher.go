package progress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/cadence/internal/celebrate"
	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
)

// Dispatcher turns reducer effects into backend commands. XP and heart
// changes go through the outbox and never block play. Completion is
// attempted inline so the streak badge can be shown; whatever fails there
// is queued instead.
type Dispatcher struct {
	backend   Backend
	outbox    OutboxStore
	relay     *Relay      // Optional: woken after each enqueue
	cursor    *PartCursor // Optional: multi-part lessons
	celebrate *celebrate.Service
}

// NewDispatcher creates a dispatcher. backend should be resilient.
func NewDispatcher(backend Backend, outbox OutboxStore, badges *celebrate.Service) *Dispatcher {
	return &Dispatcher{
		backend:   backend,
		outbox:    outbox,
		celebrate: badges,
	}
}

// SetRelay sets the relay to wake after enqueueing
func (d *Dispatcher) SetRelay(r *Relay) {
	d.relay = r
}

// SetPartCursor sets the multi-part cursor
func (d *Dispatcher) SetPartCursor(c *PartCursor) {
	d.cursor = c
}

var _ session.Dispatcher = (*Dispatcher)(nil)

// Dispatch carries out one effect for a session.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, eff session.Effect) (*domain.Badge, error) {
	switch eff.Type {
	case session.EffectAwardXP:
		cmd := NewCommand(sess.UserID, CommandAddXP)
		cmd.LessonID = eff.LessonID
		cmd.Amount = eff.Amount
		return nil, d.enqueue(ctx, cmd)

	case session.EffectLoseHeart:
		cmd := NewCommand(sess.UserID, CommandLoseHeart)
		cmd.LessonID = eff.LessonID
		return nil, d.enqueue(ctx, cmd)

	case session.EffectCompleteLesson:
		return d.complete(ctx, sess, eff)

	default:
		return nil, fmt.Errorf("%w: cannot dispatch %q", domain.ErrInvalidInput, eff.Type)
	}
}

func (d *Dispatcher) complete(ctx context.Context, sess *session.Session, eff session.Effect) (*domain.Badge, error) {
	st := sess.State

	// Review rounds count toward the streak only.
	if !st.Review {
		u := progressUpdate(st, eff)
		if st.Part > 0 && d.cursor != nil {
			if _, err := d.cursor.Advance(sess.UserID, st.LessonID, st.Part, st.TotalParts); err != nil {
				slog.Warn("failed to advance part cursor", "lesson", st.LessonID, "error", err)
			}
		}

		if _, err := d.backend.UpdateLessonProgress(ctx, sess.UserID, u); err != nil {
			slog.Warn("failed to update lesson progress, queueing", "lesson", u.LessonID, "error", err)
			// The streak must land after the progress it follows.
			return nil, d.queueCompletion(ctx, sess.UserID, &u)
		}
	}

	res, err := d.backend.UpdateStreak(ctx, sess.UserID)
	if err != nil {
		slog.Warn("failed to update streak, queueing", "user", sess.UserID, "error", err)
		return nil, d.queueCompletion(ctx, sess.UserID, nil)
	}

	if d.celebrate == nil {
		return nil, nil
	}
	return d.celebrate.Celebrate(sess.UserID, res), nil
}

// queueCompletion enqueues the remaining completion calls in order.
func (d *Dispatcher) queueCompletion(ctx context.Context, userID string, u *domain.ProgressUpdate) error {
	if u != nil {
		cmd := NewCommand(userID, CommandLessonProgress)
		cmd.LessonID = u.LessonID
		cmd.Progress = u
		if err := d.enqueue(ctx, cmd); err != nil {
			return err
		}
	}
	return d.enqueue(ctx, NewCommand(userID, CommandUpdateStreak))
}

func (d *Dispatcher) enqueue(ctx context.Context, cmd Command) error {
	if err := d.outbox.Enqueue(ctx, cmd); err != nil {
		return fmt.Errorf("enqueue %s: %w", cmd.Kind, err)
	}
	if d.relay != nil {
		d.relay.Notify()
	}
	return nil
}

// progressUpdate builds the lesson progress call for a completed session.
// Only the last part of a multi-part lesson completes it.
func progressUpdate(st session.State, eff session.Effect) domain.ProgressUpdate {
	u := domain.ProgressUpdate{
		LessonID:    st.LessonID,
		IsCompleted: true,
	}
	if eff.LessonID != "" {
		u.LessonID = eff.LessonID
	}
	if st.Part > 0 {
		u.Part = st.Part
		u.TotalParts = st.TotalParts
		u.IsCompleted = st.TotalParts <= 0 || st.Part >= st.TotalParts
	}
	if eff.Score != nil {
		u.Score = eff.Score.Percentage
		u.Correct = eff.Score.Correct
		u.Total = eff.Score.Total
	}
	return u
}
