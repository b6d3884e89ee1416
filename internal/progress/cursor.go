package progress

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
)

// CursorKey is the local state key holding a lesson's active part.
func CursorKey(lessonID string) string {
	return "lesson-part-" + lessonID
}

// PartCursor remembers which part of a multi-part lesson a user is on.
// The value is stored locally as "1", "2" or "3"; when it is missing the
// backend's progress record decides.
type PartCursor struct {
	store   *local.Store
	backend Backend // Optional
}

// NewPartCursor creates a cursor over the local store.
func NewPartCursor(store *local.Store, backend Backend) *PartCursor {
	return &PartCursor{store: store, backend: backend}
}

var _ session.PartResolver = (*PartCursor)(nil)

// CurrentPart returns the active part, between 1 and the lesson's total.
func (c *PartCursor) CurrentPart(ctx context.Context, userID string, l domain.Lesson) int {
	total := l.TotalParts
	if total <= 0 {
		total = domain.TotalLessonParts
	}

	if part, ok := c.local(userID, l.ID); ok {
		return clampPart(part, total)
	}

	if c.backend != nil {
		progress, err := c.backend.GetUserProgress(ctx, userID)
		if err != nil {
			slog.Warn("failed to read lesson progress for part cursor", "lesson", l.ID, "error", err)
			return 1
		}
		for _, p := range progress {
			if p.LessonID == l.ID && p.CurrentPart > 0 {
				return clampPart(p.CurrentPart, total)
			}
		}
	}
	return 1
}

// Advance moves the cursor past a completed part, stopping at total.
func (c *PartCursor) Advance(userID, lessonID string, part, total int) (int, error) {
	next := clampPart(part+1, total)
	if err := c.store.Put(userID, CursorKey(lessonID), strconv.Itoa(next)); err != nil {
		return part, err
	}
	return next, nil
}

func (c *PartCursor) local(userID, lessonID string) (int, bool) {
	var raw string
	if err := c.store.Get(userID, CursorKey(lessonID), &raw); err != nil {
		if !errors.Is(err, local.ErrNotFound) {
			slog.Warn("ignoring unreadable part cursor", "lesson", lessonID, "error", err)
		}
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func clampPart(part, total int) int {
	if part < 1 {
		return 1
	}
	if total > 0 && part > total {
		return total
	}
	return part
}
