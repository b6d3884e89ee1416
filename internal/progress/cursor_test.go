package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
)

func TestPartCursor(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	backend := newFakeBackend()
	backend.progress["long"] = domain.LessonProgress{LessonID: "long", CurrentPart: 2}
	c := NewPartCursor(store, backend)
	l := domain.Lesson{ID: "long", TotalParts: 3}
	ctx := context.Background()

	if got := c.CurrentPart(ctx, "u1", l); got != 2 {
		t.Errorf("CurrentPart() from backend = %d, want 2", got)
	}

	next, err := c.Advance("u1", "long", 2, 3)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if next != 3 {
		t.Errorf("Advance() = %d, want 3", next)
	}
	if next, _ := c.Advance("u1", "long", 3, 3); next != 3 {
		t.Errorf("Advance() past last part = %d, want 3", next)
	}

	var raw string
	if err := store.Get("u1", CursorKey("long"), &raw); err != nil || raw != "3" {
		t.Errorf("stored cursor = %q (%v), want \"3\"", raw, err)
	}
}

func TestPartCursor_UnreadableFallsBack(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.Put("u1", CursorKey("long"), "two"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	c := NewPartCursor(store, nil)

	if got := c.CurrentPart(context.Background(), "u1", domain.Lesson{ID: "long", TotalParts: 3}); got != 1 {
		t.Errorf("CurrentPart() = %d, want 1", got)
	}

	// A garbled file is ignored too.
	matches, _ := filepath.Glob(filepath.Join(dir, "*", "*"))
	for _, m := range matches {
		if err := os.WriteFile(m, []byte("{not json"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if got := c.CurrentPart(context.Background(), "u1", domain.Lesson{ID: "long", TotalParts: 3}); got != 1 {
		t.Errorf("CurrentPart() with corrupt blob = %d, want 1", got)
	}
}
