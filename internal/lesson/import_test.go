package lesson

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

type catalogRecorder struct {
	saved []domain.Lesson
	err   error
}

func (c *catalogRecorder) SaveLessons(ctx context.Context, lessons []domain.Lesson) error {
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, lessons...)
	return nil
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "basics", "one.json"), plainLesson)
	writeFile(t, filepath.Join(dir, "dark", "dp.yaml"), multiPartLesson)

	rec := &catalogRecorder{}
	n, err := Import(context.Background(), NewLoader(dir), rec)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != 2 || len(rec.saved) != 2 {
		t.Errorf("Import() = %d, saved %d; want 2", n, len(rec.saved))
	}
	if len(rec.saved[0].Document) == 0 {
		t.Error("imported lesson has no document")
	}
}

func TestImport_EmptyDir(t *testing.T) {
	rec := &catalogRecorder{err: errors.New("must not be called")}
	n, err := Import(context.Background(), NewLoader(t.TempDir()), rec)
	if err != nil || n != 0 {
		t.Errorf("Import() = %d, %v; want 0, nil", n, err)
	}
}

func TestImport_SaveError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.json"), plainLesson)

	rec := &catalogRecorder{err: errors.New("db locked")}
	if _, err := Import(context.Background(), NewLoader(dir), rec); err == nil {
		t.Error("Import() error = nil, want save error")
	}
}

func TestImport_MissingDir(t *testing.T) {
	_, err := Import(context.Background(), NewLoader(filepath.Join(t.TempDir(), "nope")), &catalogRecorder{})
	if err == nil {
		t.Error("Import() error = nil, want walk error")
	}
}
