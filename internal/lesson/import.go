package lesson

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// CatalogWriter stores catalog entries.
type CatalogWriter interface {
	SaveLessons(ctx context.Context, lessons []domain.Lesson) error
}

// Import loads every lesson under the loader's content directory and
// upserts it into the catalog. It returns the number of lessons saved.
func Import(ctx context.Context, l *Loader, w CatalogWriter) (int, error) {
	lessons, err := l.LoadAll()
	if err != nil {
		return 0, err
	}
	if len(lessons) == 0 {
		return 0, nil
	}
	if err := w.SaveLessons(ctx, lessons); err != nil {
		return 0, fmt.Errorf("save lessons: %w", err)
	}

	slog.Info("lessons imported", "dir", l.BasePath(), "count", len(lessons))
	return len(lessons), nil
}
