package lesson

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Loader reads lesson documents from a content directory. Each YAML or
// JSON file holds one lesson; subdirectories are walked recursively.
type Loader struct {
	basePath string
}

// NewLoader creates a new lesson loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the content directory.
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadFile parses one lesson file into a catalog entry with its document
// stored as JSON.
func (l *Loader) LoadFile(path string) (*domain.Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lesson file: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse lesson file %s: %w", path, err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if doc.Category == "" {
		if rel, err := filepath.Rel(l.basePath, filepath.Dir(path)); err == nil && rel != "." {
			doc.Category = filepath.ToSlash(rel)
		}
	}

	raw, err := ToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("encode lesson file %s: %w", path, err)
	}

	lesson := doc.Summary(raw)
	return &lesson, nil
}

// LoadAll loads every lesson under the content directory. Files that fail
// to parse are logged and skipped.
func (l *Loader) LoadAll() ([]domain.Lesson, error) {
	var lessons []domain.Lesson

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isLessonFile(path) {
			return nil
		}

		lesson, err := l.LoadFile(path)
		if err != nil {
			slog.Warn("skipping lesson file", "path", path, "error", err)
			return nil
		}
		lessons = append(lessons, *lesson)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk content dir: %w", err)
	}

	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].Category != lessons[j].Category {
			return lessons[i].Category < lessons[j].Category
		}
		return lessons[i].Number < lessons[j].Number
	})
	return lessons, nil
}

func isLessonFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// QuestionsFor parses a catalog lesson's stored document and flattens it
// for the given part.
func QuestionsFor(l domain.Lesson, part int) ([]domain.Question, error) {
	if len(l.Document) == 0 {
		return nil, fmt.Errorf("%w: %s has no document", domain.ErrInvalidDocument, l.ID)
	}
	doc, err := Parse(l.Document)
	if err != nil {
		return nil, err
	}
	qs, err := Questions(doc, part)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyLesson, l.ID)
	}
	return qs, nil
}
