package lesson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"gopkg.in/yaml.v3"
)

// Document is a raw lesson document as authored. Question entries stay
// untyped until normalized so that field-name variants and malformed
// entries can be tolerated.
type Document struct {
	ID         string
	Title      string
	Category   string
	Number     int
	TotalParts int
	Practice   []map[string]any
	Quiz       []map[string]any
	Parts      []Part
}

// Part is one subdivision of a multi-part document.
type Part struct {
	Number    int
	Title     string
	Exercises []map[string]any
}

// IsMultiPart reports whether the document is split into parts.
func (d *Document) IsMultiPart() bool {
	return len(d.Parts) > 0
}

// Parse decodes a lesson document from JSON or YAML.
func Parse(data []byte) (*Document, error) {
	raw, err := decode(data)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:         str(raw, "id", "lessonId", "slug"),
		Title:      str(raw, "title", "name"),
		Category:   str(raw, "category"),
		Number:     num(raw, "lessonNumber", "number", "lesson_number"),
		TotalParts: num(raw, "totalParts", "total_parts", "totalLessonParts"),
		Practice:   objects(raw, "practice"),
		Quiz:       objects(raw, "quiz"),
	}

	for i, p := range objects(raw, "parts", "lessonParts") {
		n := num(p, "part", "number", "partNumber")
		if n == 0 {
			n = i + 1
		}
		doc.Parts = append(doc.Parts, Part{
			Number:    n,
			Title:     str(p, "title"),
			Exercises: objects(p, "exercises", "questions"),
		})
	}
	if doc.TotalParts == 0 && len(doc.Parts) > 0 {
		doc.TotalParts = len(doc.Parts)
	}

	return doc, nil
}

// decode accepts JSON objects and falls back to YAML for anything else.
func decode(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidDocument)
	}

	var raw map[string]any
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
		}
		return raw, nil
	}

	if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not a mapping", domain.ErrInvalidDocument)
	}
	return raw, nil
}

// ToJSON re-encodes a JSON or YAML lesson document as JSON so the catalog
// can store a single format.
func ToJSON(data []byte) (json.RawMessage, error) {
	raw, err := decode(data)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// Summary builds a catalog entry from a document.
func (d *Document) Summary(doc json.RawMessage) domain.Lesson {
	return domain.Lesson{
		ID:         d.ID,
		Number:     d.Number,
		Category:   d.Category,
		Title:      d.Title,
		TotalParts: d.TotalParts,
		Document:   doc,
	}
}
