package lesson

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Flatten merges a plain lesson's practice and quiz items into one ordered
// sequence. Deprecated true-false items are dropped on this path.
func Flatten(doc *Document) []domain.Question {
	var out []domain.Question
	for i, raw := range doc.Practice {
		if q, ok := normalize(raw, fmt.Sprintf("practice-%d", i+1)); ok && q.Kind != domain.KindTrueFalse {
			out = append(out, q)
		}
	}
	for i, raw := range doc.Quiz {
		if q, ok := normalize(raw, fmt.Sprintf("quiz-%d", i+1)); ok && q.Kind != domain.KindTrueFalse {
			out = append(out, q)
		}
	}
	return out
}

// FlattenPart returns the exercises of one part of a multi-part document.
func FlattenPart(doc *Document, part int) ([]domain.Question, error) {
	for _, p := range doc.Parts {
		if p.Number != part {
			continue
		}
		var out []domain.Question
		for i, raw := range p.Exercises {
			if q, ok := normalize(raw, fmt.Sprintf("part%d-%d", part, i+1)); ok {
				out = append(out, q)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: part %d of %d", domain.ErrPartOutOfRange, part, len(doc.Parts))
}

// Questions picks the flattening path for a document.
func Questions(doc *Document, part int) ([]domain.Question, error) {
	if !doc.IsMultiPart() {
		return Flatten(doc), nil
	}
	if part < 1 {
		part = 1
	}
	return FlattenPart(doc, part)
}

// normalize converts one raw question entry into the canonical variant.
// Entries with an unknown type or without a usable payload are skipped.
func normalize(raw map[string]any, fallbackID string) (domain.Question, bool) {
	kind, ok := domain.ParseKind(str(raw, "type", "kind"))
	if !ok {
		slog.Debug("skipping question with unknown type", "id", fallbackID, "type", str(raw, "type", "kind"))
		return domain.Question{}, false
	}

	q := domain.Question{
		ID:          str(raw, "id"),
		Kind:        kind,
		Prompt:      str(raw, "question", "prompt", "statement"),
		Scene:       str(raw, "scene", "caseDescription", "case_description"),
		Explanation: str(raw, "explanation", "feedback"),
	}
	if q.ID == "" {
		q.ID = fallbackID
	}

	switch {
	case kind.IsChoice():
		q.Choice = choicePayload(raw, kind)
	case kind == domain.KindFillIn:
		q.FillIn = &domain.FillInPayload{Answer: str(raw, "answer", "correctAnswer", "correct")}
	case kind == domain.KindFillInBlank:
		answers := strs(raw, "answers", "blanks", "correctAnswers", "correctAnswer")
		if len(answers) == 0 {
			// Legacy single-blank entries reuse the fill-in-blank type name.
			q.Kind = domain.KindFillIn
			q.FillIn = &domain.FillInPayload{Answer: str(raw, "answer", "correctAnswer", "correct")}
			break
		}
		q.Blanks = &domain.BlanksPayload{Answers: answers}
	case kind == domain.KindMatching:
		q.Matching = &domain.MatchingPayload{Pairs: pairs(raw)}
	case kind == domain.KindSentence:
		q.Sentence = sentencePayload(raw)
	case kind == domain.KindMicroSim:
		q.MicroSim = microSimPayload(raw)
	}

	if err := q.Validate(); err != nil {
		slog.Debug("skipping malformed question", "id", q.ID, "error", err)
		return domain.Question{}, false
	}
	return q, true
}

// options accepts either a list of strings or a list of {id, text} objects.
// String options get letter ids in order.
func options(raw map[string]any, keys ...string) []domain.Option {
	for _, k := range keys {
		list, ok := raw[k].([]any)
		if !ok {
			continue
		}
		out := make([]domain.Option, 0, len(list))
		for i, v := range list {
			id := optionID(i)
			switch t := v.(type) {
			case string:
				out = append(out, domain.Option{ID: id, Text: t})
			case map[string]any:
				if oid := str(t, "id", "key"); oid != "" {
					id = oid
				}
				out = append(out, domain.Option{ID: id, Text: str(t, "text", "label", "value")})
			}
		}
		return out
	}
	return nil
}

func optionID(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("o%d", i+1)
}

func choicePayload(raw map[string]any, kind domain.QuestionKind) *domain.ChoicePayload {
	opts := options(raw, "options", "choices")
	if kind == domain.KindTrueFalse && len(opts) == 0 {
		opts = []domain.Option{{ID: "true", Text: "True"}, {ID: "false", Text: "False"}}
	}
	return &domain.ChoicePayload{Options: opts, CorrectID: correctOptionID(raw, opts)}
}

// correctOptionID resolves the correct answer, which authors reference by
// option id, by option text, or by zero-based index.
func correctOptionID(raw map[string]any, opts []domain.Option) string {
	correct := strings.TrimSpace(str(raw, "correctAnswer", "correct", "answer", "correctOptionId"))
	for _, o := range opts {
		if o.ID == correct {
			return o.ID
		}
	}
	for _, o := range opts {
		if correct != "" && strings.EqualFold(strings.TrimSpace(o.Text), correct) {
			return o.ID
		}
	}
	if idx, err := strconv.Atoi(correct); err == nil && idx >= 0 && idx < len(opts) {
		return opts[idx].ID
	}
	if _, ok := raw["correctIndex"]; ok {
		if idx := num(raw, "correctIndex"); idx >= 0 && idx < len(opts) {
			return opts[idx].ID
		}
	}
	return correct
}

// pairs accepts a list of {term, definition} objects (or left/right) or a
// single term-to-definition mapping.
func pairs(raw map[string]any) []domain.Pair {
	var out []domain.Pair
	for _, p := range objects(raw, "pairs", "matches") {
		term := str(p, "term", "left", "word")
		def := str(p, "definition", "right", "meaning", "match")
		if term == "" || def == "" {
			continue
		}
		out = append(out, domain.Pair{Term: term, Definition: def})
	}
	if len(out) > 0 {
		return out
	}

	if m, ok := raw["pairs"].(map[string]any); ok {
		for term, v := range m {
			if def, ok := v.(string); ok && def != "" {
				out = append(out, domain.Pair{Term: term, Definition: def})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	}
	return out
}

func sentencePayload(raw map[string]any) *domain.SentencePayload {
	sentence := str(raw, "correctSentence", "correct_sentence", "correctAnswer", "answer")
	words := strs(raw, "words", "wordBank", "options")
	if len(words) == 0 && sentence != "" {
		words = strings.Fields(sentence)
	}
	return &domain.SentencePayload{Words: words, CorrectSentence: sentence}
}

func microSimPayload(raw map[string]any) *domain.MicroSimPayload {
	var steps []domain.SimStep
	for _, s := range objects(raw, "steps", "dialogue") {
		step := domain.SimStep{
			Speaker: str(s, "speaker", "character"),
			Prompt:  str(s, "prompt", "message", "question", "text"),
			Options: options(s, "options", "choices"),
			Correct: str(s, "correct", "correctAnswer", "answer"),
		}
		// A correct value naming an option id is resolved to its text.
		for _, o := range step.Options {
			if o.ID == step.Correct && o.Text != "" {
				step.Correct = o.Text
				break
			}
		}
		steps = append(steps, step)
	}
	return &domain.MicroSimPayload{Steps: steps}
}
