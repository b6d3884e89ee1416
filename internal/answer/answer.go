// Package answer holds the per-kind answer checks. Every comparison is made
// on trimmed, lower-cased text and the result is binary.
package answer

import (
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Normalize trims surrounding whitespace and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// CheckChoice reports whether optionID is the correct option.
func CheckChoice(q domain.Question, optionID string) bool {
	if q.Choice == nil || strings.TrimSpace(optionID) == "" {
		return false
	}
	return equal(optionID, q.Choice.CorrectID)
}

// CheckFillIn compares a single-blank answer.
func CheckFillIn(q domain.Question, text string) bool {
	if q.FillIn == nil {
		return false
	}
	return equal(text, q.FillIn.Answer)
}

// CheckBlanks compares answers position by position. Every blank must match
// the expected answer at the same index.
func CheckBlanks(q domain.Question, answers []string) bool {
	if q.Blanks == nil || len(answers) != len(q.Blanks.Answers) {
		return false
	}
	for i, want := range q.Blanks.Answers {
		if !equal(answers[i], want) {
			return false
		}
	}
	return true
}

// CheckSentence joins the selected words with single spaces and compares
// the result to the canonical sentence.
func CheckSentence(q domain.Question, words []string) bool {
	if q.Sentence == nil || len(words) == 0 {
		return false
	}
	return equal(strings.Join(words, " "), q.Sentence.CorrectSentence)
}

// CheckPair reports whether term and definition belong together.
func CheckPair(q domain.Question, term, definition string) bool {
	if q.Matching == nil {
		return false
	}
	for _, p := range q.Matching.Pairs {
		if equal(p.Term, term) {
			return equal(p.Definition, definition)
		}
	}
	return false
}

// MatchingComplete reports whether every pair has been matched.
func MatchingComplete(q domain.Question, matched map[string]string) bool {
	if q.Matching == nil {
		return false
	}
	return len(matched) == len(q.Matching.Pairs)
}

// CheckStep compares the chosen option text to the step's correct text.
func CheckStep(step domain.SimStep, optionText string) bool {
	return equal(optionText, step.Correct)
}

// StepIsLast reports whether step index i is the final step of a micro-sim.
func StepIsLast(q domain.Question, i int) bool {
	if q.MicroSim == nil {
		return true
	}
	return i >= len(q.MicroSim.Steps)-1
}

// OptionText looks up an option's text by id.
func OptionText(options []domain.Option, id string) (string, bool) {
	for _, o := range options {
		if o.ID == id {
			return o.Text, true
		}
	}
	return "", false
}
