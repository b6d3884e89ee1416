package domain

import (
	"fmt"
	"strings"
)

// QuestionKind identifies which payload a Question carries.
type QuestionKind string

const (
	KindMultipleChoice  QuestionKind = "multiple-choice"
	KindScenario        QuestionKind = "scenario"
	KindReverseScenario QuestionKind = "reverse-scenario"
	KindTrueFalse       QuestionKind = "true-false"
	KindFillIn          QuestionKind = "fill-in"
	KindFillInBlank     QuestionKind = "fill-in-blank"
	KindMatching        QuestionKind = "matching"
	KindSentence        QuestionKind = "sentence-building"
	KindMicroSim        QuestionKind = "micro-sim"
)

var kindAliases = map[string]QuestionKind{
	"multiple-choice":   KindMultipleChoice,
	"multiple_choice":   KindMultipleChoice,
	"scenario":          KindScenario,
	"reverse-scenario":  KindReverseScenario,
	"true-false":        KindTrueFalse,
	"fill-in":           KindFillIn,
	"fill-in-blank":     KindFillInBlank,
	"matching":          KindMatching,
	"sentence-building": KindSentence,
	"build-sentence":    KindSentence,
	"micro-sim":         KindMicroSim,
	"microsim":          KindMicroSim,
}

// ParseKind maps a raw type string, including legacy aliases, to a kind.
func ParseKind(s string) (QuestionKind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// IsChoice reports whether answers are a single selected option id.
func (k QuestionKind) IsChoice() bool {
	switch k {
	case KindMultipleChoice, KindScenario, KindReverseScenario, KindTrueFalse:
		return true
	}
	return false
}

// Option is one selectable answer.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a closed variant: exactly one payload matching Kind is set.
type Question struct {
	ID          string       `json:"id"`
	Kind        QuestionKind `json:"kind"`
	Prompt      string       `json:"prompt"`
	Scene       string       `json:"scene,omitempty"`
	Explanation string       `json:"explanation,omitempty"`

	Choice   *ChoicePayload   `json:"choice,omitempty"`
	FillIn   *FillInPayload   `json:"fill_in,omitempty"`
	Blanks   *BlanksPayload   `json:"blanks,omitempty"`
	Matching *MatchingPayload `json:"matching,omitempty"`
	Sentence *SentencePayload `json:"sentence,omitempty"`
	MicroSim *MicroSimPayload `json:"micro_sim,omitempty"`
}

// ChoicePayload backs the multiple-choice and scenario family.
type ChoicePayload struct {
	Options   []Option `json:"options"`
	CorrectID string   `json:"correct_id"`
}

// FillInPayload is the legacy single-blank question.
type FillInPayload struct {
	Answer string `json:"answer"`
}

// BlanksPayload holds ordered expected answers, one per blank.
type BlanksPayload struct {
	Answers []string `json:"answers"`
}

// Pair is one term/definition match.
type Pair struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// MatchingPayload holds the pairs to be matched.
type MatchingPayload struct {
	Pairs []Pair `json:"pairs"`
}

// SentencePayload holds the word pool and the canonical sentence.
type SentencePayload struct {
	Words           []string `json:"words"`
	CorrectSentence string   `json:"correct_sentence"`
}

// SimStep is one dialogue step of a micro-sim. Correct holds option text.
type SimStep struct {
	Speaker string   `json:"speaker,omitempty"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Correct string   `json:"correct"`
}

// MicroSimPayload is an ordered list of dialogue steps.
type MicroSimPayload struct {
	Steps []SimStep `json:"steps"`
}

// payloadCount returns how many payloads are populated.
func (q Question) payloadCount() int {
	n := 0
	for _, set := range []bool{
		q.Choice != nil, q.FillIn != nil, q.Blanks != nil,
		q.Matching != nil, q.Sentence != nil, q.MicroSim != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that exactly the payload matching Kind is populated and
// that the payload can be answered correctly.
func (q Question) Validate() error {
	if q.payloadCount() != 1 {
		return fmt.Errorf("%w: %s has %d payloads", ErrInvalidQuestion, q.ID, q.payloadCount())
	}

	var ok bool
	switch {
	case q.Kind.IsChoice():
		ok = q.Choice != nil
	case q.Kind == KindFillIn:
		ok = q.FillIn != nil
	case q.Kind == KindFillInBlank:
		ok = q.Blanks != nil && len(q.Blanks.Answers) > 0
	case q.Kind == KindMatching:
		ok = q.Matching != nil && len(q.Matching.Pairs) > 0
	case q.Kind == KindSentence:
		ok = q.Sentence != nil
	case q.Kind == KindMicroSim:
		ok = q.MicroSim != nil && len(q.MicroSim.Steps) > 0
	}
	if !ok {
		return fmt.Errorf("%w: %s payload does not match kind %q", ErrInvalidQuestion, q.ID, q.Kind)
	}

	if reason := q.unanswerable(); reason != "" {
		return fmt.Errorf("%w: %s %s", ErrInvalidQuestion, q.ID, reason)
	}
	return nil
}

// unanswerable describes why a well-formed payload still cannot be
// answered correctly, or returns "".
func (q Question) unanswerable() string {
	switch {
	case q.Choice != nil:
		if len(q.Choice.Options) == 0 {
			return "has no options"
		}
		if !hasOptionID(q.Choice.Options, q.Choice.CorrectID) {
			return fmt.Sprintf("correct answer %q is not an option", q.Choice.CorrectID)
		}
	case q.Sentence != nil:
		if len(q.Sentence.Words) == 0 {
			return "has no words"
		}
		if strings.TrimSpace(q.Sentence.CorrectSentence) == "" {
			return "has no correct sentence"
		}
	case q.Matching != nil:
		seen := make(map[string]bool, len(q.Matching.Pairs))
		for _, p := range q.Matching.Pairs {
			term := fold(p.Term)
			if seen[term] {
				return fmt.Sprintf("repeats term %q", p.Term)
			}
			seen[term] = true
		}
	case q.MicroSim != nil:
		for i, step := range q.MicroSim.Steps {
			if len(step.Options) == 0 {
				return fmt.Sprintf("step %d has no options", i+1)
			}
			if !hasOptionText(step.Options, step.Correct) {
				return fmt.Sprintf("step %d correct answer %q is not an option", i+1, step.Correct)
			}
		}
	}
	return ""
}

func hasOptionID(opts []Option, id string) bool {
	for _, o := range opts {
		if id != "" && fold(o.ID) == fold(id) {
			return true
		}
	}
	return false
}

func hasOptionText(opts []Option, text string) bool {
	for _, o := range opts {
		if text != "" && fold(o.Text) == fold(text) {
			return true
		}
	}
	return false
}

// fold matches the comparison answers are checked with.
func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CorrectAnswer renders the expected answer for review screens.
func (q Question) CorrectAnswer() string {
	switch {
	case q.Choice != nil:
		for _, o := range q.Choice.Options {
			if o.ID == q.Choice.CorrectID {
				return o.Text
			}
		}
		return q.Choice.CorrectID
	case q.FillIn != nil:
		return q.FillIn.Answer
	case q.Blanks != nil:
		return strings.Join(q.Blanks.Answers, ", ")
	case q.Matching != nil:
		parts := make([]string, len(q.Matching.Pairs))
		for i, p := range q.Matching.Pairs {
			parts[i] = p.Term + " = " + p.Definition
		}
		return strings.Join(parts, "; ")
	case q.Sentence != nil:
		return q.Sentence.CorrectSentence
	case q.MicroSim != nil:
		parts := make([]string, len(q.MicroSim.Steps))
		for i, s := range q.MicroSim.Steps {
			parts[i] = s.Correct
		}
		return strings.Join(parts, " / ")
	}
	return ""
}
