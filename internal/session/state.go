package session

import (
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Phase is the position of the exercise state machine.
type Phase string

const (
	PhaseAnswering Phase = "answering"
	PhaseChecked   Phase = "checked"
	PhaseAdvancing Phase = "advancing"
	PhaseComplete  Phase = "complete"
)

// Timings are the deferred transition delays.
type Timings struct {
	Advance      time.Duration `json:"advance"`
	MatchAdvance time.Duration `json:"match_advance"`
	Flash        time.Duration `json:"flash"`
}

// DefaultTimings returns the standard transition delays.
func DefaultTimings() Timings {
	return Timings{
		Advance:      300 * time.Millisecond,
		MatchAdvance: 1000 * time.Millisecond,
		Flash:        600 * time.Millisecond,
	}
}

// Input is the per-question answer state. Only the fields for the current
// question's kind are used; all of it is reset when the cursor moves.
type Input struct {
	SelectedOption string            `json:"selected_option,omitempty"`
	FillIn         string            `json:"fill_in,omitempty"`
	Blanks         []string          `json:"blanks,omitempty"`
	Matched        map[string]string `json:"matched,omitempty"`
	WrongFlash     *domain.Pair      `json:"wrong_flash,omitempty"`
	Mistakes       int               `json:"mistakes,omitempty"`
	Definitions    []string          `json:"definitions,omitempty"`
	SelectedWords  []string          `json:"selected_words,omitempty"`
	AvailableWords []string          `json:"available_words,omitempty"`
	StepOption     string            `json:"step_option,omitempty"`
}

// WrongAnswer records a question answered incorrectly.
type WrongAnswer struct {
	Index         int    `json:"index"`
	QuestionID    string `json:"question_id"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
}

// Score is the first-try result of a lesson pass.
type Score struct {
	Correct    int `json:"correct"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// State is the complete lesson runtime state. It is only changed by Reduce.
type State struct {
	LessonID         string `json:"lesson_id"`
	Part             int    `json:"part,omitempty"`
	TotalParts       int    `json:"total_parts,omitempty"`
	Review           bool   `json:"review,omitempty"`
	AlreadyCompleted bool   `json:"already_completed,omitempty"`

	Questions []domain.Question `json:"questions"`
	Order     []int             `json:"order"`
	Cursor    int               `json:"cursor"`
	Phase     Phase             `json:"phase"`
	Retrying  bool              `json:"retrying"`

	CorrectAnswers int           `json:"correct_answers"`
	WrongAnswers   []WrongAnswer `json:"wrong_answers"`

	// Micro-sim inner cursor and whether any step of it was missed.
	Step       int  `json:"step"`
	StepMissed bool `json:"step_missed,omitempty"`

	Input       Input           `json:"input"`
	Options     []domain.Option `json:"options,omitempty"`
	LastCorrect *bool           `json:"last_correct,omitempty"`
	Score       *Score          `json:"score,omitempty"`

	Seed     uint64  `json:"seed"`
	Shuffles uint64  `json:"shuffles"`
	Timings  Timings `json:"timings"`
}

// Current returns the question under the cursor.
func (s State) Current() (domain.Question, bool) {
	if s.Phase == PhaseComplete || s.Cursor < 0 || s.Cursor >= len(s.Order) {
		return domain.Question{}, false
	}
	idx := s.Order[s.Cursor]
	if idx < 0 || idx >= len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[idx], true
}

// CurrentIndex returns the index into Questions of the current question.
func (s State) CurrentIndex() int {
	if s.Cursor < 0 || s.Cursor >= len(s.Order) {
		return -1
	}
	return s.Order[s.Cursor]
}

// CurrentStep returns the active micro-sim step.
func (s State) CurrentStep() (domain.SimStep, bool) {
	q, ok := s.Current()
	if !ok || q.MicroSim == nil || s.Step >= len(q.MicroSim.Steps) {
		return domain.SimStep{}, false
	}
	return q.MicroSim.Steps[s.Step], true
}

// Progress returns how far the current pass has come.
func (s State) Progress() (done, total int) {
	return s.Cursor, len(s.Order)
}

// clone copies every slice and map Reduce may write to.
func (s State) clone() State {
	s.Order = append([]int(nil), s.Order...)
	s.WrongAnswers = append([]WrongAnswer(nil), s.WrongAnswers...)
	s.Options = append([]domain.Option(nil), s.Options...)
	s.Input.Blanks = append([]string(nil), s.Input.Blanks...)
	s.Input.Definitions = append([]string(nil), s.Input.Definitions...)
	s.Input.SelectedWords = append([]string(nil), s.Input.SelectedWords...)
	s.Input.AvailableWords = append([]string(nil), s.Input.AvailableWords...)
	if s.Input.Matched != nil {
		m := make(map[string]string, len(s.Input.Matched))
		for k, v := range s.Input.Matched {
			m[k] = v
		}
		s.Input.Matched = m
	}
	if s.Input.WrongFlash != nil {
		p := *s.Input.WrongFlash
		s.Input.WrongFlash = &p
	}
	if s.Score != nil {
		sc := *s.Score
		s.Score = &sc
	}
	return s
}
