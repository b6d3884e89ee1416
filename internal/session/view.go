package session

import "github.com/felixgeelhaar/cadence/internal/domain"

// View is the client-facing projection of a session. It never exposes the
// expected answer of a question that has not been checked yet.
type View struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Status     Status        `json:"status"`
	LessonID   string        `json:"lesson_id"`
	Part       int           `json:"part,omitempty"`
	TotalParts int           `json:"total_parts,omitempty"`
	Review     bool          `json:"review,omitempty"`
	Phase      Phase         `json:"phase"`
	Retrying   bool          `json:"retrying"`
	Done       int           `json:"done"`
	Total      int           `json:"total"`
	Question   *QuestionView `json:"question,omitempty"`

	LastCorrect   *bool  `json:"last_correct,omitempty"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
	Explanation   string `json:"explanation,omitempty"`

	CorrectAnswers int           `json:"correct_answers"`
	Mistakes       int           `json:"mistakes"`
	Score          *Score        `json:"score,omitempty"`
	Badge          *domain.Badge `json:"badge,omitempty"`
}

// QuestionView is the current question with the learner's input so far.
type QuestionView struct {
	ID     string              `json:"id"`
	Kind   domain.QuestionKind `json:"kind"`
	Prompt string              `json:"prompt"`
	Scene  string              `json:"scene,omitempty"`

	Options []domain.Option `json:"options,omitempty"`
	Blanks  []string        `json:"blanks,omitempty"`

	Terms       []string          `json:"terms,omitempty"`
	Definitions []string          `json:"definitions,omitempty"`
	Matched     map[string]string `json:"matched,omitempty"`
	WrongFlash  *domain.Pair      `json:"wrong_flash,omitempty"`

	Words    []string `json:"words,omitempty"`
	Sentence []string `json:"sentence,omitempty"`

	Step       int    `json:"step,omitempty"`
	Steps      int    `json:"steps,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	StepPrompt string `json:"step_prompt,omitempty"`

	Selected string `json:"selected,omitempty"`
	FillIn   string `json:"fill_in,omitempty"`
}

// View builds the client projection of s.
func (s *Session) View() View {
	st := s.State
	done, total := st.Progress()
	v := View{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         s.Status,
		LessonID:       st.LessonID,
		Part:           st.Part,
		TotalParts:     st.TotalParts,
		Review:         st.Review,
		Phase:          st.Phase,
		Retrying:       st.Retrying,
		Done:           done,
		Total:          total,
		LastCorrect:    st.LastCorrect,
		CorrectAnswers: st.CorrectAnswers,
		Mistakes:       len(st.WrongAnswers),
		Score:          st.Score,
		Badge:          s.Badge,
	}

	q, ok := st.Current()
	if !ok {
		return v
	}
	v.Question = questionView(st, q)

	if st.Phase == PhaseChecked && st.LastCorrect != nil {
		v.Explanation = q.Explanation
		if !*st.LastCorrect {
			v.CorrectAnswer = q.CorrectAnswer()
			if step, ok := st.CurrentStep(); ok {
				v.CorrectAnswer = step.Correct
			}
		}
	}
	return v
}

func questionView(st State, q domain.Question) *QuestionView {
	in := st.Input
	qv := &QuestionView{
		ID:       q.ID,
		Kind:     q.Kind,
		Prompt:   q.Prompt,
		Scene:    q.Scene,
		Options:  st.Options,
		Selected: in.SelectedOption,
		FillIn:   in.FillIn,
		Blanks:   in.Blanks,
	}

	switch {
	case q.Matching != nil:
		for _, p := range q.Matching.Pairs {
			qv.Terms = append(qv.Terms, p.Term)
		}
		qv.Definitions = in.Definitions
		qv.Matched = in.Matched
		qv.WrongFlash = in.WrongFlash
	case q.Sentence != nil:
		qv.Words = in.AvailableWords
		qv.Sentence = in.SelectedWords
	case q.MicroSim != nil:
		qv.Step = st.Step + 1
		qv.Steps = len(q.MicroSim.Steps)
		qv.Selected = in.StepOption
		if step, ok := st.CurrentStep(); ok {
			qv.Speaker = step.Speaker
			qv.StepPrompt = step.Prompt
		}
	}
	return qv
}
