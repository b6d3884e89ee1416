package session

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/answer"
	"github.com/felixgeelhaar/cadence/internal/domain"
)

// NewState builds the initial state for a question sequence and prepares
// the first question.
func NewState(lessonID string, questions []domain.Question, seed uint64, timings Timings) State {
	s := State{
		LessonID:  lessonID,
		Questions: questions,
		Order:     make([]int, len(questions)),
		Phase:     PhaseAnswering,
		Seed:      seed,
		Timings:   timings,
	}
	for i := range questions {
		s.Order[i] = i
	}
	if len(questions) == 0 {
		s.Phase = PhaseComplete
		s.Score = &Score{}
		return s
	}
	return s.prepare()
}

// Reduce applies one event and returns the next state together with the
// side effects the caller must carry out. Events that do not apply in the
// current phase return the state unchanged and no effects.
func Reduce(s State, ev Event) (State, []Effect) {
	if ev.Type == EventClearFlash {
		if s.Input.WrongFlash == nil {
			return s, nil
		}
		s = s.clone()
		s.Input.WrongFlash = nil
		return s, nil
	}

	switch ev.Type {
	case EventCheck:
		return check(s)
	case EventContinue:
		if s.Phase != PhaseChecked {
			return s, nil
		}
		s = s.clone()
		s.Phase = PhaseAdvancing
		return s, []Effect{{Type: EffectScheduleAdvance, Delay: s.Timings.Advance}}
	case EventAdvance:
		if s.Phase != PhaseAdvancing {
			return s, nil
		}
		return advance(s.clone())
	}

	if s.Phase != PhaseAnswering {
		return s, nil
	}
	q, ok := s.Current()
	if !ok {
		return s, nil
	}
	return input(s.clone(), q, ev)
}

// input applies answer-editing events for the current question.
func input(s State, q domain.Question, ev Event) (State, []Effect) {
	switch {
	case ev.Type == EventSelectOption && q.Choice != nil:
		if _, ok := answer.OptionText(q.Choice.Options, ev.OptionID); ok {
			s.Input.SelectedOption = ev.OptionID
		}

	case ev.Type == EventFillIn && q.FillIn != nil:
		s.Input.FillIn = ev.Text

	case ev.Type == EventSetBlank && q.Blanks != nil:
		if ev.Index >= 0 && ev.Index < len(s.Input.Blanks) {
			s.Input.Blanks[ev.Index] = ev.Text
		}

	case ev.Type == EventSelectWord && q.Sentence != nil:
		i := ev.Index
		if i >= 0 && i < len(s.Input.AvailableWords) {
			s.Input.SelectedWords = append(s.Input.SelectedWords, s.Input.AvailableWords[i])
			s.Input.AvailableWords = append(s.Input.AvailableWords[:i], s.Input.AvailableWords[i+1:]...)
		}

	case ev.Type == EventRemoveWord && q.Sentence != nil:
		i := ev.Index
		if i >= 0 && i < len(s.Input.SelectedWords) {
			s.Input.AvailableWords = append(s.Input.AvailableWords, s.Input.SelectedWords[i])
			s.Input.SelectedWords = append(s.Input.SelectedWords[:i], s.Input.SelectedWords[i+1:]...)
		}

	case ev.Type == EventSelectStepOption && q.MicroSim != nil:
		if _, ok := answer.OptionText(s.Options, ev.OptionID); ok {
			s.Input.StepOption = ev.OptionID
		}

	case ev.Type == EventMatch && q.Matching != nil:
		return match(s, q, ev)
	}
	return s, nil
}

// match handles a term/definition attempt. A wrong attempt only flashes;
// the matched pairs are never touched by it.
func match(s State, q domain.Question, ev Event) (State, []Effect) {
	term := canonicalTerm(q, ev.Term)
	if _, done := s.Input.Matched[term]; done {
		return s, nil
	}

	if !answer.CheckPair(q, ev.Term, ev.Definition) {
		s.Input.WrongFlash = &domain.Pair{Term: ev.Term, Definition: ev.Definition}
		s.Input.Mistakes++
		return s, []Effect{{Type: EffectScheduleClearFlash, Delay: s.Timings.Flash}}
	}

	if s.Input.Matched == nil {
		s.Input.Matched = make(map[string]string)
	}
	s.Input.Matched[term] = ev.Definition
	s.Input.WrongFlash = nil

	if !answer.MatchingComplete(q, s.Input.Matched) {
		return s, nil
	}

	// A fully matched question scores as one unit and moves on by itself.
	effects := s.record(true, "")
	s.Phase = PhaseAdvancing
	return s, append(effects, Effect{Type: EffectScheduleAdvance, Delay: s.Timings.MatchAdvance})
}

func canonicalTerm(q domain.Question, term string) string {
	for _, p := range q.Matching.Pairs {
		if answer.Normalize(p.Term) == answer.Normalize(term) {
			return p.Term
		}
	}
	return term
}

// CanCheck reports whether the current input is complete enough to check.
func CanCheck(s State) bool {
	if s.Phase != PhaseAnswering {
		return false
	}
	q, ok := s.Current()
	if !ok {
		return false
	}
	switch {
	case q.Choice != nil:
		return s.Input.SelectedOption != ""
	case q.FillIn != nil:
		return strings.TrimSpace(s.Input.FillIn) != ""
	case q.Blanks != nil:
		for _, b := range s.Input.Blanks {
			if strings.TrimSpace(b) == "" {
				return false
			}
		}
		return len(s.Input.Blanks) > 0
	case q.Sentence != nil:
		return len(s.Input.SelectedWords) > 0
	case q.MicroSim != nil:
		return s.Input.StepOption != ""
	}
	return false
}

// check evaluates the current input once. Any phase other than answering
// makes it a no-op, which keeps a repeated check from re-applying effects.
func check(s State) (State, []Effect) {
	if !CanCheck(s) {
		return s, nil
	}
	q, _ := s.Current()
	s = s.clone()

	var correct bool
	var given string
	switch {
	case q.Choice != nil:
		correct = answer.CheckChoice(q, s.Input.SelectedOption)
		given, _ = answer.OptionText(q.Choice.Options, s.Input.SelectedOption)
	case q.FillIn != nil:
		correct = answer.CheckFillIn(q, s.Input.FillIn)
		given = s.Input.FillIn
	case q.Blanks != nil:
		correct = answer.CheckBlanks(q, s.Input.Blanks)
		given = strings.Join(s.Input.Blanks, ", ")
	case q.Sentence != nil:
		correct = answer.CheckSentence(q, s.Input.SelectedWords)
		given = strings.Join(s.Input.SelectedWords, " ")
	case q.MicroSim != nil:
		return checkStep(s, q)
	}

	s.Phase = PhaseChecked
	s.LastCorrect = &correct
	return s, s.record(correct, given)
}

// checkStep evaluates one micro-sim step. The question is recorded wrong
// at its first missed step and recorded correct only when the last step
// resolves with no step missed.
func checkStep(s State, q domain.Question) (State, []Effect) {
	step, _ := s.CurrentStep()
	given, _ := answer.OptionText(s.Options, s.Input.StepOption)
	correct := answer.CheckStep(step, given)

	s.Phase = PhaseChecked
	s.LastCorrect = &correct

	switch {
	case !correct && !s.StepMissed:
		s.StepMissed = true
		return s, s.record(false, given)
	case correct && !s.StepMissed && answer.StepIsLast(q, s.Step):
		return s, s.record(true, "")
	}
	return s, nil
}

// record applies scoring for a resolved question and returns the
// progression effects. Only primary-pass results count toward the score.
func (s *State) record(correct bool, given string) []Effect {
	if correct {
		if s.Retrying {
			return nil
		}
		s.CorrectAnswers++
		if s.AlreadyCompleted || s.Review {
			return nil
		}
		return []Effect{{Type: EffectAwardXP, LessonID: s.LessonID, Amount: domain.XPPerCorrect}}
	}

	q, _ := s.Current()
	s.WrongAnswers = append(s.WrongAnswers, WrongAnswer{
		Index:         s.CurrentIndex(),
		QuestionID:    q.ID,
		UserAnswer:    given,
		CorrectAnswer: q.CorrectAnswer(),
	})
	return []Effect{
		{Type: EffectLoseHeart, LessonID: s.LessonID},
		{Type: EffectAwardXP, LessonID: s.LessonID, Amount: -domain.XPPenalty},
	}
}

// advance moves to the next micro-sim step, the next question, the retry
// round, or completion.
func advance(s State) (State, []Effect) {
	if q, ok := s.Current(); ok && q.MicroSim != nil && !answer.StepIsLast(q, s.Step) {
		s.Step++
		s.Input = Input{}
		s.Phase = PhaseAnswering
		s.LastCorrect = nil
		s.Options = s.shuffleOptions(q.MicroSim.Steps[s.Step].Options)
		return s, nil
	}

	s.Cursor++
	if s.Cursor < len(s.Order) {
		return s.prepare(), nil
	}

	// The retry round replays the wrong answers once. Entering it clears
	// the list, so a miss during the retry cannot start another round.
	if len(s.WrongAnswers) > 0 && !s.Retrying {
		s.Retrying = true
		s.Order = retryOrder(s.WrongAnswers)
		s.WrongAnswers = nil
		s.Cursor = 0
		return s.prepare(), nil
	}

	s.Phase = PhaseComplete
	s.LastCorrect = nil
	s.Input = Input{}
	s.Options = nil
	score := firstTryScore(s.CorrectAnswers, len(s.Questions))
	s.Score = &score
	return s, []Effect{{Type: EffectCompleteLesson, LessonID: s.LessonID, Score: &score}}
}

func retryOrder(wrong []WrongAnswer) []int {
	seen := make(map[int]bool, len(wrong))
	order := make([]int, 0, len(wrong))
	for _, w := range wrong {
		if !seen[w.Index] {
			seen[w.Index] = true
			order = append(order, w.Index)
		}
	}
	return order
}

func firstTryScore(correct, total int) Score {
	sc := Score{Correct: correct, Total: total}
	if total > 0 {
		sc.Percentage = int(math.Round(float64(correct) * 100 / float64(total)))
	}
	return sc
}

// prepare resets all per-question state for the question under the cursor
// and shuffles its options.
func (s State) prepare() State {
	s.Phase = PhaseAnswering
	s.Step = 0
	s.StepMissed = false
	s.LastCorrect = nil
	s.Input = Input{}
	s.Options = nil

	q, ok := s.Current()
	if !ok {
		return s
	}
	switch {
	case q.Choice != nil:
		s.Options = s.shuffleOptions(q.Choice.Options)
	case q.Blanks != nil:
		s.Input.Blanks = make([]string, len(q.Blanks.Answers))
	case q.Sentence != nil:
		s.Input.AvailableWords = s.shuffleStrings(q.Sentence.Words)
	case q.Matching != nil:
		defs := make([]string, len(q.Matching.Pairs))
		for i, p := range q.Matching.Pairs {
			defs[i] = p.Definition
		}
		s.Input.Definitions = s.shuffleStrings(defs)
	case q.MicroSim != nil:
		s.Options = s.shuffleOptions(q.MicroSim.Steps[0].Options)
	}
	return s
}

// rng derives a deterministic source from the session seed and the number
// of shuffles done so far, so a persisted state replays identically.
func (s *State) rng() *rand.Rand {
	s.Shuffles++
	return rand.New(rand.NewPCG(s.Seed, s.Shuffles))
}

func (s *State) shuffleOptions(in []domain.Option) []domain.Option {
	out := append([]domain.Option(nil), in...)
	r := s.rng()
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (s *State) shuffleStrings(in []string) []string {
	out := append([]string(nil), in...)
	r := s.rng()
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
