package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
)

// cmdPlay starts a lesson and remembers it as the current session
func cmdPlay(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("lesson ID required (see 'cadence lessons'), or --review")
	}

	body := map[string]any{}
	if args[0] == "--review" {
		body["review"] = true
	} else {
		body["lesson_id"] = args[0]
		if len(args) > 1 {
			part, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid part %q", args[1])
			}
			body["part"] = part
		}
	}

	var view session.View
	if err := call(http.MethodPost, "/v1/sessions", body, &view); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return fmt.Errorf("%w (run 'cadence refill' to restore hearts)", err)
		}
		return err
	}

	state, err := openCLIState()
	if err != nil {
		return err
	}
	if err := state.setCurrent(view.ID); err != nil {
		return fmt.Errorf("remember session: %w", err)
	}

	renderView(os.Stdout, view)
	return nil
}

// cmdShow prints the current question
func cmdShow() error {
	view, err := currentView()
	if err != nil {
		return err
	}
	renderView(os.Stdout, view)
	return nil
}

// cmdAnswer turns command-line input into answer events for the current
// question
func cmdAnswer(args []string) error {
	view, err := currentView()
	if err != nil {
		return err
	}
	if view.Question == nil {
		return fmt.Errorf("nothing to answer")
	}

	events, err := parseAnswer(view.Question, args)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := call(http.MethodPost, "/v1/sessions/"+view.ID+"/events", ev, &view); err != nil {
			return err
		}
	}

	renderView(os.Stdout, view)
	return nil
}

// cmdCheck checks the current answer
func cmdCheck() error {
	return sessionAction("check")
}

// cmdNext moves to the next question
func cmdNext() error {
	return sessionAction("next")
}

// cmdQuit abandons the current lesson
func cmdQuit() error {
	state, err := openCLIState()
	if err != nil {
		return err
	}
	id, err := state.current()
	if err != nil {
		return err
	}
	if err := call(http.MethodDelete, "/v1/sessions/"+id, nil, nil); err != nil {
		return err
	}
	if err := state.clear(); err != nil {
		return err
	}
	fmt.Println("Lesson ended.")
	return nil
}

func sessionAction(action string) error {
	state, err := openCLIState()
	if err != nil {
		return err
	}
	id, err := state.current()
	if err != nil {
		return err
	}

	var view session.View
	if err := call(http.MethodPost, "/v1/sessions/"+id+"/"+action, nil, &view); err != nil {
		return err
	}
	if view.Status != session.StatusActive {
		_ = state.clear()
	}

	renderView(os.Stdout, view)
	return nil
}

func currentView() (session.View, error) {
	state, err := openCLIState()
	if err != nil {
		return session.View{}, err
	}
	id, err := state.current()
	if err != nil {
		return session.View{}, err
	}

	var view session.View
	if err := call(http.MethodGet, "/v1/sessions/"+id, nil, &view); err != nil {
		return session.View{}, err
	}
	return view, nil
}

// parseAnswer maps arguments to input events for the question's kind.
// Options and words are addressed by their 1-based number as shown.
func parseAnswer(q *session.QuestionView, args []string) ([]session.Event, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("answer required")
	}

	switch {
	case q.Kind.IsChoice():
		id, err := pickOption(q.Options, args[0])
		if err != nil {
			return nil, err
		}
		return []session.Event{{Type: session.EventSelectOption, OptionID: id}}, nil

	case q.Kind == domain.KindMicroSim:
		id, err := pickOption(q.Options, args[0])
		if err != nil {
			return nil, err
		}
		return []session.Event{{Type: session.EventSelectStepOption, OptionID: id}}, nil

	case q.Kind == domain.KindFillIn:
		return []session.Event{{Type: session.EventFillIn, Text: strings.Join(args, " ")}}, nil

	case q.Kind == domain.KindFillInBlank:
		if len(args) > len(q.Blanks) {
			return nil, fmt.Errorf("%d answers for %d blanks", len(args), len(q.Blanks))
		}
		events := make([]session.Event, 0, len(args))
		for i, text := range args {
			events = append(events, session.Event{Type: session.EventSetBlank, Index: i, Text: text})
		}
		return events, nil

	case q.Kind == domain.KindMatching:
		term, def, ok := strings.Cut(strings.Join(args, " "), "=")
		if !ok {
			return nil, fmt.Errorf("use: cadence answer <term> = <definition>")
		}
		return []session.Event{{
			Type:       session.EventMatch,
			Term:       strings.TrimSpace(term),
			Definition: strings.TrimSpace(def),
		}}, nil

	case q.Kind == domain.KindSentence:
		if args[0] == "-r" {
			if len(args) < 2 {
				return nil, fmt.Errorf("word number required after -r")
			}
			n, err := position(args[1], len(q.Sentence))
			if err != nil {
				return nil, err
			}
			return []session.Event{{Type: session.EventRemoveWord, Index: n}}, nil
		}
		// Picking a word shrinks the list, so later numbers shift left.
		picked := make([]int, 0, len(args))
		for _, arg := range args {
			n, err := position(arg, len(q.Words))
			if err != nil {
				return nil, err
			}
			picked = append(picked, n)
		}
		events := make([]session.Event, 0, len(picked))
		for i, n := range picked {
			shift := 0
			for _, prev := range picked[:i] {
				if prev < n {
					shift++
				}
			}
			events = append(events, session.Event{Type: session.EventSelectWord, Index: n - shift})
		}
		return events, nil
	}

	return nil, fmt.Errorf("unsupported question type %q", q.Kind)
}

// pickOption resolves a 1-based option number or an option id.
func pickOption(opts []domain.Option, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(opts) {
			return "", fmt.Errorf("option %d out of range (1-%d)", n, len(opts))
		}
		return opts[n-1].ID, nil
	}
	for _, o := range opts {
		if strings.EqualFold(o.ID, arg) {
			return o.ID, nil
		}
	}
	return "", fmt.Errorf("unknown option %q", arg)
}

// position converts a 1-based number to an index below size.
func position(arg string, size int) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > size {
		return 0, fmt.Errorf("invalid word number %q (1-%d)", arg, size)
	}
	return n - 1, nil
}

// renderView prints a session the way a learner reads it.
func renderView(w io.Writer, v session.View) {
	if v.Status == session.StatusCompleted {
		fmt.Fprintln(w, "Lesson complete!")
		if v.Score != nil {
			fmt.Fprintf(w, "Score: %d/%d %s %d%%\n", v.Score.Correct, v.Score.Total,
				renderProgressBar(float64(v.Score.Percentage)/100, 20), v.Score.Percentage)
		}
		if v.Badge != nil {
			fmt.Fprintf(w, "🔥 %s\n", v.Badge.Message)
		}
		return
	}
	if v.Status == session.StatusAbandoned {
		fmt.Fprintln(w, "Lesson ended.")
		return
	}

	header := fmt.Sprintf("%s  %d/%d", v.LessonID, v.Done+1, v.Total)
	if v.Review {
		header = "Review  " + fmt.Sprintf("%d/%d", v.Done+1, v.Total)
	}
	if v.TotalParts > 1 {
		header += fmt.Sprintf("  (part %d of %d)", v.Part, v.TotalParts)
	}
	if v.Retrying {
		header += "  retry"
	}
	fmt.Fprintln(w, header)

	q := v.Question
	if q == nil {
		return
	}
	if q.Scene != "" {
		fmt.Fprintf(w, "\n%s\n", q.Scene)
	}
	if q.Steps > 0 {
		fmt.Fprintf(w, "\nStep %d of %d", q.Step, q.Steps)
		if q.Speaker != "" {
			fmt.Fprintf(w, " - %s", q.Speaker)
		}
		fmt.Fprintln(w)
		if q.StepPrompt != "" {
			fmt.Fprintln(w, q.StepPrompt)
		}
	}
	fmt.Fprintf(w, "\n%s\n\n", q.Prompt)

	for i, o := range q.Options {
		mark := " "
		if o.ID == q.Selected {
			mark = ">"
		}
		fmt.Fprintf(w, "%s %d. %s\n", mark, i+1, o.Text)
	}
	if q.Kind == domain.KindFillIn && q.FillIn != "" {
		fmt.Fprintf(w, "Your answer: %s\n", q.FillIn)
	}
	for i, b := range q.Blanks {
		if b == "" {
			b = "___"
		}
		fmt.Fprintf(w, "  blank %d: %s\n", i+1, b)
	}
	if len(q.Terms) > 0 {
		for _, t := range q.Terms {
			if def, ok := q.Matched[t]; ok {
				fmt.Fprintf(w, "  ✓ %s = %s\n", t, def)
			} else {
				fmt.Fprintf(w, "    %s\n", t)
			}
		}
		fmt.Fprintf(w, "Definitions: %s\n", strings.Join(q.Definitions, " | "))
		if q.WrongFlash != nil {
			fmt.Fprintf(w, "✗ %s is not %s\n", q.WrongFlash.Term, q.WrongFlash.Definition)
		}
	}
	if q.Kind == domain.KindSentence {
		fmt.Fprintf(w, "Sentence: %s\n", strings.Join(q.Sentence, " "))
		words := make([]string, len(q.Words))
		for i, word := range q.Words {
			words[i] = fmt.Sprintf("%d:%s", i+1, word)
		}
		fmt.Fprintf(w, "Words: %s\n", strings.Join(words, "  "))
	}

	if v.Phase == session.PhaseChecked && v.LastCorrect != nil {
		fmt.Fprintln(w)
		if *v.LastCorrect {
			fmt.Fprintln(w, "✓ Correct!")
		} else {
			fmt.Fprintf(w, "✗ Not quite. Answer: %s\n", v.CorrectAnswer)
		}
		if v.Explanation != "" {
			fmt.Fprintln(w, v.Explanation)
		}
		fmt.Fprintln(w, "Run 'cadence next' to continue.")
	}
}
