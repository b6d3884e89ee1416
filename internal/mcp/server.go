package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
	"github.com/felixgeelhaar/cadence/internal/stats"
	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Sessions is the session runtime the tools drive.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Apply(ctx context.Context, id string, ev session.Event) (*session.Session, error)
	Check(ctx context.Context, id string) (*session.Session, error)
	Advance(ctx context.Context, id string) (*session.Session, error)
	End(ctx context.Context, id string) error
}

// Lessons lists the catalog for a user.
type Lessons interface {
	GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error)
}

// Hearts restores a user's hearts.
type Hearts interface {
	RefillHearts(ctx context.Context, userID string) (domain.UserStats, error)
}

// Overviews builds statistics overviews.
type Overviews interface {
	GetOverview(ctx context.Context, userID string) (*stats.Overview, error)
}

var (
	_ Sessions  = (*session.Service)(nil)
	_ Overviews = (*stats.Service)(nil)
)

// Server wraps the MCP server with Cadence functionality
type Server struct {
	mcpServer *server.Server
	sessions  Sessions
	lessons   Lessons
	stats     Overviews
	hearts    Hearts
	userID    string
}

// Config contains configuration for the MCP server
type Config struct {
	Sessions Sessions
	Lessons  Lessons
	Stats    Overviews
	Hearts   Hearts
	UserID   string
}

// NewServer creates a new MCP server for Cadence
func NewServer(cfg Config) *Server {
	s := &Server{
		sessions: cfg.Sessions,
		lessons:  cfg.Lessons,
		stats:    cfg.Stats,
		hearts:   cfg.Hearts,
		userID:   cfg.UserID,
	}
	if s.userID == "" {
		s.userID = "local"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "cadence",
		Version: Version,
	}, server.WithInstructions(`
Cadence runs short gamified lessons: multiple choice, fill-in, blanks,
matching, sentence building and step-by-step micro simulations.

Available tools:
- cadence_lessons: List lessons with their lock and completion state
- cadence_start: Start a lesson (or the review round of past mistakes)
- cadence_answer: Send answer input for the current question
- cadence_check: Check the current answer
- cadence_continue: Move on to the next question
- cadence_status: Show the current question and progress
- cadence_stats: Show hearts, XP, streak and lesson statistics
- cadence_stop: End a session
- cadence_refill: Refill hearts when none are left

Flow: cadence_start, then for each question cadence_answer until the input
is complete, cadence_check, cadence_continue. A wrong check costs a heart;
with no hearts left lessons cannot start until cadence_refill is called.
Questions answered wrong are asked once more at the end of the lesson.
`))

	s.registerTools()

	return s
}

// registerTools registers all Cadence MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("cadence_lessons").
		Description("List Cadence lessons, optionally filtered by category").
		Handler(s.handleLessons)

	s.mcpServer.Tool("cadence_start").
		Description("Start a lesson session, or a review session of past mistakes").
		Handler(s.handleStart)

	s.mcpServer.Tool("cadence_answer").
		Description("Send answer input (select_option, fill_in, set_blank, match, select_word, remove_word, select_step_option)").
		Handler(s.handleAnswer)

	s.mcpServer.Tool("cadence_check").
		Description("Check the answer to the current question").
		Handler(s.handleCheck)

	s.mcpServer.Tool("cadence_continue").
		Description("Continue to the next question after a check").
		Handler(s.handleContinue)

	s.mcpServer.Tool("cadence_status").
		Description("Show the current question and session progress").
		Handler(s.handleStatus)

	s.mcpServer.Tool("cadence_stats").
		Description("Show hearts, XP, streak and lesson statistics").
		Handler(s.handleStats)

	s.mcpServer.Tool("cadence_refill").
		Description("Refill hearts to the maximum").
		Handler(s.handleRefill)

	s.mcpServer.Tool("cadence_stop").
		Description("End a lesson session").
		Handler(s.handleStop)
}

// Input/Output types for tools

type LessonsInput struct {
	Category string `json:"category,omitempty" jsonschema:"description=Only list lessons in this category"`
}

type LessonSummary struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Parts     int    `json:"parts,omitempty"`
	Unlocked  bool   `json:"unlocked"`
	Completed bool   `json:"completed"`
}

type LessonsOutput struct {
	Lessons []LessonSummary `json:"lessons"`
	Count   int             `json:"count"`
}

type StartInput struct {
	LessonID string `json:"lesson_id,omitempty" jsonschema:"description=Lesson ID from cadence_lessons (omit with review=true)"`
	Part     int    `json:"part,omitempty" jsonschema:"description=Part of a multi-part lesson (default: current part)"`
	Review   bool   `json:"review,omitempty" jsonschema:"description=Start a review round of the last lesson's mistakes"`
}

type AnswerInput struct {
	SessionID  string `json:"session_id" jsonschema:"description=Session ID from cadence_start"`
	Type       string `json:"type" jsonschema:"description=Input event type,enum=select_option,enum=fill_in,enum=set_blank,enum=match,enum=select_word,enum=remove_word,enum=select_step_option"`
	OptionID   string `json:"option_id,omitempty" jsonschema:"description=Option ID for select_option and select_step_option"`
	Text       string `json:"text,omitempty" jsonschema:"description=Text for fill_in and set_blank"`
	Index      int    `json:"index,omitempty" jsonschema:"description=Blank index for set_blank, position in words for select_word, position in sentence for remove_word"`
	Term       string `json:"term,omitempty" jsonschema:"description=Term for match"`
	Definition string `json:"definition,omitempty" jsonschema:"description=Definition for match"`
}

type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID from cadence_start"`
}

type SessionOutput struct {
	Session session.View `json:"session"`
	Message string       `json:"message"`
}

type StatsInput struct{}

type RefillInput struct{}

type RefillOutput struct {
	Hearts  int    `json:"hearts"`
	Message string `json:"message"`
}

type StopOutput struct {
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) handleLessons(ctx context.Context, input LessonsInput) (LessonsOutput, error) {
	lessons, err := s.lessons.GetUserLessons(ctx, s.userID)
	if err != nil {
		return LessonsOutput{}, fmt.Errorf("failed to list lessons: %w", err)
	}

	out := LessonsOutput{Lessons: []LessonSummary{}}
	for _, l := range lessons {
		if input.Category != "" && !strings.EqualFold(l.Category, input.Category) {
			continue
		}
		out.Lessons = append(out.Lessons, LessonSummary{
			ID:        l.ID,
			Number:    l.Number,
			Title:     l.Title,
			Category:  l.Category,
			Parts:     l.TotalParts,
			Unlocked:  l.Unlocked,
			Completed: l.Completed,
		})
	}
	out.Count = len(out.Lessons)
	return out, nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (SessionOutput, error) {
	if input.LessonID == "" && !input.Review {
		return SessionOutput{}, fmt.Errorf("lesson_id is required unless review is set")
	}

	sess, err := s.sessions.Start(ctx, session.StartRequest{
		UserID:   s.userID,
		LessonID: input.LessonID,
		Part:     input.Part,
		Review:   input.Review,
	})
	if err != nil {
		return SessionOutput{}, fmt.Errorf("failed to start session: %w", err)
	}

	view := sess.View()
	return SessionOutput{
		Session: view,
		Message: fmt.Sprintf("Session started with %d questions.", view.Total),
	}, nil
}

func (s *Server) handleAnswer(ctx context.Context, input AnswerInput) (SessionOutput, error) {
	ev := session.Event{
		Type:       session.EventType(input.Type),
		OptionID:   input.OptionID,
		Text:       input.Text,
		Index:      input.Index,
		Term:       input.Term,
		Definition: input.Definition,
	}
	switch ev.Type {
	case session.EventCheck, session.EventContinue, session.EventAdvance, session.EventClearFlash:
		return SessionOutput{}, fmt.Errorf("%q is not an answer input", input.Type)
	}

	sess, err := s.sessions.Apply(ctx, input.SessionID, ev)
	if err != nil {
		return SessionOutput{}, fmt.Errorf("failed to apply answer: %w", err)
	}
	return s.output(sess), nil
}

func (s *Server) handleCheck(ctx context.Context, input SessionInput) (SessionOutput, error) {
	sess, err := s.sessions.Check(ctx, input.SessionID)
	if err != nil {
		return SessionOutput{}, fmt.Errorf("failed to check answer: %w", err)
	}
	return s.output(sess), nil
}

func (s *Server) handleContinue(ctx context.Context, input SessionInput) (SessionOutput, error) {
	sess, err := s.sessions.Advance(ctx, input.SessionID)
	if err != nil {
		return SessionOutput{}, fmt.Errorf("failed to continue: %w", err)
	}
	return s.output(sess), nil
}

func (s *Server) handleStatus(ctx context.Context, input SessionInput) (SessionOutput, error) {
	sess, err := s.sessions.Get(ctx, input.SessionID)
	if err != nil {
		return SessionOutput{}, fmt.Errorf("session not found: %w", err)
	}
	return s.output(sess), nil
}

func (s *Server) handleStats(ctx context.Context, _ StatsInput) (stats.Overview, error) {
	overview, err := s.stats.GetOverview(ctx, s.userID)
	if err != nil {
		return stats.Overview{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return *overview, nil
}

func (s *Server) handleRefill(ctx context.Context, _ RefillInput) (RefillOutput, error) {
	if s.hearts == nil {
		return RefillOutput{}, fmt.Errorf("refilling hearts is not available")
	}
	st, err := s.hearts.RefillHearts(ctx, s.userID)
	if err != nil {
		return RefillOutput{}, fmt.Errorf("failed to refill hearts: %w", err)
	}
	return RefillOutput{
		Hearts:  st.Hearts,
		Message: fmt.Sprintf("Hearts refilled: %d.", st.Hearts),
	}, nil
}

func (s *Server) handleStop(ctx context.Context, input SessionInput) (StopOutput, error) {
	if err := s.sessions.End(ctx, input.SessionID); err != nil {
		return StopOutput{}, fmt.Errorf("failed to end session: %w", err)
	}
	return StopOutput{Message: "Session ended"}, nil
}

func (s *Server) output(sess *session.Session) SessionOutput {
	view := sess.View()
	return SessionOutput{Session: view, Message: summarize(view)}
}

// summarize describes a session view in one line for chat clients.
func summarize(v session.View) string {
	if v.Status == session.StatusCompleted {
		msg := "Lesson complete."
		if v.Score != nil {
			msg = fmt.Sprintf("Lesson complete: %d/%d correct (%d%%).", v.Score.Correct, v.Score.Total, v.Score.Percentage)
		}
		if v.Badge != nil {
			msg += " " + v.Badge.Message
		}
		return msg
	}

	switch v.Phase {
	case session.PhaseChecked:
		if v.LastCorrect != nil && *v.LastCorrect {
			return "Correct!"
		}
		if v.CorrectAnswer != "" {
			return "Not quite. The answer is: " + v.CorrectAnswer
		}
		return "Not quite."
	case session.PhaseAdvancing:
		return "Moving on."
	}

	if v.Question == nil {
		return string(v.Status)
	}
	prefix := fmt.Sprintf("Question %d of %d", v.Done+1, v.Total)
	if v.Retrying {
		prefix = "Retry: " + prefix
	}
	return prefix + ": " + v.Question.Prompt
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
