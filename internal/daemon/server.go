package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/cadence/internal/config"
	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/lesson"
	"github.com/felixgeelhaar/cadence/internal/session"
	"github.com/felixgeelhaar/cadence/internal/stats"
	"github.com/felixgeelhaar/fortify/ratelimit"
)

// Version is reported by the status endpoint.
const Version = "0.1.0"

// Sessions runs lesson sessions.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Apply(ctx context.Context, id string, ev session.Event) (*session.Session, error)
	Check(ctx context.Context, id string) (*session.Session, error)
	Continue(ctx context.Context, id string) (*session.Session, error)
	Advance(ctx context.Context, id string) (*session.Session, error)
	End(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*session.Session, error)
}

// Catalog is the backend surface the API reads and writes.
type Catalog interface {
	GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error)
	GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error)
	SaveLessons(ctx context.Context, lessons []domain.Lesson) error
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

// Server represents the Cadence daemon HTTP server
type Server struct {
	cfg     *config.Config
	server  *http.Server
	router  *http.ServeMux
	limiter ratelimit.RateLimiter // Optional
	started time.Time

	sessions Sessions
	catalog  Catalog
	stats    Overviews
	loader   *lesson.Loader
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config   *config.Config
	Sessions Sessions
	Catalog  Catalog
	Stats    Overviews
	Loader   *lesson.Loader // Content directory for imports
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil || cfg.Sessions == nil || cfg.Catalog == nil || cfg.Stats == nil {
		return nil, fmt.Errorf("%w: server dependencies missing", domain.ErrInvalidInput)
	}

	s := &Server{
		cfg:      cfg.Config,
		router:   http.NewServeMux(),
		started:  time.Now(),
		sessions: cfg.Sessions,
		catalog:  cfg.Catalog,
		stats:    cfg.Stats,
		loader:   cfg.Loader,
	}
	s.setupRoutes()

	mws := []middleware{
		recoveryMiddleware,
		correlationIDMiddleware,
		userMiddleware(cfg.Config.UserID),
		loggingMiddleware,
	}
	if rate := cfg.Config.RateLimit; rate > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 2,
			Interval: time.Second,
		})
		mws = append(mws, rateLimitMiddleware(s.limiter))
	}

	s.server = &http.Server{
		Addr:         cfg.Config.Addr(),
		Handler:      chain(s.router, mws...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Catalog
	s.router.HandleFunc("GET /v1/lessons", s.handleListLessons)
	s.router.HandleFunc("POST /v1/lessons/import", s.handleImportLessons)

	// Sessions
	s.router.HandleFunc("POST /v1/sessions", s.handleStartSession)
	s.router.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.router.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	s.router.HandleFunc("POST /v1/sessions/{id}/events", s.handleSessionEvent)
	s.router.HandleFunc("POST /v1/sessions/{id}/check", s.handleCheck)
	s.router.HandleFunc("POST /v1/sessions/{id}/continue", s.handleContinue)
	s.router.HandleFunc("POST /v1/sessions/{id}/next", s.handleNext)

	// Progress & stats
	s.router.HandleFunc("GET /v1/progress", s.handleProgress)
	s.router.HandleFunc("GET /v1/stats", s.handleStats)
	s.router.HandleFunc("POST /v1/hearts/refill", s.handleRefillHearts)
}

// Handler returns the HTTP handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting cadence daemon",
		"addr", s.server.Addr,
		"user", s.cfg.UserID,
		"driver", s.cfg.Driver,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.sessions.ListActive(r.Context())
	if err != nil {
		slog.Warn("failed to list active sessions", "error", err)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":          "running",
		"version":         Version,
		"user":            s.cfg.UserID,
		"driver":          s.cfg.Driver,
		"queue":           s.cfg.AMQPURL != "",
		"active_sessions": len(active),
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
	})
}

// Catalog handlers

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.catalog.GetUserLessons(r.Context(), GetUserID(r.Context()))
	if err != nil {
		s.serviceError(w, "failed to list lessons", err)
		return
	}

	category := r.URL.Query().Get("category")
	result := make([]domain.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if category != "" && l.Category != category {
			continue
		}
		l.Document = nil
		result = append(result, l)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lessons": result,
	})
}

func (s *Server) handleImportLessons(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	loader := s.loader
	if req.Dir != "" {
		loader = lesson.NewLoader(req.Dir)
	}
	if loader == nil {
		s.jsonError(w, http.StatusBadRequest, "dir is required when no content directory is configured", nil)
		return
	}

	n, err := lesson.Import(r.Context(), loader, s.catalog)
	if err != nil {
		s.serviceError(w, "failed to import lessons", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"imported": n,
		"dir":      loader.BasePath(),
	})
}

// Session handlers

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID string `json:"lesson_id,omitempty"`
		Part     int    `json:"part,omitempty"`
		Review   bool   `json:"review,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.LessonID == "" && !req.Review {
		s.jsonError(w, http.StatusBadRequest, "lesson_id or review is required", nil)
		return
	}

	sess, err := s.sessions.Start(r.Context(), session.StartRequest{
		UserID:   GetUserID(r.Context()),
		LessonID: req.LessonID,
		Part:     req.Part,
		Review:   req.Review,
	})
	if err != nil {
		s.serviceError(w, "failed to start session", err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess.View())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	active, err := s.sessions.ListActive(r.Context())
	if err != nil {
		s.serviceError(w, "failed to list sessions", err)
		return
	}

	user := GetUserID(r.Context())
	views := make([]session.View, 0, len(active))
	for _, sess := range active {
		if sess.UserID == user {
			views = append(views, sess.View())
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": views,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, sess.View())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	if err := s.sessions.End(r.Context(), sess.ID); err != nil {
		s.serviceError(w, "failed to end session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	var ev session.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !ev.Valid() {
		s.serviceError(w, "failed to apply event", fmt.Errorf("%w: %q", domain.ErrInvalidEvent, ev.Type))
		return
	}

	owned, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	sess, err := s.sessions.Apply(r.Context(), owned.ID, ev)
	if err != nil {
		s.serviceError(w, "failed to apply event", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess.View())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, "failed to check answer", s.sessions.Check)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, "failed to continue", s.sessions.Continue)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, "failed to move to next question", s.sessions.Advance)
}

func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request, message string, action func(context.Context, string) (*session.Session, error)) {
	owned, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	sess, err := action(r.Context(), owned.ID)
	if err != nil {
		s.serviceError(w, message, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess.View())
}

// ownedSession loads the session named in the path. Sessions of other
// users are reported as not found.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err == nil && sess.UserID != GetUserID(r.Context()) {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		s.serviceError(w, "failed to get session", err)
		return nil, false
	}
	return sess, true
}

// Progress & stats handlers

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	records, err := s.catalog.GetUserProgress(r.Context(), GetUserID(r.Context()))
	if err != nil {
		s.serviceError(w, "failed to get progress", err)
		return
	}
	if records == nil {
		records = []domain.LessonProgress{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"progress": records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	overview, err := s.stats.GetOverview(r.Context(), GetUserID(r.Context()))
	if err != nil {
		s.serviceError(w, "failed to get stats", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, overview)
}

func (s *Server) handleRefillHearts(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.RefillHearts(r.Context(), GetUserID(r.Context()))
	if err != nil {
		s.serviceError(w, "failed to refill hearts", err)
		return
	}
	slog.Info("hearts refilled", "user", stats.UserID, "hearts", stats.Hearts)
	s.jsonResponse(w, http.StatusOK, stats)
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// serviceError maps domain errors to HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, message string, err error) {
	s.jsonError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrPartOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLessonLocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOutOfHearts),
		errors.Is(err, domain.ErrSessionComplete):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNothingToCheck),
		errors.Is(err, domain.ErrEmptyLesson),
		errors.Is(err, domain.ErrInvalidDocument):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
