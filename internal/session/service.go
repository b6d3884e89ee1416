package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/lesson"
)

// Config holds the runtime timings.
type Config struct {
	Timings       Timings
	BadgeDuration time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Timings:       DefaultTimings(),
		BadgeDuration: 3 * time.Second,
	}
}

// Service runs lesson sessions. It owns the deferred transitions of every
// live session and cancels them when the session ends or the service is
// closed.
type Service struct {
	store      SessionStore
	catalog    Catalog
	dispatcher Dispatcher
	parts      PartResolver                    // Optional: multi-part cursor
	clients    func(userID string) ClientCache // Optional: local client state
	scheduler  Scheduler
	cfg        Config
	seed       func() uint64

	mu       sync.Mutex
	live     map[string]*Session
	locks    map[string]*sessionLock
	timers   map[string]map[timerKind]timer
	timerSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new session service
func NewService(store SessionStore, catalog Catalog, dispatcher Dispatcher, cfg Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		catalog:    catalog,
		dispatcher: dispatcher,
		scheduler:  timeScheduler{},
		cfg:        cfg,
		seed:       rand.Uint64,
		live:       make(map[string]*Session),
		locks:      make(map[string]*sessionLock),
		timers:     make(map[string]map[timerKind]timer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetPartResolver sets the resolver for the active part of multi-part lessons
func (s *Service) SetPartResolver(p PartResolver) {
	s.parts = p
}

// SetClientCache sets the per-user local cache factory
func (s *Service) SetClientCache(fn func(userID string) ClientCache) {
	s.clients = fn
}

// SetScheduler replaces the timer implementation
func (s *Service) SetScheduler(sch Scheduler) {
	s.scheduler = sch
}

// StartRequest contains data for starting a session
type StartRequest struct {
	UserID   string `json:"user_id"`
	LessonID string `json:"lesson_id,omitempty"`
	Part     int    `json:"part,omitempty"`
	Review   bool   `json:"review,omitempty"`
}

// Start opens a lesson (or the cached review round) for a user.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}

	stats, err := s.catalog.GetUserStats(ctx, req.UserID)
	switch {
	case err != nil:
		slog.Warn("failed to read user stats, starting without heart check", "user", req.UserID, "error", err)
	case stats.Hearts <= 0:
		return nil, domain.ErrOutOfHearts
	}

	var state State
	if req.Review {
		state, err = s.reviewState(req.UserID)
	} else {
		state, err = s.lessonState(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	sess := NewSession(req.UserID, state)
	if err := s.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.live[sess.ID] = sess
	s.mu.Unlock()

	slog.Info("session started",
		"session", sess.ID,
		"user", sess.UserID,
		"lesson", state.LessonID,
		"part", state.Part,
		"questions", len(state.Questions))

	snapshot := *sess
	return &snapshot, nil
}

func (s *Service) lessonState(ctx context.Context, req StartRequest) (State, error) {
	if req.LessonID == "" {
		return State{}, fmt.Errorf("%w: lesson id required", domain.ErrInvalidInput)
	}

	lessons, err := s.catalog.GetUserLessons(ctx, req.UserID)
	if err != nil {
		return State{}, fmt.Errorf("get user lessons: %w", err)
	}

	var l *domain.Lesson
	for i := range lessons {
		if lessons[i].ID == req.LessonID {
			l = &lessons[i]
			break
		}
	}
	if l == nil {
		return State{}, domain.ErrLessonNotFound
	}
	if !l.Unlocked {
		return State{}, domain.ErrLessonLocked
	}

	part := 0
	if l.IsMultiPart() {
		part = req.Part
		if part == 0 && s.parts != nil {
			part = s.parts.CurrentPart(ctx, req.UserID, *l)
		}
		if part < 1 {
			part = 1
		}
	}

	cache := s.client(req.UserID)
	qs, err := lesson.QuestionsFor(*l, part)
	if err != nil {
		cached, ok := cachedQuiz(cache, l.ID, part)
		if !ok {
			return State{}, err
		}
		slog.Warn("lesson document unusable, resuming cached quiz", "lesson", l.ID, "part", part, "error", err)
		qs = cached
	}

	state := NewState(l.ID, qs, s.seed(), s.cfg.Timings)
	state.AlreadyCompleted = l.Completed
	if l.IsMultiPart() {
		state.Part = part
		state.TotalParts = l.TotalParts
	}

	if cache != nil {
		if err := cache.SetActiveLesson(*l); err != nil {
			slog.Warn("failed to cache active lesson", "error", err)
		}
		if err := cache.SaveQuiz(l.ID, part, qs); err != nil {
			slog.Warn("failed to cache quiz payload", "error", err)
		}
	}
	return state, nil
}

func (s *Service) reviewState(userID string) (State, error) {
	cache := s.client(userID)
	if cache == nil {
		return State{}, domain.ErrEmptyLesson
	}
	qs, ok := cache.Review()
	if !ok {
		return State{}, domain.ErrEmptyLesson
	}
	state := NewState("review", qs, s.seed(), s.cfg.Timings)
	state.Review = true
	return state, nil
}

func cachedQuiz(cache ClientCache, lessonID string, part int) ([]domain.Question, bool) {
	if cache == nil {
		return nil, false
	}
	return cache.Quiz(lessonID, part)
}

func (s *Service) client(userID string) ClientCache {
	if s.clients == nil {
		return nil
	}
	return s.clients(userID)
}

// Get retrieves a session by ID
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot := *sess
	return &snapshot, nil
}

// Apply feeds one event to a session and carries out the resulting
// effects. Checking an incomplete answer returns ErrNothingToCheck.
func (s *Service) Apply(ctx context.Context, id string, ev Event) (*Session, error) {
	if !ev.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEvent, ev.Type)
	}

	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionComplete
	}
	if ev.Type == EventCheck && sess.State.Phase == PhaseAnswering && !CanCheck(sess.State) {
		return nil, domain.ErrNothingToCheck
	}

	if err := s.step(ctx, sess, ev); err != nil {
		return nil, err
	}
	snapshot := *sess
	return &snapshot, nil
}

// Check evaluates the current answer.
func (s *Service) Check(ctx context.Context, id string) (*Session, error) {
	return s.Apply(ctx, id, Event{Type: EventCheck})
}

// Continue moves past a checked question.
func (s *Service) Continue(ctx context.Context, id string) (*Session, error) {
	return s.Apply(ctx, id, Event{Type: EventContinue})
}

// Advance moves past a checked question at once instead of waiting for
// the advance timer. Clients without a clock (CLI, MCP) use it.
func (s *Service) Advance(ctx context.Context, id string) (*Session, error) {
	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionComplete
	}

	if sess.State.Phase == PhaseChecked {
		if err := s.step(ctx, sess, Event{Type: EventContinue}); err != nil {
			return nil, err
		}
	}
	if sess.State.Phase == PhaseAdvancing {
		s.cancelTimers(id)
		if err := s.step(ctx, sess, Event{Type: EventAdvance}); err != nil {
			return nil, err
		}
	}

	snapshot := *sess
	return &snapshot, nil
}

// End abandons a session and cancels its pending transitions.
func (s *Service) End(ctx context.Context, id string) error {
	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	s.cancelTimers(id)
	if sess.IsActive() {
		sess.Status = StatusAbandoned
		sess.UpdatedAt = time.Now()
		if err := s.store.Save(sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	return nil
}

// ListActive returns all sessions still being played.
func (s *Service) ListActive(ctx context.Context) ([]*Session, error) {
	return s.store.ListActive()
}

// Close cancels every pending transition. Sessions stay persisted and
// resume on the next load.
func (s *Service) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pending := range s.timers {
		for _, t := range pending {
			if t.cancel != nil {
				t.cancel()
			}
		}
		delete(s.timers, id)
	}
}

// step reduces one event and handles its effects. Callers hold the
// session lock.
func (s *Service) step(ctx context.Context, sess *Session, ev Event) error {
	next, effects := Reduce(sess.State, ev)
	sess.State = next
	sess.UpdatedAt = time.Now()

	completed := next.Phase == PhaseComplete
	if completed {
		sess.Status = StatusCompleted
		s.cancelTimers(sess.ID)
	}

	for _, eff := range effects {
		if eff.IsTimer() {
			s.schedule(sess.ID, eff)
			continue
		}
		badge, err := s.dispatcher.Dispatch(ctx, sess, eff)
		if err != nil {
			// Progression is best-effort; the session always moves on.
			slog.Warn("failed to dispatch effect", "session", sess.ID, "effect", eff.Type, "error", err)
		}
		if badge != nil {
			sess.Badge = badge
			s.scheduleBadgeHide(sess.ID)
		}
	}

	if completed {
		s.finish(sess)
	}

	if err := s.store.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// finish caches what is left of the wrong-answer list for a later review
// round.
func (s *Service) finish(sess *Session) {
	slog.Info("session completed",
		"session", sess.ID,
		"lesson", sess.State.LessonID,
		"score", sess.State.Score)

	if cache := s.client(sess.UserID); cache != nil {
		if err := cache.SaveReview(sess.WrongQuestions()); err != nil {
			slog.Warn("failed to cache review payload", "error", err)
		}
	}

	s.mu.Lock()
	delete(s.live, sess.ID)
	s.mu.Unlock()
}

// load returns the live session or restores it from the store. A restored
// session caught mid-transition is moved on immediately, since its timer
// did not survive.
func (s *Service) load(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.IsActive() {
		return sess, nil
	}

	s.mu.Lock()
	s.live[id] = sess
	s.mu.Unlock()

	if sess.State.Phase == PhaseAdvancing {
		if err := s.step(ctx, sess, Event{Type: EventAdvance}); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// sessionLock serializes work on one session. The entry is dropped once
// nobody holds or waits for it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Service) lockSession(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

type timerKind int

const (
	timerAdvance timerKind = iota
	timerFlash
	timerBadge
)

type timer struct {
	seq    uint64
	cancel func()
}

func (s *Service) schedule(id string, eff Effect) {
	if eff.Type == EffectScheduleClearFlash {
		s.startTimer(id, timerFlash, eff.Delay, func() { s.fire(id, Event{Type: EventClearFlash}) })
		return
	}
	s.startTimer(id, timerAdvance, eff.Delay, func() { s.fire(id, Event{Type: EventAdvance}) })
}

func (s *Service) scheduleBadgeHide(id string) {
	s.startTimer(id, timerBadge, s.cfg.BadgeDuration, func() { s.hideBadge(id) })
}

// startTimer runs fn after d. At most one timer of each kind is pending per
// session; a newer one replaces the older. fn runs only if its timer is
// still the current one when it fires.
func (s *Service) startTimer(id string, kind timerKind, d time.Duration, fn func()) {
	s.mu.Lock()
	s.timerSeq++
	seq := s.timerSeq
	pending := s.timers[id]
	if pending == nil {
		pending = make(map[timerKind]timer)
		s.timers[id] = pending
	}
	prev, had := pending[kind]
	pending[kind] = timer{seq: seq}
	s.mu.Unlock()

	if had && prev.cancel != nil {
		prev.cancel()
	}

	cancel := s.scheduler.After(d, func() {
		if s.claimTimer(id, kind, seq) {
			fn()
		}
	})

	s.mu.Lock()
	if t, ok := s.timers[id][kind]; ok && t.seq == seq {
		t.cancel = cancel
		s.timers[id][kind] = t
	}
	s.mu.Unlock()
}

// claimTimer removes a fired timer and reports whether it was still current.
func (s *Service) claimTimer(id string, kind timerKind, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.timers[id]
	t, ok := pending[kind]
	if !ok || t.seq != seq {
		return false
	}
	delete(pending, kind)
	if len(pending) == 0 {
		delete(s.timers, id)
	}
	return true
}

func (s *Service) cancelTimers(id string) {
	s.mu.Lock()
	pending := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()

	for _, t := range pending {
		if t.cancel != nil {
			t.cancel()
		}
	}
}

// fire delivers a timer event unless the service or session has ended.
func (s *Service) fire(id string, ev Event) {
	if s.ctx.Err() != nil {
		return
	}
	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(s.ctx, id)
	if err != nil || !sess.IsActive() {
		return
	}
	if err := s.step(s.ctx, sess, ev); err != nil {
		slog.Warn("failed to apply timer event", "session", id, "event", ev.Type, "error", err)
	}
}

func (s *Service) hideBadge(id string) {
	if s.ctx.Err() != nil {
		return
	}
	unlock := s.lockSession(id)
	defer unlock()

	sess, err := s.load(s.ctx, id)
	if err != nil || sess.Badge == nil {
		return
	}
	sess.Badge = nil
	if err := s.store.Save(sess); err != nil {
		slog.Warn("failed to clear badge", "session", id, "error", err)
	}
}

// timeScheduler runs callbacks on runtime timers.
type timeScheduler struct{}

func (timeScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
