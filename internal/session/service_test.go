package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

const twoQuestionDoc = `{
  "id": "basics-1",
  "quiz": [
    {"id": "q1", "type": "multiple-choice", "question": "One?",
     "options": [{"id": "a", "text": "A"}, {"id": "b", "text": "B"}], "correctAnswer": "a"},
    {"id": "q2", "type": "multiple-choice", "question": "Two?",
     "options": [{"id": "a", "text": "A"}, {"id": "b", "text": "B"}], "correctAnswer": "b"}
  ]
}`

const threePartDoc = `{
  "id": "dark-1",
  "totalParts": 3,
  "parts": [
    {"part": 1, "exercises": [{"id": "p1", "type": "fill-in", "prompt": "one", "answer": "x"}]},
    {"part": 2, "exercises": [{"id": "p2", "type": "fill-in", "prompt": "two", "answer": "y"}]},
    {"part": 3, "exercises": [{"id": "p3", "type": "fill-in", "prompt": "three", "answer": "z"}]}
  ]
}`

type fakeCatalog struct {
	lessons  []domain.Lesson
	stats    domain.UserStats
	statsErr error
}

func (c *fakeCatalog) GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error) {
	return c.lessons, nil
}

func (c *fakeCatalog) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	return c.stats, c.statsErr
}

type fakeDispatcher struct {
	mu      sync.Mutex
	effects []Effect
	badge   *domain.Badge
	err     error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, sess *Session, eff Effect) (*domain.Badge, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.effects = append(d.effects, eff)
	if eff.Type == EffectCompleteLesson {
		return d.badge, d.err
	}
	return nil, d.err
}

func (d *fakeDispatcher) count(typ EffectType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return countEffects(d.effects, typ)
}

type pendingTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

type manualScheduler struct {
	mu      sync.Mutex
	pending []*pendingTimer
}

func (m *manualScheduler) After(d time.Duration, fn func()) func() {
	p := &pendingTimer{delay: d, fn: fn}
	m.mu.Lock()
	m.pending = append(m.pending, p)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		p.cancelled = true
		m.mu.Unlock()
	}
}

// fireAll runs every pending, uncancelled timer and returns how many ran.
func (m *manualScheduler) fireAll() int {
	m.mu.Lock()
	due := m.pending
	m.pending = nil
	m.mu.Unlock()

	n := 0
	for _, p := range due {
		m.mu.Lock()
		cancelled := p.cancelled
		m.mu.Unlock()
		if !cancelled {
			p.fn()
			n++
		}
	}
	return n
}

type fakeParts struct{ part int }

func (f fakeParts) CurrentPart(ctx context.Context, userID string, l domain.Lesson) int {
	return f.part
}

type fakeCache struct {
	active   domain.Lesson
	quizID   string
	quizPart int
	quiz     []domain.Question
	review   []domain.Question
}

func (c *fakeCache) SetActiveLesson(l domain.Lesson) error { c.active = l; return nil }

func (c *fakeCache) SaveQuiz(lessonID string, part int, qs []domain.Question) error {
	c.quizID, c.quizPart, c.quiz = lessonID, part, qs
	return nil
}

func (c *fakeCache) Quiz(lessonID string, part int) ([]domain.Question, bool) {
	if lessonID != c.quizID || part != c.quizPart {
		return nil, false
	}
	return c.quiz, len(c.quiz) > 0
}

func (c *fakeCache) SaveReview(qs []domain.Question) error { c.review = qs; return nil }
func (c *fakeCache) Review() ([]domain.Question, bool) { return c.review, len(c.review) > 0 }

type harness struct {
	svc        *Service
	catalog    *fakeCatalog
	dispatcher *fakeDispatcher
	scheduler  *manualScheduler
	cache      *fakeCache
	store      *memStore
}

// memStore keeps sessions as encoded snapshots so that a restarted
// service sees only what was saved.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Save(sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sess.ID] = b
	return nil
}

func (m *memStore) Get(id string) (*Session, error) {
	m.mu.Lock()
	b, ok := m.data[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *memStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}
	delete(m.data, id)
	return nil
}

func (m *memStore) ListActive() ([]*Session, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var out []*Session
	for _, id := range ids {
		sess, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if sess.IsActive() {
			out = append(out, sess)
		}
	}
	return out, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()

	h := &harness{
		catalog: &fakeCatalog{
			lessons: []domain.Lesson{
				{ID: "basics-1", Number: 1, Category: "basics", Unlocked: true, Document: []byte(twoQuestionDoc)},
				{ID: "basics-2", Number: 2, Category: "basics", Document: []byte(twoQuestionDoc)},
				{ID: "dark-1", Number: 1, Category: "dark", TotalParts: 3, Unlocked: true, Document: []byte(threePartDoc)},
			},
			stats: domain.UserStats{Hearts: 5},
		},
		dispatcher: &fakeDispatcher{},
		scheduler:  &manualScheduler{},
		cache:      &fakeCache{},
		store:      store,
	}
	h.svc = NewService(store, h.catalog, h.dispatcher, DefaultConfig())
	h.svc.SetScheduler(h.scheduler)
	h.svc.SetClientCache(func(string) ClientCache { return h.cache })
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) answer(t *testing.T, id, option string) *Session {
	t.Helper()
	ctx := context.Background()
	if _, err := h.svc.Apply(ctx, id, Event{Type: EventSelectOption, OptionID: option}); err != nil {
		t.Fatalf("Apply(select) error = %v", err)
	}
	if _, err := h.svc.Check(ctx, id); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if _, err := h.svc.Continue(ctx, id); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	h.scheduler.fireAll()
	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return sess
}

func TestService_Start(t *testing.T) {
	h := newHarness(t)

	sess, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", LessonID: "basics-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.ID == "" || sess.Status != StatusActive {
		t.Errorf("session = %+v, want active with id", sess)
	}
	if len(sess.State.Questions) != 2 || sess.State.Phase != PhaseAnswering {
		t.Errorf("State = %d questions in %q, want 2 answering", len(sess.State.Questions), sess.State.Phase)
	}
	if h.cache.active.ID != "basics-1" || len(h.cache.quiz) != 2 {
		t.Errorf("cache active = %q quiz = %d, want basics-1 and 2 questions", h.cache.active.ID, len(h.cache.quiz))
	}
}

func TestService_Start_FallsBackToCachedQuiz(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.catalog.lessons[0].Document = []byte("{broken")

	sess, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})
	if err != nil {
		t.Fatalf("Start() with broken document error = %v", err)
	}
	if len(sess.State.Questions) != 2 {
		t.Errorf("Questions = %d, want 2 from the cached quiz", len(sess.State.Questions))
	}

	h.cache.quizID = "other"
	if _, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"}); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Errorf("Start() without matching cache error = %v, want ErrInvalidDocument", err)
	}
}

func TestService_Start_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRequest
		hearts  int
		wantErr error
	}{
		{"unknown lesson", StartRequest{UserID: "u1", LessonID: "nope"}, 5, domain.ErrLessonNotFound},
		{"locked lesson", StartRequest{UserID: "u1", LessonID: "basics-2"}, 5, domain.ErrLessonLocked},
		{"no hearts", StartRequest{UserID: "u1", LessonID: "basics-1"}, 0, domain.ErrOutOfHearts},
		{"no user", StartRequest{LessonID: "basics-1"}, 5, domain.ErrInvalidInput},
		{"empty review", StartRequest{UserID: "u1", Review: true}, 5, domain.ErrEmptyLesson},
		{"part out of range", StartRequest{UserID: "u1", LessonID: "dark-1", Part: 4}, 5, domain.ErrPartOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.catalog.stats.Hearts = tt.hearts

			_, err := h.svc.Start(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Start_StatsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.catalog.statsErr = errors.New("backend down")

	if _, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", LessonID: "basics-1"}); err != nil {
		t.Errorf("Start() error = %v, want lesson to start without heart check", err)
	}
}

func TestService_PlayThrough(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.badge = &domain.Badge{Streak: 5, Tier: domain.TierMilestone}
	ctx := context.Background()

	sess, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sess = h.answer(t, sess.ID, "a")
	if sess.State.Cursor != 1 {
		t.Fatalf("Cursor = %d after first answer, want 1", sess.State.Cursor)
	}

	sess = h.answer(t, sess.ID, "a") // wrong
	if !sess.State.Retrying {
		t.Fatalf("Retrying = false, want retry round")
	}

	sess = h.answer(t, sess.ID, "b")
	if sess.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", sess.Status)
	}
	if sess.State.Score.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", sess.State.Score.Percentage)
	}
	if sess.Badge == nil || sess.Badge.Streak != 5 {
		t.Errorf("Badge = %+v, want streak 5", sess.Badge)
	}

	if got := h.dispatcher.count(EffectAwardXP); got != 2 {
		t.Errorf("AwardXP dispatches = %d, want 2 (+5, -5)", got)
	}
	if got := h.dispatcher.count(EffectLoseHeart); got != 1 {
		t.Errorf("LoseHeart dispatches = %d, want 1", got)
	}
	if got := h.dispatcher.count(EffectCompleteLesson); got != 1 {
		t.Errorf("CompleteLesson dispatches = %d, want 1", got)
	}
	if len(h.cache.review) != 0 {
		t.Errorf("review cache = %d questions, want 0 after a clean retry", len(h.cache.review))
	}

	// The badge hides once its timer fires.
	if n := h.scheduler.fireAll(); n != 1 {
		t.Errorf("fireAll() ran %d timers, want 1 badge timer", n)
	}
	sess, err = h.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Badge != nil {
		t.Errorf("Badge = %+v after hide, want nil", sess.Badge)
	}

	if _, err := h.svc.Check(ctx, sess.ID); !errors.Is(err, domain.ErrSessionComplete) {
		t.Errorf("Check() on completed session error = %v, want ErrSessionComplete", err)
	}
}

func TestService_CheckIncomplete(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.svc.Start(context.Background(), StartRequest{UserID: "u1", LessonID: "basics-1"})

	if _, err := h.svc.Check(context.Background(), sess.ID); !errors.Is(err, domain.ErrNothingToCheck) {
		t.Errorf("Check() error = %v, want ErrNothingToCheck", err)
	}
}

func TestService_CheckTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})

	h.svc.Apply(ctx, sess.ID, Event{Type: EventSelectOption, OptionID: "b"})
	if _, err := h.svc.Check(ctx, sess.ID); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if _, err := h.svc.Check(ctx, sess.ID); err != nil {
		t.Fatalf("second Check() error = %v", err)
	}

	if got := h.dispatcher.count(EffectLoseHeart); got != 1 {
		t.Errorf("LoseHeart dispatches = %d, want 1", got)
	}
}

func TestService_InvalidEvent(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.svc.Start(context.Background(), StartRequest{UserID: "u1", LessonID: "basics-1"})

	if _, err := h.svc.Apply(context.Background(), sess.ID, Event{Type: "dance"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Errorf("Apply() error = %v, want ErrInvalidEvent", err)
	}
	if _, err := h.svc.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestService_EndCancelsTimers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})

	h.svc.Apply(ctx, sess.ID, Event{Type: EventSelectOption, OptionID: "a"})
	h.svc.Check(ctx, sess.ID)
	h.svc.Continue(ctx, sess.ID)

	if err := h.svc.End(ctx, sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if n := h.scheduler.fireAll(); n != 0 {
		t.Errorf("fireAll() ran %d timers after End, want 0", n)
	}

	got, err := h.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusAbandoned || got.State.Phase != PhaseAdvancing {
		t.Errorf("Status = %q Phase = %q, want abandoned and frozen mid-transition", got.Status, got.State.Phase)
	}
}

func TestService_ResumeFinishesTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})

	h.svc.Apply(ctx, sess.ID, Event{Type: EventSelectOption, OptionID: "a"})
	h.svc.Check(ctx, sess.ID)
	h.svc.Continue(ctx, sess.ID)

	// A fresh service over the same store stands in for a daemon restart.
	h.svc.Close()
	restarted := NewService(h.store, h.catalog, h.dispatcher, DefaultConfig())
	restarted.SetScheduler(&manualScheduler{})
	defer restarted.Close()

	got, err := restarted.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State.Phase != PhaseAnswering || got.State.Cursor != 1 {
		t.Errorf("Phase = %q Cursor = %d, want answering on question 2", got.State.Phase, got.State.Cursor)
	}
}

func TestService_MultiPartUsesResolver(t *testing.T) {
	h := newHarness(t)
	h.svc.SetPartResolver(fakeParts{part: 2})

	sess, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", LessonID: "dark-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.State.Part != 2 || sess.State.TotalParts != 3 {
		t.Errorf("Part = %d/%d, want 2/3", sess.State.Part, sess.State.TotalParts)
	}
	if q, _ := sess.State.Current(); q.ID != "p2" {
		t.Errorf("first question = %q, want p2", q.ID)
	}
}

func TestService_ReviewRound(t *testing.T) {
	h := newHarness(t)
	h.cache.review = []domain.Question{{ID: "r1", Kind: domain.KindFillIn, FillIn: &domain.FillInPayload{Answer: "x"}}}

	sess, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", Review: true})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !sess.State.Review || len(sess.State.Questions) != 1 {
		t.Errorf("State = review %v with %d questions, want review with 1", sess.State.Review, len(sess.State.Questions))
	}
}

func TestService_Advance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Answering: nothing to move past.
	got, err := h.svc.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if got.State.Cursor != 0 || got.State.Phase != PhaseAnswering {
		t.Errorf("Advance() while answering moved to cursor %d phase %q", got.State.Cursor, got.State.Phase)
	}

	if _, err := h.svc.Apply(ctx, sess.ID, Event{Type: EventSelectOption, OptionID: "a"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := h.svc.Check(ctx, sess.ID); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	got, err = h.svc.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if got.State.Cursor != 1 || got.State.Phase != PhaseAnswering {
		t.Errorf("Advance() = cursor %d phase %q, want 1 answering", got.State.Cursor, got.State.Phase)
	}

	// The cancelled advance timer must not move the cursor again.
	h.scheduler.fireAll()
	got, _ = h.svc.Get(ctx, sess.ID)
	if got.State.Cursor != 1 {
		t.Errorf("Cursor = %d after stale timer, want 1", got.State.Cursor)
	}
}

const matchingDoc = `{
  "id": "match-1",
  "quiz": [
    {"id": "m1", "type": "matching", "question": "Match them",
     "pairs": [{"term": "Anchor", "definition": "First number"}, {"term": "Frame", "definition": "Context"}]}
  ]
}`

func TestService_FlashTimerKeepsLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.catalog.lessons = append(h.catalog.lessons,
		domain.Lesson{ID: "match-1", Number: 1, Category: "match", Unlocked: true, Document: []byte(matchingDoc)})

	sess, err := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "match-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	wrong := []Event{
		{Type: EventMatch, Term: "Anchor", Definition: "Context"},
		{Type: EventMatch, Term: "Frame", Definition: "First number"},
	}
	for _, ev := range wrong {
		if _, err := h.svc.Apply(ctx, sess.ID, ev); err != nil {
			t.Fatalf("Apply(match) error = %v", err)
		}
	}

	h.scheduler.mu.Lock()
	timers := append([]*pendingTimer(nil), h.scheduler.pending...)
	h.scheduler.mu.Unlock()
	if len(timers) != 2 || !timers[0].cancelled || timers[1].cancelled {
		t.Fatalf("flash timers = %d, want the first replaced by the second", len(timers))
	}

	// A replaced timer that fires anyway leaves the newer flash alone.
	timers[0].fn()
	got, _ := h.svc.Get(ctx, sess.ID)
	if f := got.State.Input.WrongFlash; f == nil || f.Term != "Frame" {
		t.Fatalf("WrongFlash = %+v, want the second attempt still showing", f)
	}

	timers[1].fn()
	got, _ = h.svc.Get(ctx, sess.ID)
	if got.State.Input.WrongFlash != nil {
		t.Errorf("WrongFlash = %+v after its timer, want nil", got.State.Input.WrongFlash)
	}

	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	if len(h.svc.timers) != 0 {
		t.Errorf("timers = %v, want fired timers pruned", h.svc.timers)
	}
	if len(h.svc.locks) != 0 {
		t.Errorf("locks = %d entries, want none held", len(h.svc.locks))
	}
}

func TestService_EndPrunesBookkeeping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.svc.Start(ctx, StartRequest{UserID: "u1", LessonID: "basics-1"})

	h.svc.Apply(ctx, sess.ID, Event{Type: EventSelectOption, OptionID: "a"})
	h.svc.Check(ctx, sess.ID)
	h.svc.Continue(ctx, sess.ID)
	if err := h.svc.End(ctx, sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	if _, ok := h.svc.timers[sess.ID]; ok {
		t.Error("timers still tracked after End")
	}
	if _, ok := h.svc.locks[sess.ID]; ok {
		t.Error("lock still tracked after End")
	}
	if _, ok := h.svc.live[sess.ID]; ok {
		t.Error("session still live after End")
	}
}
