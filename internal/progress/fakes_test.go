package progress

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

var errUnavailable = errors.New("backend unavailable")

type fakeBackend struct {
	mu       sync.Mutex
	stats    domain.UserStats
	progress map[string]domain.LessonProgress
	updates  []domain.ProgressUpdate
	calls    []string
	streak   domain.StreakResult
	fail     map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		stats:    domain.NewUserStats("u1"),
		progress: make(map[string]domain.LessonProgress),
		streak:   domain.StreakResult{Streak: 5, FirstToday: true},
		fail:     make(map[string]error),
	}
}

func (b *fakeBackend) record(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, name)
	return b.fail[name]
}

func (b *fakeBackend) setFail(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, name)
		return
	}
	b.fail[name] = err
}

func (b *fakeBackend) callNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error) {
	return nil, b.record("GetUserLessons")
}

func (b *fakeBackend) GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error) {
	if err := b.record("GetUserProgress"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.LessonProgress
	for _, p := range b.progress {
		out = append(out, p)
	}
	return out, nil
}

func (b *fakeBackend) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	if err := b.record("GetUserStats"); err != nil {
		return domain.UserStats{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats, nil
}

func (b *fakeBackend) LoseHeart(ctx context.Context, userID, lessonID string) (domain.UserStats, error) {
	if err := b.record("LoseHeart"); err != nil {
		return domain.UserStats{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = b.stats.LoseHeart()
	return b.stats, nil
}

func (b *fakeBackend) RefillHearts(ctx context.Context, userID string) (domain.UserStats, error) {
	if err := b.record("RefillHearts"); err != nil {
		return domain.UserStats{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = b.stats.RefillHearts()
	return b.stats, nil
}

func (b *fakeBackend) AddXP(ctx context.Context, userID string, amount int) (domain.UserStats, error) {
	if err := b.record("AddXP"); err != nil {
		return domain.UserStats{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = b.stats.AddXP(amount)
	return b.stats, nil
}

func (b *fakeBackend) UpdateStreak(ctx context.Context, userID string) (domain.StreakResult, error) {
	if err := b.record("UpdateStreak"); err != nil {
		return domain.StreakResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak, nil
}

func (b *fakeBackend) UpdateLessonProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.LessonProgress, error) {
	if err := b.record("UpdateLessonProgress"); err != nil {
		return domain.LessonProgress{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
	p := b.progress[u.LessonID].Apply(u, time.Now())
	b.progress[u.LessonID] = p
	return p, nil
}

func (b *fakeBackend) SaveLessons(ctx context.Context, lessons []domain.Lesson) error {
	return b.record("SaveLessons")
}

// memOutbox is an in-memory OutboxStore.
type memOutbox struct {
	mu   sync.Mutex
	cmds map[string]*Command
	seq  []string
}

func newMemOutbox() *memOutbox {
	return &memOutbox{cmds: make(map[string]*Command)}
}

func (o *memOutbox) Enqueue(ctx context.Context, cmd Command) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := cmd
	o.cmds[cmd.ID] = &c
	o.seq = append(o.seq, cmd.ID)
	return nil
}

func (o *memOutbox) Due(ctx context.Context, now time.Time, limit int) ([]Command, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Command
	waiting := make(map[string]bool)
	for _, id := range o.seq {
		c := o.cmds[id]
		if c.Status != StatusPending {
			continue
		}
		if c.NextAttemptAt.After(now) {
			waiting[c.UserID] = true
			continue
		}
		if !waiting[c.UserID] {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *memOutbox) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.cmds[id]
	c.Status = StatusDelivered
	t := at
	c.DeliveredAt = &t
	return nil
}

func (o *memOutbox) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.cmds[id]
	c.Attempts = attempts
	c.NextAttemptAt = next
	c.LastError = lastErr
	if dead {
		c.Status = StatusDead
	}
	return nil
}

func (o *memOutbox) Pending(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.cmds {
		if c.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (o *memOutbox) Purge(ctx context.Context, before time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int64
	kept := o.seq[:0]
	for _, id := range o.seq {
		c := o.cmds[id]
		if c.Status == StatusDelivered && c.DeliveredAt != nil && c.DeliveredAt.Before(before) {
			delete(o.cmds, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	o.seq = kept
	return n, nil
}

func (o *memOutbox) kinds() []CommandKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []CommandKind
	for _, id := range o.seq {
		out = append(out, o.cmds[id].Kind)
	}
	return out
}

func (o *memOutbox) get(id string) Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.cmds[id]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePublisher) PublishProgress(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
