package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LESSON TIMERS - One-shot completion per pending lesson
// =============================================================================

// LessonTimers arms a Clock timer at the end of every pending lesson that
// finishes within the horizon. Lessons further out are picked up by a later
// Rearm, lessons already due by the periodic sweep.
type LessonTimers struct {
	engine  *Engine
	horizon time.Duration
	logger  *zap.Logger

	// rearmMu orders whole Rearm calls so a stale lesson list never
	// replaces a newer one.
	rearmMu sync.Mutex

	mu      sync.Mutex
	armed   map[LessonID]Timer
	stopped bool
}

// NewLessonTimers creates timers for engine and subscribes them to its
// change hook.
func NewLessonTimers(engine *Engine, horizon time.Duration, logger *zap.Logger) *LessonTimers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	t := &LessonTimers{
		engine:  engine,
		horizon: horizon,
		logger:  logger.Named("timers"),
		armed:   make(map[LessonID]Timer),
	}
	engine.OnChange(func() {
		if err := t.Rearm(context.Background()); err != nil {
			t.logger.Error("rearm after change failed", zap.Error(err))
		}
	})
	return t
}

// Rearm cancels every outstanding timer and schedules new ones from the
// current store contents.
func (t *LessonTimers) Rearm(ctx context.Context) error {
	t.rearmMu.Lock()
	defer t.rearmMu.Unlock()

	clock := t.engine.clock
	duration := t.engine.settings.LessonDuration
	now := clock.Now()

	// A lesson ends inside (now, now+horizon] when it starts inside
	// (now-duration, now+horizon-duration].
	from := now.Add(-duration)
	lessons, err := t.engine.store.ListPendingBetween(ctx, normalize(from), normalize(now.Add(t.horizon-duration)))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	if t.stopped {
		return nil
	}

	for _, l := range lessons {
		wait := l.EndsAt(duration).Sub(now)
		if wait <= 0 {
			continue
		}
		id := l.ID
		t.armed[id] = clock.AfterFunc(wait, func() { t.fire(id) })
	}
	return nil
}

func (t *LessonTimers) fire(id LessonID) {
	t.mu.Lock()
	delete(t.armed, id)
	t.mu.Unlock()

	n, err := t.engine.CompleteDue(context.Background(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case err != nil:
		t.logger.Error("timer completion failed", zap.Int64("lesson_id", int64(id)), zap.Error(err))
	case n > 0:
		t.logger.Debug("timer completed lessons", zap.Int64("lesson_id", int64(id)), zap.Int("completed", n))
	}
}

// Armed returns how many timers are outstanding.
func (t *LessonTimers) Armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}

// Stop cancels all timers. Later Rearm calls arm nothing.
func (t *LessonTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelLocked()
}

func (t *LessonTimers) cancelLocked() {
	for id, tm := range t.armed {
		tm.Stop()
		delete(t.armed, id)
	}
}
