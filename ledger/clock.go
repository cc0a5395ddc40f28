package ledger

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// CLOCK - "now" plus cancellable one-shot callbacks
// =============================================================================

// Clock supplies the current time and one-shot timers. Every completion and
// expansion decision is taken relative to Clock.Now.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	Stop() bool
}

// SystemClock uses the process wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// =============================================================================
// MANUAL CLOCK - Deterministic clock for tests and scenario replays
// =============================================================================

// ManualClock only moves when told to. Callbacks run synchronously inside
// Advance/Set, in due-time order.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending map[int]*manualTimer
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now, pending: make(map[int]*manualTimer)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, id: c.seq, at: c.now.Add(d), fn: f}
	c.pending[t.id] = t
	return t
}

// Advance moves the clock forward by d and fires due timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// Set moves the clock to t and fires due timers.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	var due []*manualTimer
	for id, tm := range c.pending {
		if !tm.at.After(t) {
			due = append(due, tm)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	for _, tm := range due {
		tm.fn()
	}
}

// Pending returns the number of armed timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type manualTimer struct {
	clock *ManualClock
	id    int
	at    time.Time
	fn    func()
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.pending[t.id]; !ok {
		return false
	}
	delete(t.clock.pending, t.id)
	return true
}
