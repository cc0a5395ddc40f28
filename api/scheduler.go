/*
scheduler.go - Periodic completion sweep

PURPOSE:
  Per-lesson timers complete lessons the moment they end, but timers do not
  survive a restart and are only armed within a horizon. The sweep catches
  everything else: it runs the completion pass on an interval and re-arms
  the timers afterwards.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start (picks up lessons that ended while the
    process was down)
  - Sweep runs that completed something are recorded by the engine for
    audit and UI display

CONFIGURATION:
  - Interval: How often to sweep (default: 5 minutes)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(engine, timers, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual sweep)
  - ledger/timers.go: Per-lesson timers
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

// SweepScheduler runs the completion sweep on an interval.
type SweepScheduler struct {
	Engine   *ledger.Engine
	Timers   *ledger.LessonTimers // optional
	Interval time.Duration
	Enabled  bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(engine *ledger.Engine, timers *ledger.LessonTimers, logger *zap.Logger) *SweepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepScheduler{
		Engine:   engine,
		Timers:   timers,
		Interval: 5 * time.Minute,
		Enabled:  true,
		logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.logger.Info("disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.Interval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)

	go ss.run(ss.ticker, ss.stop)

	ss.logger.Info("started", zap.Duration("interval", ss.Interval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker == nil {
		return
	}
	ss.ticker.Stop()
	close(ss.stop)
	ss.wg.Wait()
	ss.ticker = nil
	ss.logger.Info("stopped")
}

func (ss *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ss.wg.Done()

	ss.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			ss.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and re-arms the lesson timers. It returns how
// many lessons were completed.
func (ss *SweepScheduler) RunNow(ctx context.Context) int {
	n, err := ss.Engine.RunCompletionSweep(ctx)
	if err != nil {
		ss.logger.Error("completion sweep failed", zap.Error(err))
	}

	if ss.Timers != nil {
		if err := ss.Timers.Rearm(ctx); err != nil {
			ss.logger.Error("rearm timers failed", zap.Error(err))
		}
	}
	return n
}
