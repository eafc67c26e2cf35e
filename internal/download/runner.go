package download

import (
	"context"
	"time"
)

// DefaultTickInterval is used by NewRunner when interval is not positive.
const DefaultTickInterval = 50 * time.Millisecond

// Runner drives a Scheduler from a fixed-interval ticker.
//
// Hosts that already own a loop can call Scheduler.Tick themselves; Runner
// is for programs that do not.
//
// Example:
//
//	runner := download.NewRunner(scheduler, 50*time.Millisecond)
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return runner.Run(ctx) })
type Runner struct {
	scheduler *Scheduler
	interval  time.Duration
	now       func() time.Time
}

// NewRunner creates a Runner for s.
func NewRunner(s *Scheduler, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{scheduler: s, interval: interval, now: time.Now}
}

// Interval returns the tick interval.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run ticks the scheduler until ctx is cancelled, passing the measured time
// between ticks. On return the scheduler is shut down. Run returns nil when
// stopped through ctx.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.scheduler.Shutdown()

	last := r.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := r.now()
			r.scheduler.Tick(now.Sub(last))
			last = now
		}
	}
}
