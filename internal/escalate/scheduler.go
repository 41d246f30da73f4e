package escalate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"civicdesk.org/internal/obs"
)

const defaultInterval = time.Hour

// ErrSweepInProgress signals that a sweep is already running. A tick or
// manual trigger that hits it skips; nothing queues.
var ErrSweepInProgress = errors.New("escalate: sweep already in progress")

// Scheduler drives the engine on a fixed interval and exposes a synchronous
// manual trigger. Both paths share one in-flight guard so at most one sweep
// runs at a time.
type Scheduler struct {
	engine    *Engine
	interval  time.Duration
	immediate bool
	inFlight  atomic.Bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between scheduled sweeps.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithImmediateSweep runs one sweep as soon as Run starts instead of
// waiting a full interval after a restart.
func WithImmediateSweep(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.immediate = enabled
	}
}

// NewScheduler constructs a scheduler around the engine.
func NewScheduler(engine *Engine, opts ...SchedulerOption) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("escalate: engine is required")
	}
	s := &Scheduler{engine: engine, interval: defaultInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks, sweeping on every tick until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.immediate {
		s.tick(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.sweep(ctx, "interval")
	switch {
	case errors.Is(err, ErrSweepInProgress):
		obs.LogEvent(map[string]any{
			"level": "info",
			"msg":   "sweep tick skipped, previous sweep still running",
		})
	case err != nil:
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "scheduled sweep failed",
			"error": err.Error(),
		})
	default:
		obs.LogEvent(map[string]any{
			"level":     "info",
			"msg":       "scheduled sweep finished",
			"processed": res.Processed,
			"escalated": res.Escalated,
			"failed":    res.Failed,
		})
	}
}

// TriggerNow runs the identical sweep synchronously for administrative use.
// It shares the in-flight guard with the timer path and returns
// ErrSweepInProgress instead of queueing behind a running sweep.
func (s *Scheduler) TriggerNow(ctx context.Context) (Result, error) {
	return s.sweep(ctx, "manual")
}

func (s *Scheduler) sweep(ctx context.Context, trigger string) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSweepInProgress
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	res, err := s.engine.Sweep(ctx)
	obs.ObserveSweep(trigger, res.Escalated, res.Failed, time.Since(start))
	return res, err
}
