// Package escalate advances overdue complaints through escalation levels.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/ids"
	"civicdesk.org/internal/obs"
	"civicdesk.org/internal/sla"
)

const (
	defaultWorkers = 4
	notifyTimeout  = 10 * time.Second
)

// Engine decides, per unresolved complaint, whether the escalation level
// must advance, applies the transition exactly once per threshold crossing
// and records one audit entry per level crossed. The same engine backs both
// the scheduled and the manual path.
type Engine struct {
	store    complaint.Store
	notifier complaint.Notifier
	now      func() time.Time
	workers  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithWorkers bounds how many complaints one sweep assesses concurrently.
// Each complaint's decision depends only on its own fields, so within one
// sweep they are independent.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine constructs the escalation engine.
func NewEngine(store complaint.Store, notifier complaint.Notifier, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("escalate: store is required")
	}
	if notifier == nil {
		return nil, errors.New("escalate: notifier is required")
	}
	e := &Engine{store: store, notifier: notifier, now: time.Now, workers: defaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result aggregates one sweep. Failed counts complaints whose write failed;
// a failed row never aborts the rest of the sweep.
type Result struct {
	Processed int
	Escalated int
	Failed    int
}

// Sweep assesses every unresolved complaint once. Cancellation stops the
// sweep between complaints; a row already being committed finishes.
func (e *Engine) Sweep(ctx context.Context) (Result, error) {
	open, err := e.store.ListUnresolved(ctx)
	if err != nil {
		return Result{}, err
	}

	var processed, escalated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, c := range open {
		if ctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			processed.Add(1)
			advanced, err := e.process(ctx, c)
			if err != nil {
				failed.Add(1)
				obs.LogEvent(map[string]any{
					"level":        "error",
					"msg":          "escalation failed",
					"complaint_id": c.ID,
					"error":        err.Error(),
				})
				return nil
			}
			if advanced {
				escalated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Processed: int(processed.Load()),
		Escalated: int(escalated.Load()),
		Failed:    int(failed.Load()),
	}
	return res, ctx.Err()
}

func (e *Engine) process(ctx context.Context, c *complaint.Complaint) (bool, error) {
	if c.Resolved() {
		return false, nil
	}
	now := e.now().UTC()
	target := sla.TargetLevel(c.Priority, c.CreatedAt, now)
	if target <= c.EscalationLevel {
		// Re-running immediately after an advance lands here: idempotent.
		return false, nil
	}

	ev := sla.Evaluate(c.Priority, c.CreatedAt, now)
	recs := make([]*complaint.EscalationRecord, 0, target-c.EscalationLevel)
	for level := c.EscalationLevel + 1; level <= target; level++ {
		recs = append(recs, &complaint.EscalationRecord{
			ID:          ids.New(),
			ComplaintID: c.ID,
			Level:       level,
			Reason: fmt.Sprintf("%s-priority SLA of %dh exceeded by %dh",
				c.Priority, ev.ThresholdHours, ev.OverdueHours),
			CreatedAt: now,
		})
	}

	// Level first: the complaint row is the source of truth. The store
	// guard makes the advance exactly-once even under a racing sweep.
	if err := e.store.SetEscalation(ctx, c.ID, target, now); err != nil {
		if errors.Is(err, complaint.ErrStaleLevel) {
			return false, nil
		}
		return false, err
	}
	if err := e.store.AppendEscalations(ctx, recs); err != nil {
		return false, err
	}

	snapshot := *c
	snapshot.EscalationLevel = target
	snapshot.LastEscalatedAt = &now
	e.notifyEscalated(snapshot, target)
	return true, nil
}

func (e *Engine) notifyEscalated(c complaint.Complaint, level int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.ComplaintEscalated(ctx, c, level); err != nil {
			obs.LogEvent(map[string]any{
				"level":        "warn",
				"msg":          "escalation notification failed",
				"complaint_id": c.ID,
				"error":        err.Error(),
			})
		}
	}()
}
