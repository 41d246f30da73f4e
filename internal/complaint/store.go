package complaint

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("complaint: not found")
	ErrInvalidInput      = errors.New("complaint: invalid input")
	ErrInvalidTransition = errors.New("complaint: status moves forward only")
	ErrStaleLevel        = errors.New("complaint: escalation level not advanced")
)

// Store describes persistence for complaints and their escalation history.
// Row updates are per-row atomic; no cross-row transaction is assumed.
type Store interface {
	Create(ctx context.Context, c *Complaint) error
	Get(ctx context.Context, id string) (*Complaint, error)
	List(ctx context.Context) ([]*Complaint, error)
	ListUnresolved(ctx context.Context) ([]*Complaint, error)

	// UpdateStatus writes the status and, on resolution, the resolution
	// timestamp. Never touches escalation fields.
	UpdateStatus(ctx context.Context, id string, status Status, resolvedAt *time.Time) error

	// SetEscalation writes level and last-escalated timestamp only when the
	// stored level is lower, returning ErrStaleLevel otherwise. Never
	// touches status fields.
	SetEscalation(ctx context.Context, id string, level int, at time.Time) error

	// AppendEscalations inserts audit records. Records are never updated or
	// deleted afterwards.
	AppendEscalations(ctx context.Context, recs []*EscalationRecord) error
	ListEscalations(ctx context.Context, complaintID string) ([]*EscalationRecord, error)
}

// Notifier receives complaint lifecycle events. Callers fire and forget:
// a notifier failure must never fail the operation that triggered it.
type Notifier interface {
	ComplaintEscalated(ctx context.Context, c Complaint, level int) error
	ComplaintResolved(ctx context.Context, c Complaint) error
}
