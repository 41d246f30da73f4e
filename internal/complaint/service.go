package complaint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civicdesk.org/internal/auth"
	"civicdesk.org/internal/ids"
	"civicdesk.org/internal/obs"
)

const notifyTimeout = 10 * time.Second

// Service provides intake and triage operations.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the complaint service.
func NewService(store Store, notifier Notifier, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is required", ErrInvalidInput)
	}
	s := &Service{store: store, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput carries a new complaint submission. OwnerEmail is empty for
// anonymous submissions.
type CreateInput struct {
	Category    string
	Description string
	Priority    string
	OwnerEmail  string
}

// Create validates and stores a new complaint at level 0, status new.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Complaint, error) {
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	priority, ok := ParsePriority(in.Priority)
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	c := &Complaint{
		ID:          ids.New(),
		Category:    category,
		Description: description,
		Priority:    priority,
		Status:      StatusNew,
		OwnerEmail:  auth.NormalizeEmail(in.OwnerEmail),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get loads a single complaint.
func (s *Service) Get(ctx context.Context, id string) (*Complaint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: complaint id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns all complaints, newest first.
func (s *Service) List(ctx context.Context) ([]*Complaint, error) {
	return s.store.List(ctx)
}

// History returns the escalation audit trail for a complaint.
func (s *Service) History(ctx context.Context, complaintID string) ([]*EscalationRecord, error) {
	complaintID = strings.TrimSpace(complaintID)
	if complaintID == "" {
		return nil, fmt.Errorf("%w: complaint id is required", ErrInvalidInput)
	}
	return s.store.ListEscalations(ctx, complaintID)
}

// SetStatus advances a complaint's status. Transitions are strictly forward;
// resolution stamps ResolvedAt once and hands the snapshot to the notifier
// without blocking on it.
func (s *Service) SetStatus(ctx context.Context, id string, next Status) (*Complaint, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	var resolvedAt *time.Time
	if next == StatusResolved {
		t := s.now().UTC()
		resolvedAt = &t
	}
	if err := s.store.UpdateStatus(ctx, c.ID, next, resolvedAt); err != nil {
		return nil, err
	}
	c.Status = next
	c.ResolvedAt = resolvedAt
	if next == StatusResolved {
		s.notifyResolved(*c)
	}
	return c, nil
}

func (s *Service) notifyResolved(c Complaint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.ComplaintResolved(ctx, c); err != nil {
			obs.LogEvent(map[string]any{
				"level":        "warn",
				"msg":          "resolution notification failed",
				"complaint_id": c.ID,
				"error":        err.Error(),
			})
		}
	}()
}
