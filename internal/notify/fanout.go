package notify

import (
	"context"
	"errors"

	"civicdesk.org/internal/complaint"
)

// Fanout delivers each notification to every sink. All sinks run even when
// an earlier one fails; failures are joined.
type Fanout []complaint.Notifier

var _ complaint.Notifier = Fanout(nil)

func (f Fanout) ComplaintEscalated(ctx context.Context, c complaint.Complaint, level int) error {
	var errs []error
	for _, n := range f {
		if err := n.ComplaintEscalated(ctx, c, level); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) ComplaintResolved(ctx context.Context, c complaint.Complaint) error {
	var errs []error
	for _, n := range f {
		if err := n.ComplaintResolved(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
