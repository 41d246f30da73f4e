// Package feed fan-outs complaint lifecycle events to live subscribers, for
// example admin dashboards listening on the SSE endpoint.
package feed

import (
	"context"
	"sync"
	"time"

	"civicdesk.org/internal/complaint"
)

// Event is one complaint lifecycle change.
type Event struct {
	Type        string    `json:"type"` // "escalated" or "resolved"
	ComplaintID string    `json:"complaint_id"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Level       int       `json:"level,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Feed fan-outs events to all active subscribers. It also implements
// complaint.Notifier so it can sit next to the mailer behind one fanout.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

var _ complaint.Notifier = (*Feed)(nil)

func New() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which receives
// events. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (f *Feed) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

func (f *Feed) ComplaintEscalated(_ context.Context, c complaint.Complaint, level int) error {
	f.Publish(Event{
		Type:        "escalated",
		ComplaintID: c.ID,
		Category:    c.Category,
		Priority:    string(c.Priority),
		Status:      string(c.Status),
		Level:       level,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

func (f *Feed) ComplaintResolved(_ context.Context, c complaint.Complaint) error {
	f.Publish(Event{
		Type:        "resolved",
		ComplaintID: c.ID,
		Category:    c.Category,
		Priority:    string(c.Priority),
		Status:      string(c.Status),
		Timestamp:   time.Now().UTC(),
	})
	return nil
}
