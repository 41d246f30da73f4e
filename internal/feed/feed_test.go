package feed

import (
	"context"
	"testing"
	"time"

	"civicdesk.org/internal/complaint"
)

func TestSubscribeReceivesEscalation(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.Subscribe(ctx)

	c := complaint.Complaint{
		ID:       "c-1",
		Category: "roads",
		Priority: complaint.PriorityHigh,
		Status:   complaint.StatusNew,
	}
	if err := f.ComplaintEscalated(context.Background(), c, 2); err != nil {
		t.Fatalf("ComplaintEscalated: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != "escalated" || evt.ComplaintID != "c-1" || evt.Level != 2 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			f.Publish(Event{Type: "escalated", ComplaintID: "c-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
