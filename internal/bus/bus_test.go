package bus

import (
	"testing"
	"time"

	"github.com/haricheung/nbscore/internal/types"
)

func TestPublish_RoutesByKind(t *testing.T) {
	b := New()
	calc := b.Subscribe(types.EventCalculated)
	all := b.Subscribe()

	b.Publish(types.Event{Kind: types.EventViewed, ID: "v"})
	b.Publish(types.Event{Kind: types.EventCalculated, ID: "c"})

	if ev := <-calc; ev.ID != "c" {
		t.Errorf("kind subscriber got %q, want c", ev.ID)
	}
	select {
	case ev := <-calc:
		t.Errorf("kind subscriber got unexpected %q", ev.ID)
	default:
	}
	if a, c := <-all, <-all; a.ID != "v" || c.ID != "c" {
		t.Errorf("catch-all got %q, %q", a.ID, c.ID)
	}
}

func TestPublish_FullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	for range subscriberBufSize + 10 {
		b.Publish(types.Event{Kind: types.EventCalculated})
	}
	if len(ch) != subscriberBufSize {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBufSize)
	}
}

func TestUnsubscribe_ClosesAndForgets(t *testing.T) {
	b := New()
	ch := b.Subscribe(types.EventCalculated, types.EventViewed)
	other := b.Subscribe()
	if n := b.Subscribers(); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
	if n := b.Subscribers(); n != 1 {
		t.Errorf("Subscribers = %d, want 1", n)
	}
	// publishing after unsubscribe must not panic on the closed channel
	b.Publish(types.Event{Kind: types.EventViewed})
	if len(other) != 1 {
		t.Errorf("remaining subscriber got %d events", len(other))
	}
}

func TestNilBus_PublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(types.Event{Kind: types.EventCalculated})
}

func TestEventOf(t *testing.T) {
	rec := types.Record{ID: "x", Type: types.InputText, Input: "hi", NBMax: 2, NBMin: 1, ViewCount: 3}
	ev := types.EventOf(types.EventViewed, rec, time.Unix(0, 0))
	if ev.ID != "x" || ev.ViewCount != 3 || ev.Kind != types.EventViewed {
		t.Errorf("EventOf = %+v", ev)
	}
}
