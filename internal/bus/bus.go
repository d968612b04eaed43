// Package bus fans calculation events out to live subscribers such as the
// HTTP event stream.
package bus

import (
	"log"
	"sync"

	"github.com/haricheung/nbscore/internal/types"
)

const subscriberBufSize = 64

// Bus is an in-process publish/subscribe hub for calculation events.
//
// Expectations:
//   - Publish never blocks; a full subscriber drops the event with a warning
//   - A subscriber registered for no kinds receives every kind
//   - Unsubscribe closes the channel; later publishes skip it
//   - A nil *Bus accepts Publish and ignores it
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.EventKind][]chan types.Event
	all         []chan types.Event
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[types.EventKind][]chan types.Event)}
}

// Publish fans out ev to all subscribers of ev.Kind and to catch-all subscribers.
func (b *Bus) Publish(ev types.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	deliver := func(ch chan types.Event) {
		select {
		case ch <- ev:
		default:
			log.Printf("[BUS] WARNING: subscriber channel full for kind=%s id=%s, event dropped", ev.Kind, ev.ID)
		}
	}
	for _, ch := range b.subscribers[ev.Kind] {
		deliver(ch)
	}
	for _, ch := range b.all {
		deliver(ch)
	}
}

// Subscribe returns a channel delivering events of the given kinds, or of
// every kind when none are given. Each call creates an independent channel.
func (b *Bus) Subscribe(kinds ...types.EventKind) <-chan types.Event {
	ch := make(chan types.Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(kinds) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, k := range kinds {
		b.subscribers[k] = append(b.subscribers[k], ch)
	}
	return ch
}

// Unsubscribe removes ch from every kind and closes it.
func (b *Bus) Unsubscribe(ch <-chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var owned chan types.Event
	drop := func(list []chan types.Event) []chan types.Event {
		out := list[:0]
		for _, c := range list {
			if (<-chan types.Event)(c) == ch {
				owned = c
				continue
			}
			out = append(out, c)
		}
		return out
	}
	b.all = drop(b.all)
	for k, list := range b.subscribers {
		if rest := drop(list); len(rest) > 0 {
			b.subscribers[k] = rest
		} else {
			delete(b.subscribers, k)
		}
	}
	if owned != nil {
		close(owned)
	}
}

// Subscribers returns the number of registered channels.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[chan types.Event]struct{}, len(b.all))
	for _, c := range b.all {
		seen[c] = struct{}{}
	}
	for _, list := range b.subscribers {
		for _, c := range list {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}
