// Package testbus runs a real event bus for tests and records everything
// published on it.
package testbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/taskwatch/internal/core/eventbus"
)

// waitTimeout bounds AssertPublished.
const waitTimeout = 500 * time.Millisecond

// Recorded is one published event.
type Recorded struct {
	Event   eventbus.Event
	Payload any
}

// Bus is a started EventBus plus a log of what was published on it.
type Bus struct {
	*eventbus.EventBus

	mu      sync.Mutex
	log     []Recorded
	dropped int
	// changed is closed and replaced after every recorded event.
	changed chan struct{}
}

// New starts a bus that stops at test cleanup. Events dropped because the
// buffer filled fail the test.
func New(t *testing.T) *Bus {
	t.Helper()

	tb := &Bus{
		EventBus: eventbus.New(256),
		changed:  make(chan struct{}),
	}
	tb.Observe(eventbus.Observer{
		Published: tb.record,
		Dropped: func(eventbus.Event, any) {
			tb.mu.Lock()
			tb.dropped++
			tb.mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go tb.Start(ctx)

	t.Cleanup(func() {
		cancel()
		tb.mu.Lock()
		defer tb.mu.Unlock()
		if tb.dropped > 0 {
			t.Errorf("testbus: %d event(s) dropped", tb.dropped)
		}
	})
	return tb
}

func (tb *Bus) record(event eventbus.Event, payload any) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.log = append(tb.log, Recorded{Event: event, Payload: payload})
	close(tb.changed)
	tb.changed = make(chan struct{})
}

// Events returns the recorded events in publish order.
func (tb *Bus) Events() []Recorded {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]Recorded(nil), tb.log...)
}

// Count returns how many times event was published.
func (tb *Bus) Count(event eventbus.Event) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.countLocked(event)
}

func (tb *Bus) countLocked(event eventbus.Event) int {
	n := 0
	for _, r := range tb.log {
		if r.Event == event {
			n++
		}
	}
	return n
}

// WaitFor blocks until event has been published at least once or timeout
// elapses.
func (tb *Bus) WaitFor(event eventbus.Event, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		tb.mu.Lock()
		found := tb.countLocked(event) > 0
		changed := tb.changed
		tb.mu.Unlock()

		if found {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// Payloads returns the payloads of event that have type T, in publish order.
func Payloads[T any](tb *Bus, event eventbus.Event) []T {
	var out []T
	for _, r := range tb.Events() {
		if p, ok := r.Payload.(T); ok && r.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// AssertPublished fails the test unless event is published shortly.
func (tb *Bus) AssertPublished(t *testing.T, event eventbus.Event) {
	t.Helper()
	if !tb.WaitFor(event, waitTimeout) {
		t.Errorf("event %q was not published", event)
	}
}
