package eventbus

import (
	"sync"
	"sync/atomic"
)

// Observer watches bus traffic without subscribing to specific events.
// Nil callbacks are skipped.
type Observer struct {
	Published func(event Event, payload any)
	Dropped   func(event Event, payload any)
	Panicked  func(event Event, payload any, recovered any)
}

// Stats counts bus traffic since creation.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

type observers struct {
	mu   sync.RWMutex
	list []Observer

	published atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.list
}

// Observe registers obs for every future publish, drop and subscriber panic.
func (bus *EventBus) Observe(obs Observer) {
	bus.obs.mu.Lock()
	defer bus.obs.mu.Unlock()
	// Copy on write so snapshot readers never see a partially grown slice.
	next := make([]Observer, len(bus.obs.list), len(bus.obs.list)+1)
	copy(next, bus.obs.list)
	bus.obs.list = append(next, obs)
}

// Stats returns the traffic counters.
func (bus *EventBus) Stats() Stats {
	return Stats{
		Published: bus.obs.published.Load(),
		Dropped:   bus.obs.dropped.Load(),
		Panics:    bus.obs.panics.Load(),
	}
}

// send enqueues an event without blocking.
func (bus *EventBus) send(event Event, payload any) {
	select {
	case bus.ch <- envelope{event: event, payload: payload}:
		bus.obs.published.Add(1)
		for _, o := range bus.obs.snapshot() {
			if o.Published != nil {
				o.Published(event, payload)
			}
		}
	default:
		bus.obs.dropped.Add(1)
		for _, o := range bus.obs.snapshot() {
			if o.Dropped != nil {
				o.Dropped(event, payload)
			}
		}
	}
}

func (bus *EventBus) notifyPanic(event Event, payload any, recovered any) {
	bus.obs.panics.Add(1)
	for _, o := range bus.obs.snapshot() {
		if o.Panicked == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			o.Panicked(event, payload, recovered)
		}()
	}
}
