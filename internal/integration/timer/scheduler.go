// Package timer implements alarm.Scheduler with in-process timers.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/pkg/randid"
	"github.com/rs/zerolog"
)

// Scheduler fires alarm payloads from time.AfterFunc timers. Triggers do not
// survive a restart; the engine re-derives them from the store on startup.
type Scheduler struct {
	mu     sync.Mutex
	timers map[alarm.Handle]*pending
	fire   alarm.FireFunc
	closed bool

	ctx context.Context
	now func() time.Time
	log zerolog.Logger
}

type pending struct {
	timer   *time.Timer
	fireAt  time.Time
	payload alarm.Payload
}

var _ alarm.Scheduler = (*Scheduler)(nil)

// New creates a scheduler. Fire callbacks receive ctx.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[alarm.Handle]*pending),
		ctx:    ctx,
		now:    time.Now,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// OnFire sets the callback invoked when a trigger fires.
func (s *Scheduler) OnFire(fn alarm.FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fn
}

// Schedule registers a one-shot trigger. A fireAt in the past fires
// immediately.
func (s *Scheduler) Schedule(ctx context.Context, fireAt time.Time, p alarm.Payload) (alarm.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", &alarm.SchedulingError{TaskID: p.TaskID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", &alarm.SchedulingError{TaskID: p.TaskID, Err: errClosed}
	}

	h := alarm.Handle("trg_" + randid.Generate(12))
	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.timers[h] = &pending{
		timer:   time.AfterFunc(delay, func() { s.trigger(h) }),
		fireAt:  fireAt,
		payload: p,
	}

	s.log.Debug().
		Str("handle", string(h)).
		Str("task", p.TaskID).
		Time("fire_at", fireAt).
		Msg("trigger scheduled")

	return h, nil
}

// Cancel stops a pending trigger. Unknown and already fired handles are
// ignored.
func (s *Scheduler) Cancel(_ context.Context, h alarm.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[h]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(s.timers, h)

	s.log.Debug().Str("handle", string(h)).Str("task", p.payload.TaskID).Msg("trigger cancelled")
	return nil
}

// Pending returns the number of registered triggers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all pending triggers and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, h)
	}
	s.closed = true
}

func (s *Scheduler) trigger(h alarm.Handle) {
	s.mu.Lock()
	p, ok := s.timers[h]
	if ok {
		delete(s.timers, h)
	}
	fire := s.fire
	s.mu.Unlock()

	if !ok || fire == nil {
		return
	}

	s.log.Debug().Str("handle", string(h)).Str("task", p.payload.TaskID).Msg("trigger fired")
	fire(s.ctx, p.payload)
}
