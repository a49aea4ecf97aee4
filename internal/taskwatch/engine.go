package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/validate"
	"github.com/colonyops/taskwatch/pkg/kv"
	"github.com/rs/zerolog"
)

// ErrSessionNotRunning is returned for operations that need an owner's
// live alarm table when no session is started for that owner.
var ErrSessionNotRunning = errors.New("session not running")

// EngineOptions tunes the engine.
type EngineOptions struct {
	// ResyncInterval re-reads and reconciles each owner's tasks periodically.
	// Zero disables it.
	ResyncInterval time.Duration
	Now            func() time.Time
}

// Engine manages per-owner sessions. Sessions are started and stopped
// explicitly; there is no ambient global alarm state.
type Engine struct {
	store     remote.Store
	scheduler alarm.Scheduler
	sink      notify.Sink
	notifier  *Notifier
	bus       *eventbus.EventBus
	opts      EngineOptions
	base      zerolog.Logger
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex // serializes Start and Stop
	sessions *kv.Store[string, *Session]
	seq      atomic.Int64
}

// NewEngine creates an engine. Sessions live until Stop, StopAll, or until
// the engine's own context is cancelled by StopAll.
func NewEngine(store remote.Store, scheduler alarm.Scheduler, notifier *Notifier, bus *eventbus.EventBus, opts EngineOptions, log zerolog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		scheduler: scheduler,
		sink:      notifier.Sink(),
		notifier:  notifier,
		bus:       bus,
		opts:      opts,
		base:      log,
		log:       log.With().Str("component", "engine").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  kv.New[string, *Session](),
	}
}

// Start begins watching ownerID. Starting a running owner returns the
// existing session.
func (e *Engine) Start(ownerID string) (*Session, error) {
	if err := validate.UserID(ownerID); err != nil {
		return nil, validate.Wrap(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions.Get(ownerID); ok {
		return s, nil
	}
	if e.ctx.Err() != nil {
		return nil, fmt.Errorf("engine stopped: %w", e.ctx.Err())
	}

	r := NewReconciler(ownerID, ReconcilerDeps{
		Store:     e.store,
		Scheduler: e.scheduler,
		Sink:      e.sink,
		Notifier:  e.notifier,
		Bus:       e.bus,
		Seq:       func() int64 { return e.seq.Add(1) },
		Now:       e.opts.Now,
	}, e.base)

	s := newSession(ownerID, r, e.notifier, e.store, e.opts.ResyncInterval, e.base)
	if err := s.start(e.ctx); err != nil {
		return nil, fmt.Errorf("start session for %s: %w", ownerID, err)
	}
	e.sessions.Set(ownerID, s)

	e.log.Info().Str("owner", ownerID).Msg("session started")
	if e.bus != nil {
		e.bus.PublishSessionStarted(eventbus.SessionStartedPayload{OwnerID: ownerID})
	}
	return s, nil
}

// Stop ends the owner's session, cancelling its triggers. Stopping an owner
// without a session is a no-op.
func (e *Engine) Stop(ctx context.Context, ownerID string) {
	e.mu.Lock()
	s, ok := e.sessions.Take(ownerID)
	e.mu.Unlock()

	if !ok {
		return
	}

	s.Stop(ctx)
	e.log.Info().Str("owner", ownerID).Msg("session stopped")
	if e.bus != nil {
		e.bus.PublishSessionStopped(eventbus.SessionStoppedPayload{OwnerID: ownerID})
	}
}

// StopAll stops every session and refuses new ones.
func (e *Engine) StopAll(ctx context.Context) {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()

	for _, ownerID := range e.Owners() {
		e.Stop(ctx, ownerID)
	}
}

// Session returns the running session for ownerID.
func (e *Engine) Session(ownerID string) (*Session, bool) {
	return e.sessions.Get(ownerID)
}

// Owners lists owners with a running session.
func (e *Engine) Owners() []string {
	return e.sessions.Keys()
}

// HandleFire routes a scheduler callback to the owner's reconciler. Fires
// for owners without a session are dropped; their triggers were cancelled
// when the session stopped.
func (e *Engine) HandleFire(ctx context.Context, p alarm.Payload) {
	s, ok := e.sessions.Get(p.OwnerID)
	if !ok {
		e.log.Debug().Str("owner", p.OwnerID).Str("task", p.TaskID).Msg("fire for inactive owner ignored")
		return
	}
	s.reconciler.HandleFire(ctx, p)
}

// reconciler returns the owner's reconciler or ErrSessionNotRunning.
func (e *Engine) reconciler(ownerID string) (*Reconciler, error) {
	s, ok := e.sessions.Get(ownerID)
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrSessionNotRunning)
	}
	return s.reconciler, nil
}
