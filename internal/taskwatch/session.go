package taskwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/rs/zerolog"
)

// resubscribeDelay is the pause before a dropped subscription is reopened.
const resubscribeDelay = time.Second

// Session watches one owner's tasks and supervisor link for as long as the
// owner is active. It owns the owner's Reconciler.
type Session struct {
	ownerID    string
	reconciler *Reconciler
	notifier   *Notifier
	store      remote.Store
	resync     time.Duration
	log        zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	reports int
}

func newSession(ownerID string, r *Reconciler, n *Notifier, store remote.Store, resync time.Duration, log zerolog.Logger) *Session {
	return &Session{
		ownerID:    ownerID,
		reconciler: r,
		notifier:   n,
		store:      store,
		resync:     resync,
		log:        log.With().Str("component", "session").Str("owner", ownerID).Logger(),
		done:       make(chan struct{}),
	}
}

// OwnerID returns the owner this session watches.
func (s *Session) OwnerID() string { return s.ownerID }

// Reconciler returns the session's reconciler.
func (s *Session) Reconciler() *Reconciler { return s.reconciler }

// Passes returns the number of reconciliation passes run so far.
func (s *Session) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports
}

// start opens both subscriptions and begins processing. The first task
// snapshot is reconciled before start returns.
func (s *Session) start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	tasks, err := s.store.Subscribe(ctx, remote.TasksPath(s.ownerID))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe tasks: %w", err)
	}
	links, err := s.store.Subscribe(ctx, remote.LinkPath(s.ownerID))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe link: %w", err)
	}

	select {
	case snap, ok := <-tasks:
		if ok {
			s.reconcile(ctx, snap)
		}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	go s.run(ctx, tasks, links)
	return nil
}

func (s *Session) run(ctx context.Context, tasks, links <-chan remote.Snapshot) {
	defer close(s.done)

	var resync <-chan time.Time
	if s.resync > 0 {
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-tasks:
			if !ok {
				tasks = s.resubscribe(ctx, remote.TasksPath(s.ownerID))
				continue
			}
			s.reconcile(ctx, snap)

		case snap, ok := <-links:
			if !ok {
				links = s.resubscribe(ctx, remote.LinkPath(s.ownerID))
				continue
			}
			if snap.Exists {
				go s.flush(ctx)
			}

		case <-resync:
			snap, err := s.store.ReadOnce(ctx, remote.TasksPath(s.ownerID))
			if err != nil {
				s.log.Warn().Err(err).Msg("resync read failed")
				continue
			}
			s.reconcile(ctx, snap)
		}
	}
}

func (s *Session) reconcile(ctx context.Context, snap remote.Snapshot) {
	if _, err := s.reconciler.Reconcile(ctx, snap); err != nil {
		s.log.Error().Err(err).Int64("revision", snap.Revision).Msg("reconcile failed")
		return
	}
	s.mu.Lock()
	s.reports++
	s.mu.Unlock()
}

func (s *Session) flush(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.FlushQueued(ctx, s.ownerID); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("flush queued notifications failed")
	}
}

// resubscribe reopens a subscription that closed while ctx is still live.
// It returns nil once ctx is done, which disables that select case.
func (s *Session) resubscribe(ctx context.Context, path string) <-chan remote.Snapshot {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ch, err := s.store.Subscribe(ctx, path)
		if err == nil {
			s.log.Debug().Str("path", path).Msg("resubscribed")
			return ch
		}
		s.log.Warn().Err(err).Str("path", path).Msg("resubscribe failed")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

// Stop ends the subscriptions and cancels every alarm the session holds.
func (s *Session) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.reconciler.Stop(ctx)
	s.log.Debug().Msg("session stopped")
}
