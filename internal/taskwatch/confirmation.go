package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/colonyops/taskwatch/internal/core/logging"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/core/validate"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

// SnoozeLimits bounds snooze durations in minutes.
type SnoozeLimits struct {
	DefaultMinutes int
	MaxMinutes     int
}

// ConfirmationService runs the owner/supervisor handshake: marking tasks
// done, reviewing completions, and snoozing alarms.
type ConfirmationService struct {
	store    remote.Store
	links    link.Resolver
	notifier *Notifier
	engine   *Engine
	bus      *eventbus.EventBus
	snooze   SnoozeLimits
	locks    taskLocks
	now      func() time.Time
	log      zerolog.Logger
}

// NewConfirmationService creates the service.
func NewConfirmationService(
	store remote.Store,
	links link.Resolver,
	notifier *Notifier,
	engine *Engine,
	bus *eventbus.EventBus,
	snooze SnoozeLimits,
	log zerolog.Logger,
) *ConfirmationService {
	return &ConfirmationService{
		store:    store,
		links:    links,
		notifier: notifier,
		engine:   engine,
		bus:      bus,
		snooze:   snooze,
		now:      time.Now,
		log:      log.With().Str("component", "confirmation").Logger(),
	}
}

// MarkDone moves a pending task to done, closes its alarm, and notifies the
// linked supervisor. Notification problems are recorded, never returned.
// Marking a task that is not pending is an illegal transition.
func (s *ConfirmationService) MarkDone(ctx context.Context, ownerID, taskID string) (task.Task, error) {
	ctx = logging.ForTask(ctx, ownerID, taskID)
	defer s.locks.lock(ownerID, taskID)()

	t, err := s.load(ctx, ownerID, taskID, task.StatusPending)
	if err != nil {
		return task.Task{}, err
	}

	res, err := task.Transition(t, task.Change{Event: task.EventMarkDone, At: s.now(), ActorID: ownerID})
	if err != nil {
		return task.Task{}, err
	}

	var rec *Reconciler
	closing := false
	if r, err := s.engine.reconciler(ownerID); err == nil {
		rec = r
		_, closing = r.BeginClose(taskID)
	}

	if err := s.write(ctx, t, task.StatusPending, res.Fields); err != nil {
		if closing {
			rec.AbortClose(taskID)
		}
		return task.Task{}, fmt.Errorf("mark done: %w", err)
	}

	if res.HasEffect(task.EffectCompleteAlarm) {
		if closing {
			rec.FinishClose(ctx, taskID)
		} else {
			s.notifier.Sink().StopLoopingAlert(ownerID, taskID)
		}
	}

	s.applyEffects(ctx, res)
	s.published(res, task.EventMarkDone)

	s.log.Info().Ctx(ctx).Msg("task marked done")
	return res.Task, nil
}

// Review is a supervisor's decision on a completed task.
type Review struct {
	SupervisorID string `json:"supervisorId"`
	Accepted     bool   `json:"accepted"`
	Message      string `json:"message,omitempty"`
}

// ReviewCompletion confirms or rejects a done task. Only the owner's linked
// supervisor may review. A task no longer in done is a stale entity and
// nothing is written. Rejection returns the task to pending; the owner's
// reconciler re-arms the alarm when it observes that.
func (s *ConfirmationService) ReviewCompletion(ctx context.Context, ownerID, taskID string, rv Review) (task.Task, error) {
	ctx = logging.ForTask(ctx, ownerID, taskID)

	if err := validate.Wrap(criterio.ValidateStruct(
		validate.UserIDField("owner", ownerID),
		validate.UserIDField("supervisorId", rv.SupervisorID),
	)); err != nil {
		return task.Task{}, err
	}

	l, err := s.links.Supervisor(ctx, ownerID)
	switch {
	case errors.Is(err, link.ErrMissing):
		return task.Task{}, fmt.Errorf("owner %s has no supervisor: %w", ownerID, link.ErrNotLinked)
	case err != nil:
		return task.Task{}, err
	case l.SupervisorID != rv.SupervisorID:
		return task.Task{}, fmt.Errorf("supervisor %s for owner %s: %w", rv.SupervisorID, ownerID, link.ErrNotLinked)
	}

	defer s.locks.lock(ownerID, taskID)()

	t, err := s.require(ctx, ownerID, taskID, task.StatusDone)
	if err != nil {
		return task.Task{}, err
	}

	ev := task.EventSupervisorReject
	if rv.Accepted {
		ev = task.EventSupervisorConfirm
	}

	res, err := task.Transition(t, task.Change{Event: ev, At: s.now(), ActorID: rv.SupervisorID, Message: rv.Message})
	if err != nil {
		return task.Task{}, err
	}

	if err := s.write(ctx, t, task.StatusDone, res.Fields); err != nil {
		return task.Task{}, fmt.Errorf("review completion: %w", err)
	}

	s.applyEffects(ctx, res)
	s.published(res, ev)

	s.log.Info().Ctx(ctx).Str("supervisor", rv.SupervisorID).Bool("accepted", rv.Accepted).Msg("completion reviewed")
	return res.Task, nil
}

// Snooze defers the task's alarm by minutes (zero means the configured
// default). The task stays pending.
func (s *ConfirmationService) Snooze(ctx context.Context, ownerID, taskID string, minutes int) (SnoozeResult, error) {
	ctx = logging.ForTask(ctx, ownerID, taskID)

	if minutes == 0 {
		minutes = s.snooze.DefaultMinutes
	}
	if err := validate.SnoozeMinutes(minutes, s.snooze.MaxMinutes); err != nil {
		return SnoozeResult{}, validate.Wrap(criterio.NewFieldErrors("minutes", err))
	}

	r, err := s.engine.reconciler(ownerID)
	if err != nil {
		return SnoozeResult{}, err
	}

	if _, err := s.require(ctx, ownerID, taskID, task.StatusPending); err != nil {
		return SnoozeResult{}, err
	}

	res, err := r.Snooze(ctx, taskID, time.Duration(minutes)*time.Minute)
	if err != nil {
		return SnoozeResult{}, err
	}
	s.log.Info().Ctx(ctx).Int("minutes", minutes).Msg("alarm snoozed")
	return res, nil
}

// load reads the task. A task that vanished is a stale entity.
func (s *ConfirmationService) load(ctx context.Context, ownerID, taskID string, want task.Status) (task.Task, error) {
	t, err := readTask(ctx, s.store, ownerID, taskID)
	if errors.Is(err, task.ErrNotFound) {
		return task.Task{}, &task.StaleEntityError{TaskID: taskID, Want: want}
	}
	return t, err
}

// require is load plus a status check; any other status is stale.
func (s *ConfirmationService) require(ctx context.Context, ownerID, taskID string, want task.Status) (task.Task, error) {
	t, err := s.load(ctx, ownerID, taskID, want)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status != want {
		return task.Task{}, &task.StaleEntityError{TaskID: taskID, Want: want, Got: t.Status}
	}
	return t, nil
}

// write applies a transition's fields to the stored task. A task deleted
// since it was read is a stale entity and is not recreated.
func (s *ConfirmationService) write(ctx context.Context, t task.Task, want task.Status, fields map[string]any) error {
	err := s.store.Update(ctx, remote.TaskPath(t.OwnerID, t.ID), fields)
	if errors.Is(err, remote.ErrNotFound) {
		return &task.StaleEntityError{TaskID: t.ID, Want: want}
	}
	return err
}

func (s *ConfirmationService) applyEffects(ctx context.Context, res task.Result) {
	for _, eff := range res.Effects {
		var err error
		switch eff {
		case task.EffectNotifySupervisor:
			_, err = s.notifier.NotifySupervisor(ctx, res.Task, notify.TypeTaskCompleted)
		case task.EffectNotifyOwnerConfirmed:
			_, err = s.notifier.NotifyOwner(ctx, res.Task, notify.TypeTaskConfirmed, "")
		case task.EffectNotifyOwnerRejected:
			_, err = s.notifier.NotifyOwner(ctx, res.Task, notify.TypeTaskRejected, "")
		case task.EffectStopOwnerAlarm:
			s.notifier.Sink().StopLoopingAlert(res.Task.OwnerID, res.Task.ID)
		case task.EffectRearmAlarm:
			// The owner's reconciler schedules a new instance once it sees
			// the task pending again.
		}
		if err != nil {
			s.log.Warn().Err(err).Ctx(ctx).Str("effect", string(eff)).Msg("effect failed")
		}
	}
}

func (s *ConfirmationService) published(res task.Result, ev task.Event) {
	if s.bus == nil {
		return
	}
	s.bus.PublishTaskTransitioned(eventbus.TaskTransitionedPayload{
		Task:  res.Task,
		From:  res.From,
		To:    res.To,
		Event: ev,
	})
}

// taskLocks serializes the read-check-write sequence of each task within the
// process. Entries are dropped when their last holder releases them.
type taskLocks struct {
	mu   sync.Mutex
	held map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the task is free and returns the release func.
func (l *taskLocks) lock(ownerID, taskID string) func() {
	key := ownerID + "/" + taskID

	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*taskLock)
	}
	tl, ok := l.held[key]
	if !ok {
		tl = &taskLock{}
		l.held[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}
