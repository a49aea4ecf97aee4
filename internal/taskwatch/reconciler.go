package taskwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/logging"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Cancellation reasons carried on AlarmCancelled events.
const (
	ReasonTaskNotPending = "task_not_pending"
	ReasonTaskDeleted    = "task_deleted"
	ReasonSnoozed        = "snoozed"
	ReasonMarkedDone     = "marked_done"
	ReasonSelfHeal       = "self_heal"
	ReasonSessionStopped = "session_stopped"
)

// ErrNoActiveAlarm is returned when snoozing a task that has no alarm in the
// owner's table.
var ErrNoActiveAlarm = errors.New("no active alarm")

// Report summarizes one reconciliation pass. Each slice holds task ids.
type Report struct {
	OwnerID   string   `json:"ownerId"`
	Revision  int64    `json:"revision"`
	Skipped   bool     `json:"skipped,omitempty"`
	Scheduled []string `json:"scheduled"`
	Cancelled []string `json:"cancelled"`
	Failed    []string `json:"failed"`
	Healed    []string `json:"healed"`
}

type entry struct {
	alarm alarm.Alarm
	// closing is set while MarkDone writes the task; fire callbacks and
	// reconciliation leave the entry alone until it is resolved.
	closing bool
}

type persistMark struct {
	seq  int64
	rank int
}

// Reconciler keeps one owner's active alarms congruent with the owner's
// pending tasks. The table lock is never held across scheduler, store, or
// sink calls: work is copied out, performed unlocked, and committed after
// re-checking the latest snapshot.
type Reconciler struct {
	ownerID   string
	store     remote.Store
	scheduler alarm.Scheduler
	sink      notify.Sink
	notifier  *Notifier
	bus       *eventbus.EventBus
	seq       func() int64
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	table    map[string]*entry
	inflight map[string]struct{}
	tasks    map[string]task.Task
	lastRev  int64
	seen     bool
	stopped  bool

	// unreadable holds ids present in the latest snapshot whose record
	// could not be decoded. Their alarms are left as they are.
	unreadable map[string]struct{}

	persistMu sync.Mutex
	persisted map[string]persistMark

	// loopMu is held from the fire path's table re-check until its looping
	// alert has started, and around every stop.
	loopMu sync.Mutex
}

// ReconcilerDeps are the collaborators shared by every owner's reconciler.
type ReconcilerDeps struct {
	Store     remote.Store
	Scheduler alarm.Scheduler
	Sink      notify.Sink
	Notifier  *Notifier
	Bus       *eventbus.EventBus
	// Seq returns increasing instance sequence numbers.
	Seq func() int64
	Now func() time.Time
}

// NewReconciler creates a reconciler for ownerID.
func NewReconciler(ownerID string, deps ReconcilerDeps, log zerolog.Logger) *Reconciler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	seq := deps.Seq
	if seq == nil {
		var mu sync.Mutex
		var n int64
		seq = func() int64 {
			mu.Lock()
			defer mu.Unlock()
			n++
			return n
		}
	}

	return &Reconciler{
		ownerID:   ownerID,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		sink:      deps.Sink,
		notifier:  deps.Notifier,
		bus:       deps.Bus,
		seq:       seq,
		now:       now,
		log:       log.With().Str("component", "reconciler").Str("owner", ownerID).Logger(),
		table:     make(map[string]*entry),
		inflight:  make(map[string]struct{}),
		tasks:     make(map[string]task.Task),
		persisted: make(map[string]persistMark),
	}
}

type scheduleJob struct {
	task task.Task
}

type cancelJob struct {
	alarm  alarm.Alarm
	reason string
}

// Reconcile diffs snap, the owner's full task collection, against the alarm
// table. Snapshots older than one already processed are skipped.
func (r *Reconciler) Reconcile(ctx context.Context, snap remote.Snapshot) (Report, error) {
	report := Report{OwnerID: r.ownerID, Revision: snap.Revision}

	tasks, unreadable, err := r.decodeTasks(snap)
	if err != nil {
		return report, err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		report.Skipped = true
		return report, nil
	}
	if r.seen && snap.Revision < r.lastRev {
		r.mu.Unlock()
		report.Skipped = true
		r.log.Debug().Int64("revision", snap.Revision).Int64("last", r.lastRev).Msg("stale snapshot skipped")
		return report, nil
	}
	r.seen = true
	r.lastRev = snap.Revision
	r.tasks = tasks
	r.unreadable = unreadable

	var schedule []scheduleJob
	for _, id := range sortedKeys(tasks) {
		t := tasks[id]
		if t.Status != task.StatusPending {
			continue
		}
		if _, ok := r.table[id]; ok {
			continue
		}
		if _, busy := r.inflight[id]; busy {
			continue
		}
		r.inflight[id] = struct{}{}
		schedule = append(schedule, scheduleJob{task: t})
	}

	var cancel []cancelJob
	for _, id := range sortedKeys(r.table) {
		e := r.table[id]
		if e.closing {
			continue
		}
		if _, busy := r.inflight[id]; busy {
			continue
		}
		reason, drop := r.dropReasonLocked(id)
		if !drop {
			continue
		}
		delete(r.table, id)
		cancel = append(cancel, cancelJob{alarm: e.alarm, reason: reason})
	}
	r.mu.Unlock()

	for _, job := range schedule {
		switch r.scheduleOne(ctx, job.task) {
		case outcomeScheduled:
			report.Scheduled = append(report.Scheduled, job.task.ID)
		case outcomeFailed:
			report.Failed = append(report.Failed, job.task.ID)
		}
	}

	for _, job := range cancel {
		r.cancelAlarm(ctx, job.alarm, job.reason)
		report.Cancelled = append(report.Cancelled, job.alarm.TaskID)
	}

	report.Healed = r.selfHeal(ctx)

	if r.bus != nil {
		r.bus.PublishReconcileCompleted(eventbus.ReconcileCompletedPayload{
			OwnerID:   r.ownerID,
			Revision:  snap.Revision,
			Scheduled: len(report.Scheduled),
			Cancelled: len(report.Cancelled),
			Failed:    len(report.Failed),
			Healed:    len(report.Healed),
		})
	}

	if len(report.Scheduled)+len(report.Cancelled)+len(report.Failed)+len(report.Healed) > 0 {
		r.log.Info().
			Int64("revision", snap.Revision).
			Int("scheduled", len(report.Scheduled)).
			Int("cancelled", len(report.Cancelled)).
			Int("failed", len(report.Failed)).
			Int("healed", len(report.Healed)).
			Msg("reconciled")
	}

	return report, nil
}

// dropReasonLocked reports whether the table entry for id no longer has a
// pending task in the latest snapshot.
func (r *Reconciler) dropReasonLocked(id string) (string, bool) {
	if _, ok := r.unreadable[id]; ok {
		return "", false
	}
	t, ok := r.tasks[id]
	if !ok {
		return ReasonTaskDeleted, true
	}
	if t.Status != task.StatusPending {
		return ReasonTaskNotPending, true
	}
	return "", false
}

type outcome int

const (
	outcomeScheduled outcome = iota
	outcomeFailed
	// outcomeSuperseded means a newer snapshot showed the task no longer
	// pending while the trigger was being registered.
	outcomeSuperseded
)

// scheduleOne registers a trigger for t and commits it to the table if the
// task is still pending in the latest snapshot.
func (r *Reconciler) scheduleOne(ctx context.Context, t task.Task) outcome {
	release := func() {
		r.mu.Lock()
		delete(r.inflight, t.ID)
		r.mu.Unlock()
	}

	tod, err := t.TimeOfDay()
	if err != nil {
		release()
		r.log.Warn().Err(err).Str("task", t.ID).Msg("task has an invalid time, not scheduling")
		return outcomeFailed
	}

	now := r.now()
	a := alarm.Alarm{
		OwnerID:     r.ownerID,
		TaskID:      t.ID,
		InstanceID:  uuid.NewString(),
		Status:      alarm.StatusScheduled,
		TaskTitle:   t.Title,
		TaskTime:    t.Time,
		FireAt:      task.NextOccurrence(tod, now),
		ScheduledAt: now,
		Seq:         r.seq(),
	}

	h, err := r.scheduler.Schedule(ctx, a.FireAt, alarm.Payload{
		OwnerID:    r.ownerID,
		TaskID:     t.ID,
		InstanceID: a.InstanceID,
	})
	if err != nil {
		release()
		r.log.Warn().Err(err).Str("task", t.ID).Msg("scheduling failed, will retry on next pass")
		return outcomeFailed
	}
	a.Handle = h

	r.mu.Lock()
	delete(r.inflight, t.ID)
	latest, ok := r.tasks[t.ID]
	keep := !r.stopped && ok && latest.Status == task.StatusPending
	if keep {
		r.table[t.ID] = &entry{alarm: a}
	}
	r.mu.Unlock()

	if !keep {
		r.log.Debug().Str("task", t.ID).Msg("task left pending while scheduling, rolling back")
		if err := r.scheduler.Cancel(ctx, h); err != nil {
			r.log.Warn().Err(err).Str("task", t.ID).Msg("rollback cancel failed")
		}
		return outcomeSuperseded
	}

	r.persist(ctx, a)
	if r.bus != nil {
		r.bus.PublishAlarmScheduled(eventbus.AlarmScheduledPayload{Alarm: a})
	}
	return outcomeScheduled
}

// cancelAlarm withdraws a removed alarm instance.
func (r *Reconciler) cancelAlarm(ctx context.Context, a alarm.Alarm, reason string) alarm.Alarm {
	if err := r.scheduler.Cancel(ctx, a.Handle); err != nil {
		r.log.Warn().Err(err).Str("task", a.TaskID).Msg("cancel trigger failed")
	}
	if a.Status == alarm.StatusTriggered {
		r.stopLooping(a.TaskID)
	}

	a.Cancel(r.now())
	r.persist(ctx, a)
	if r.bus != nil {
		r.bus.PublishAlarmCancelled(eventbus.AlarmCancelledPayload{Alarm: a, Reason: reason})
	}
	return a
}

// selfHeal force-cancels table entries whose task is provably not pending.
// Reaching this is a bug elsewhere, so it logs at error level.
func (r *Reconciler) selfHeal(ctx context.Context) []string {
	r.mu.Lock()
	var broken []alarm.Alarm
	for _, id := range sortedKeys(r.table) {
		e := r.table[id]
		if e.closing {
			continue
		}
		if _, busy := r.inflight[id]; busy {
			continue
		}
		if _, drop := r.dropReasonLocked(id); !drop {
			continue
		}
		delete(r.table, id)
		broken = append(broken, e.alarm)
	}
	r.mu.Unlock()

	healed := make([]string, 0, len(broken))
	for _, a := range broken {
		r.log.Error().
			Str("task", a.TaskID).
			Str("instance", a.InstanceID).
			Str("status", string(a.Status)).
			Msg("invariant violated: active alarm without pending task, forcing cancel")
		r.cancelAlarm(ctx, a, ReasonSelfHeal)
		healed = append(healed, a.TaskID)
	}
	return healed
}

// HandleFire is the scheduler callback. Payloads for instances no longer in
// the table, already triggered, or being closed are ignored.
func (r *Reconciler) HandleFire(ctx context.Context, p alarm.Payload) {
	r.mu.Lock()
	e, ok := r.table[p.TaskID]
	if !ok || e.closing || e.alarm.InstanceID != p.InstanceID || e.alarm.Status != alarm.StatusScheduled {
		r.mu.Unlock()
		r.log.Debug().Str("task", p.TaskID).Str("instance", p.InstanceID).Msg("ignoring stale fire")
		return
	}
	now := r.now()
	e.alarm.Trigger(now)
	a := e.alarm
	t := r.tasks[p.TaskID]
	r.mu.Unlock()

	ctx = logging.ForTask(ctx, r.ownerID, a.TaskID)
	r.log.Info().Ctx(ctx).Str("title", a.TaskTitle).Msg("alarm triggered")

	r.persist(ctx, a)

	if _, err := r.store.Push(ctx, remote.AlarmEventsPath(r.ownerID), alarm.Event{
		TaskID:      a.TaskID,
		InstanceID:  a.InstanceID,
		TaskTitle:   a.TaskTitle,
		TriggeredAt: now,
		Type:        "alarm_triggered",
		Status:      string(alarm.StatusTriggered),
	}); err != nil {
		r.log.Warn().Err(err).Ctx(ctx).Msg("append alarm event failed")
	}

	if t.ID == "" {
		t = task.Task{ID: a.TaskID, OwnerID: r.ownerID, Title: a.TaskTitle, Time: a.TaskTime}
	}
	if r.notifier != nil {
		if _, err := r.notifier.NotifyOwner(ctx, t, notify.TypeTaskAlarm, ""); err != nil {
			r.log.Warn().Err(err).Ctx(ctx).Msg("record alarm notification failed")
		}
	}
	r.loopMu.Lock()
	if r.stillTriggered(a) {
		if err := r.sink.StartLoopingAlert(ctx, r.ownerID, a.TaskID); err != nil {
			r.log.Warn().Err(err).Ctx(ctx).Msg("start looping alert failed")
		}
	} else {
		r.log.Debug().Ctx(ctx).Msg("alarm closed while firing, looping alert not started")
	}
	r.loopMu.Unlock()

	if r.bus != nil {
		r.bus.PublishAlarmTriggered(eventbus.AlarmTriggeredPayload{Alarm: a})
	}
}

// stillTriggered reports whether a is still the task's triggered alarm and
// no close is under way.
func (r *Reconciler) stillTriggered(a alarm.Alarm) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table[a.TaskID]
	return ok && !r.stopped && !e.closing &&
		e.alarm.InstanceID == a.InstanceID && e.alarm.Status == alarm.StatusTriggered
}

func (r *Reconciler) stopLooping(taskID string) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.sink.StopLoopingAlert(r.ownerID, taskID)
}

// SnoozeResult holds the instance that was cancelled and its replacement.
type SnoozeResult struct {
	Cancelled alarm.Alarm `json:"cancelled"`
	Scheduled alarm.Alarm `json:"scheduled"`
}

// Snooze replaces the task's current alarm instance with one firing at
// now+d. The replacement is scheduled before the old trigger is cancelled,
// and the table keeps an entry throughout so no pass double-schedules.
func (r *Reconciler) Snooze(ctx context.Context, taskID string, d time.Duration) (SnoozeResult, error) {
	r.mu.Lock()
	e, ok := r.table[taskID]
	if !ok || e.closing {
		r.mu.Unlock()
		return SnoozeResult{}, fmt.Errorf("task %s: %w", taskID, ErrNoActiveAlarm)
	}
	if _, busy := r.inflight[taskID]; busy {
		r.mu.Unlock()
		return SnoozeResult{}, fmt.Errorf("task %s: alarm is being updated: %w", taskID, task.ErrStaleEntity)
	}
	r.inflight[taskID] = struct{}{}
	old := e.alarm
	r.mu.Unlock()

	now := r.now()
	next := alarm.Alarm{
		OwnerID:     r.ownerID,
		TaskID:      taskID,
		InstanceID:  uuid.NewString(),
		Status:      alarm.StatusScheduled,
		TaskTitle:   old.TaskTitle,
		TaskTime:    old.TaskTime,
		FireAt:      now.Add(d),
		Snoozed:     true,
		ScheduledAt: now,
		Seq:         r.seq(),
	}

	h, err := r.scheduler.Schedule(ctx, next.FireAt, alarm.Payload{
		OwnerID:    r.ownerID,
		TaskID:     taskID,
		InstanceID: next.InstanceID,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.inflight, taskID)
		r.mu.Unlock()
		return SnoozeResult{}, err
	}
	next.Handle = h

	r.mu.Lock()
	delete(r.inflight, taskID)
	cur, ok := r.table[taskID]
	latest, known := r.tasks[taskID]
	stillPending := !known || latest.Status == task.StatusPending
	switch {
	case r.stopped || !ok || cur.closing || cur.alarm.InstanceID != old.InstanceID:
		r.mu.Unlock()
		_ = r.scheduler.Cancel(ctx, h)
		return SnoozeResult{}, &task.StaleEntityError{TaskID: taskID, Want: task.StatusPending}
	case !stillPending:
		delete(r.table, taskID)
		r.mu.Unlock()
		_ = r.scheduler.Cancel(ctx, h)
		r.cancelAlarm(ctx, old, ReasonTaskNotPending)
		return SnoozeResult{}, &task.StaleEntityError{TaskID: taskID, Want: task.StatusPending, Got: latest.Status}
	}
	cur.alarm = next
	r.mu.Unlock()

	cancelled := r.cancelAlarm(ctx, old, ReasonSnoozed)
	r.stopLooping(taskID)
	r.persist(ctx, next)
	if r.bus != nil {
		r.bus.PublishAlarmScheduled(eventbus.AlarmScheduledPayload{Alarm: next})
	}

	r.log.Info().Str("task", taskID).Time("fire_at", next.FireAt).Msg("alarm snoozed")
	return SnoozeResult{Cancelled: cancelled, Scheduled: next}, nil
}

// BeginClose marks the task's alarm as closing ahead of a MarkDone write.
// It reports whether the task had an alarm.
func (r *Reconciler) BeginClose(taskID string) (alarm.Alarm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table[taskID]
	if !ok {
		return alarm.Alarm{}, false
	}
	e.closing = true
	return e.alarm, true
}

// AbortClose returns a closing alarm to normal after a failed write.
func (r *Reconciler) AbortClose(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.table[taskID]; ok {
		e.closing = false
	}
}

// FinishClose removes the task's alarm after MarkDone was persisted. A
// triggered alarm becomes completed; one that never fired is cancelled.
func (r *Reconciler) FinishClose(ctx context.Context, taskID string) (alarm.Alarm, bool) {
	r.mu.Lock()
	e, ok := r.table[taskID]
	if ok {
		delete(r.table, taskID)
	}
	r.mu.Unlock()
	if !ok {
		return alarm.Alarm{}, false
	}

	a := e.alarm
	if err := r.scheduler.Cancel(ctx, a.Handle); err != nil {
		r.log.Warn().Err(err).Str("task", taskID).Msg("cancel trigger failed")
	}
	r.stopLooping(taskID)

	if a.Status != alarm.StatusTriggered {
		return r.cancelAlarm(ctx, a, ReasonMarkedDone), true
	}

	a.Complete(r.now())
	r.persist(ctx, a)
	if r.bus != nil {
		r.bus.PublishAlarmCompleted(eventbus.AlarmCompletedPayload{Alarm: a})
	}
	return a, true
}

// Stop cancels every trigger and clears the table. Later passes are no-ops.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	var active []alarm.Alarm
	for _, id := range sortedKeys(r.table) {
		active = append(active, r.table[id].alarm)
	}
	r.table = make(map[string]*entry)
	r.mu.Unlock()

	for _, a := range active {
		r.cancelAlarm(ctx, a, ReasonSessionStopped)
	}
}

// Alarm returns the active alarm for a task.
func (r *Reconciler) Alarm(taskID string) (alarm.Alarm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table[taskID]
	if !ok {
		return alarm.Alarm{}, false
	}
	return e.alarm, true
}

// Alarms returns the active alarms ordered by task id.
func (r *Reconciler) Alarms() []alarm.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alarm.Alarm, 0, len(r.table))
	for _, id := range sortedKeys(r.table) {
		out = append(out, r.table[id].alarm)
	}
	return out
}

// Revision returns the last processed snapshot revision.
func (r *Reconciler) Revision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRev
}

// persist writes a to the store unless a newer instance, or a later state
// of the same instance, was already written.
func (r *Reconciler) persist(ctx context.Context, a alarm.Alarm) {
	mark := persistMark{seq: a.Seq, rank: statusRank(a.Status)}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if prev, ok := r.persisted[a.TaskID]; ok {
		if mark.seq < prev.seq || (mark.seq == prev.seq && mark.rank < prev.rank) {
			return
		}
	}

	if err := r.store.Write(ctx, remote.AlarmPath(r.ownerID, a.TaskID), a); err != nil {
		r.log.Warn().Err(err).Str("task", a.TaskID).Str("status", string(a.Status)).Msg("persist alarm failed")
		return
	}
	r.persisted[a.TaskID] = mark
}

func statusRank(s alarm.Status) int {
	switch s {
	case alarm.StatusScheduled:
		return 0
	case alarm.StatusTriggered:
		return 1
	default:
		return 2
	}
}

func (r *Reconciler) decodeTasks(snap remote.Snapshot) (map[string]task.Task, map[string]struct{}, error) {
	children, err := snap.Children()
	if err != nil {
		return nil, nil, err
	}

	tasks := make(map[string]task.Task, len(children))
	unreadable := make(map[string]struct{})
	for id, raw := range children {
		var t task.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			r.log.Warn().Err(err).Str("task", id).Msg("undecodable task, keeping its alarm unchanged")
			unreadable[id] = struct{}{}
			continue
		}
		t.ID = id
		t.OwnerID = r.ownerID
		tasks[id] = t
	}
	return tasks, unreadable, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
