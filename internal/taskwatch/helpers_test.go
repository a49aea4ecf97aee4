package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/eventbus/testbus"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/colonyops/taskwatch/internal/data/stores"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source shared by every component in a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type scheduledCall struct {
	Handle  alarm.Handle
	FireAt  time.Time
	Payload alarm.Payload
}

// fakeScheduler records triggers without firing them. Tests fire payloads by
// calling HandleFire directly.
type fakeScheduler struct {
	mu         sync.Mutex
	n          int
	calls      []scheduledCall
	pending    map[alarm.Handle]scheduledCall
	cancelled  []alarm.Handle
	failFor    map[string]error
	onSchedule func(p alarm.Payload)
}

var _ alarm.Scheduler = (*fakeScheduler)(nil)

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending: make(map[alarm.Handle]scheduledCall),
		failFor: make(map[string]error),
	}
}

func (f *fakeScheduler) Schedule(_ context.Context, fireAt time.Time, p alarm.Payload) (alarm.Handle, error) {
	f.mu.Lock()
	hook := f.onSchedule
	if err, ok := f.failFor[p.TaskID]; ok {
		f.mu.Unlock()
		return "", &alarm.SchedulingError{TaskID: p.TaskID, Err: err}
	}
	f.n++
	h := alarm.Handle(fmt.Sprintf("h%d", f.n))
	call := scheduledCall{Handle: h, FireAt: fireAt, Payload: p}
	f.calls = append(f.calls, call)
	f.pending[h] = call
	f.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return h, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, h alarm.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, h)
	delete(f.pending, h)
	return nil
}

func (f *fakeScheduler) fail(taskID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failFor, taskID)
		return
	}
	f.failFor[taskID] = err
}

func (f *fakeScheduler) Calls() []scheduledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledCall(nil), f.calls...)
}

func (f *fakeScheduler) CallsFor(taskID string) []scheduledCall {
	var out []scheduledCall
	for _, c := range f.Calls() {
		if c.Payload.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeScheduler) Cancelled() []alarm.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alarm.Handle(nil), f.cancelled...)
}

func (f *fakeScheduler) Pending() map[alarm.Handle]scheduledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[alarm.Handle]scheduledCall, len(f.pending))
	for h, c := range f.pending {
		out[h] = c
	}
	return out
}

var errSinkDown = errors.New("sink down")

// recordingSink records every call. Setting failing makes Alert fail;
// onAlert, when set, runs before each alert is recorded.
type recordingSink struct {
	mu      sync.Mutex
	alerts  []notify.Alert
	started []string
	stopped []string
	looping map[string]bool
	failing bool
	onAlert func(notify.Alert)
}

var _ notify.Sink = (*recordingSink)(nil)

func (s *recordingSink) Alert(_ context.Context, a notify.Alert) error {
	s.mu.Lock()
	hook := s.onAlert
	s.mu.Unlock()
	if hook != nil {
		hook(a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("%w: %w", notify.ErrDeliveryFailure, errSinkDown)
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) StartLoopingAlert(_ context.Context, ownerID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, ownerID+"/"+taskID)
	if s.looping == nil {
		s.looping = make(map[string]bool)
	}
	s.looping[ownerID+"/"+taskID] = true
	return nil
}

func (s *recordingSink) StopLoopingAlert(ownerID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, ownerID+"/"+taskID)
	delete(s.looping, ownerID+"/"+taskID)
}

func (s *recordingSink) setOnAlert(fn func(notify.Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlert = fn
}

// Looping reports whether a looping alert for key was started and not
// stopped since.
func (s *recordingSink) Looping(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.looping[key]
}

func (s *recordingSink) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *recordingSink) Alerts() []notify.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Alert(nil), s.alerts...)
}

func (s *recordingSink) AlertsOf(typ notify.Type) []notify.Alert {
	var out []notify.Alert
	for _, a := range s.Alerts() {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (s *recordingSink) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func (s *recordingSink) Stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stopped...)
}

type fixture struct {
	ctx     context.Context
	clock   *clock
	db      *db.DB
	store   *stores.NodeStore
	records *stores.NotifyStore
	sched   *fakeScheduler
	sink    *recordingSink
	bus     *testbus.Bus

	links    *LinkService
	notifier *Notifier
	tasks    *TaskService
	engine   *Engine
	confirm  *ConfirmationService
}

// 2026-03-02 is a Monday; nothing in the tests depends on DST.
var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute, second int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	clk := &clock{now: at(12, 0, 0)}
	log := zerolog.Nop()
	store := stores.NewNodeStore(database, log, stores.WithPollInterval(0), stores.WithClock(clk.Now))
	bus := testbus.New(t)
	sink := &recordingSink{}
	sched := newFakeScheduler()
	records := stores.NewNotifyStore(database)

	links := NewLinkService(store, log)
	links.now = clk.Now
	notifier := NewNotifier(records, notify.Fanout{NewInboxSink(store), sink}, links, bus.EventBus, log)
	tasks := NewTaskService(store, bus.EventBus, log)
	tasks.now = clk.Now
	engine := NewEngine(store, sched, notifier, bus.EventBus, EngineOptions{Now: clk.Now}, log)
	t.Cleanup(func() { engine.StopAll(context.Background()) })

	confirm := NewConfirmationService(store, links, notifier, engine, bus.EventBus, SnoozeLimits{DefaultMinutes: 5, MaxMinutes: 60}, log)
	confirm.now = clk.Now

	return &fixture{
		ctx:      context.Background(),
		clock:    clk,
		db:       database,
		store:    store,
		records:  records,
		sched:    sched,
		sink:     sink,
		bus:      bus,
		links:    links,
		notifier: notifier,
		tasks:    tasks,
		engine:   engine,
		confirm:  confirm,
	}
}

// reconciler builds a standalone reconciler for owner using the fixture's
// collaborators, for tests that drive passes by hand.
func (f *fixture) reconciler(ownerID string) *Reconciler {
	return NewReconciler(ownerID, ReconcilerDeps{
		Store:     f.store,
		Scheduler: f.sched,
		Sink:      f.notifier.Sink(),
		Notifier:  f.notifier,
		Bus:       f.bus.EventBus,
		Now:       f.clock.Now,
	}, zerolog.Nop())
}

func (f *fixture) createTask(t *testing.T, ownerID, title, tod string) task.Task {
	t.Helper()
	created, err := f.tasks.CreateTask(f.ctx, ownerID, TaskInput{Title: title, Time: tod})
	require.NoError(t, err)
	return created
}

func (f *fixture) snapshot(t *testing.T, ownerID string) remote.Snapshot {
	t.Helper()
	snap, err := f.store.ReadOnce(f.ctx, remote.TasksPath(ownerID))
	require.NoError(t, err)
	return snap
}

func (f *fixture) reconcile(t *testing.T, r *Reconciler) Report {
	t.Helper()
	report, err := r.Reconcile(f.ctx, f.snapshot(t, r.ownerID))
	require.NoError(t, err)
	return report
}

func (f *fixture) task(t *testing.T, ownerID, taskID string) task.Task {
	t.Helper()
	got, err := f.tasks.GetTask(f.ctx, ownerID, taskID)
	require.NoError(t, err)
	return got
}

func (f *fixture) storedAlarm(t *testing.T, ownerID, taskID string) alarm.Alarm {
	t.Helper()
	snap, err := f.store.ReadOnce(f.ctx, remote.AlarmPath(ownerID, taskID))
	require.NoError(t, err)
	require.True(t, snap.Exists, "alarm record for %s", taskID)
	var a alarm.Alarm
	require.NoError(t, snap.Decode(&a))
	return a
}

// startSession starts the owner's session and returns its reconciler.
func (f *fixture) startSession(t *testing.T, ownerID string) *Reconciler {
	t.Helper()
	s, err := f.engine.Start(ownerID)
	require.NoError(t, err)
	return s.Reconciler()
}

// waitForAlarm waits until the reconciler holds an alarm for taskID whose
// instance differs from notInstance.
func waitForAlarm(t *testing.T, r *Reconciler, taskID, notInstance string) alarm.Alarm {
	t.Helper()
	var got alarm.Alarm
	require.Eventually(t, func() bool {
		a, ok := r.Alarm(taskID)
		if !ok || a.InstanceID == notInstance {
			return false
		}
		got = a
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

// assertInvariant checks that the active alarms are exactly the pending
// tasks.
func assertInvariant(t *testing.T, f *fixture, r *Reconciler) {
	t.Helper()

	tasks, err := f.tasks.ListTasks(f.ctx, r.ownerID, task.StatusPending)
	require.NoError(t, err)

	want := make([]string, 0, len(tasks))
	for _, tk := range tasks {
		want = append(want, tk.ID)
	}

	got := make([]string, 0)
	for _, a := range r.Alarms() {
		require.True(t, a.Status.IsActive(), "table holds %s alarm for %s", a.Status, a.TaskID)
		got = append(got, a.TaskID)
	}

	require.ElementsMatch(t, want, got)
}
