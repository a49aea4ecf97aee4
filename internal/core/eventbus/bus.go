package eventbus

import (
	"context"
	"sync"
)

// Event names a published event.
type Event string

const (
	EventAlarmCancelled       Event = "alarm.cancelled"
	EventAlarmCompleted       Event = "alarm.completed"
	EventAlarmScheduled       Event = "alarm.scheduled"
	EventAlarmTriggered       Event = "alarm.triggered"
	EventNotificationRecorded Event = "notification.recorded"
	EventReconcileCompleted   Event = "reconcile.completed"
	EventSessionStarted       Event = "session.started"
	EventSessionStopped       Event = "session.stopped"
	EventTaskCreated          Event = "task.created"
	EventTaskTransitioned     Event = "task.transitioned"
)

type envelope struct {
	event   Event
	payload any
}

type subscriber struct {
	id int
	fn func(any)
}

// EventBus dispatches events to subscribers on a single goroutine started by
// Start. Publishing never blocks; events are dropped when the buffer is full.
type EventBus struct {
	ch  chan envelope
	obs observers

	mu     sync.RWMutex
	nextID int
	subs   map[Event][]subscriber
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]subscriber),
	}
}

// Start dispatches events until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := make([]subscriber, len(bus.subs[env.event]))
	copy(subs, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.notifyPanic(env.event, env.payload, r)
				}
			}()
			s.fn(env.payload)
		}()
	}
}

// subscribe registers fn and returns a function that removes it.
func (bus *EventBus) subscribe(event Event, fn func(any)) func() {
	bus.mu.Lock()
	bus.nextID++
	id := bus.nextID
	bus.subs[event] = append(bus.subs[event], subscriber{id: id, fn: fn})
	bus.mu.Unlock()

	return func() {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		subs := bus.subs[event]
		for i, s := range subs {
			if s.id == id {
				bus.subs[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (bus *EventBus) PublishAlarmCancelled(p AlarmCancelledPayload) {
	bus.send(EventAlarmCancelled, p)
}

func (bus *EventBus) SubscribeAlarmCancelled(fn func(AlarmCancelledPayload)) func() {
	return bus.subscribe(EventAlarmCancelled, func(p any) { fn(p.(AlarmCancelledPayload)) })
}

func (bus *EventBus) PublishAlarmCompleted(p AlarmCompletedPayload) {
	bus.send(EventAlarmCompleted, p)
}

func (bus *EventBus) SubscribeAlarmCompleted(fn func(AlarmCompletedPayload)) func() {
	return bus.subscribe(EventAlarmCompleted, func(p any) { fn(p.(AlarmCompletedPayload)) })
}

func (bus *EventBus) PublishAlarmScheduled(p AlarmScheduledPayload) {
	bus.send(EventAlarmScheduled, p)
}

func (bus *EventBus) SubscribeAlarmScheduled(fn func(AlarmScheduledPayload)) func() {
	return bus.subscribe(EventAlarmScheduled, func(p any) { fn(p.(AlarmScheduledPayload)) })
}

func (bus *EventBus) PublishAlarmTriggered(p AlarmTriggeredPayload) {
	bus.send(EventAlarmTriggered, p)
}

func (bus *EventBus) SubscribeAlarmTriggered(fn func(AlarmTriggeredPayload)) func() {
	return bus.subscribe(EventAlarmTriggered, func(p any) { fn(p.(AlarmTriggeredPayload)) })
}

func (bus *EventBus) PublishNotificationRecorded(p NotificationRecordedPayload) {
	bus.send(EventNotificationRecorded, p)
}

func (bus *EventBus) SubscribeNotificationRecorded(fn func(NotificationRecordedPayload)) func() {
	return bus.subscribe(EventNotificationRecorded, func(p any) { fn(p.(NotificationRecordedPayload)) })
}

func (bus *EventBus) PublishReconcileCompleted(p ReconcileCompletedPayload) {
	bus.send(EventReconcileCompleted, p)
}

func (bus *EventBus) SubscribeReconcileCompleted(fn func(ReconcileCompletedPayload)) func() {
	return bus.subscribe(EventReconcileCompleted, func(p any) { fn(p.(ReconcileCompletedPayload)) })
}

func (bus *EventBus) PublishSessionStarted(p SessionStartedPayload) {
	bus.send(EventSessionStarted, p)
}

func (bus *EventBus) SubscribeSessionStarted(fn func(SessionStartedPayload)) func() {
	return bus.subscribe(EventSessionStarted, func(p any) { fn(p.(SessionStartedPayload)) })
}

func (bus *EventBus) PublishSessionStopped(p SessionStoppedPayload) {
	bus.send(EventSessionStopped, p)
}

func (bus *EventBus) SubscribeSessionStopped(fn func(SessionStoppedPayload)) func() {
	return bus.subscribe(EventSessionStopped, func(p any) { fn(p.(SessionStoppedPayload)) })
}

func (bus *EventBus) PublishTaskCreated(p TaskCreatedPayload) {
	bus.send(EventTaskCreated, p)
}

func (bus *EventBus) SubscribeTaskCreated(fn func(TaskCreatedPayload)) func() {
	return bus.subscribe(EventTaskCreated, func(p any) { fn(p.(TaskCreatedPayload)) })
}

func (bus *EventBus) PublishTaskTransitioned(p TaskTransitionedPayload) {
	bus.send(EventTaskTransitioned, p)
}

func (bus *EventBus) SubscribeTaskTransitioned(fn func(TaskTransitionedPayload)) func() {
	return bus.subscribe(EventTaskTransitioned, func(p any) { fn(p.(TaskTransitionedPayload)) })
}
