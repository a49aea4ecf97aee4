// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within taskwatch.
package eventbus

import (
	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/task"
)

// Events defines all event types and their payload structs.
var Events = map[string]any{
	// Keep list sorted A-Z
	"alarm.cancelled":       AlarmCancelledPayload{},
	"alarm.completed":       AlarmCompletedPayload{},
	"alarm.scheduled":       AlarmScheduledPayload{},
	"alarm.triggered":       AlarmTriggeredPayload{},
	"notification.recorded": NotificationRecordedPayload{},
	"reconcile.completed":   ReconcileCompletedPayload{},
	"session.started":       SessionStartedPayload{},
	"session.stopped":       SessionStoppedPayload{},
	"task.created":          TaskCreatedPayload{},
	"task.transitioned":     TaskTransitionedPayload{},
}

// AlarmScheduledPayload is emitted when a trigger is registered for a task.
type AlarmScheduledPayload struct {
	Alarm alarm.Alarm
}

// AlarmTriggeredPayload is emitted when an alarm fires.
type AlarmTriggeredPayload struct {
	Alarm alarm.Alarm
}

// AlarmCompletedPayload is emitted when the owner finishes a task while its
// alarm was sounding.
type AlarmCompletedPayload struct {
	Alarm alarm.Alarm
}

// AlarmCancelledPayload is emitted when an alarm instance is withdrawn.
type AlarmCancelledPayload struct {
	Alarm  alarm.Alarm
	Reason string
}

// NotificationRecordedPayload is emitted after a notification record is
// appended to the audit log.
type NotificationRecordedPayload struct {
	Record notify.Record
}

// ReconcileCompletedPayload is emitted after each reconciliation pass.
type ReconcileCompletedPayload struct {
	OwnerID   string
	Revision  int64
	Scheduled int
	Cancelled int
	Failed    int
	Healed    int
}

// SessionStartedPayload is emitted when an owner session begins watching.
type SessionStartedPayload struct {
	OwnerID string
}

// SessionStoppedPayload is emitted when an owner session ends.
type SessionStoppedPayload struct {
	OwnerID string
}

// TaskCreatedPayload is emitted when a task is created.
type TaskCreatedPayload struct {
	Task task.Task
}

// TaskTransitionedPayload is emitted after a status change is persisted.
type TaskTransitionedPayload struct {
	Task  task.Task
	From  task.Status
	To    task.Status
	Event task.Event
}
