// Package alarm defines the per-task alarm instance and the scheduler
// contract used to fire it.
package alarm

import (
	"context"
	"time"
)

// Status is the lifecycle state of one alarm instance.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusTriggered Status = "triggered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsActive reports whether the alarm still belongs in the active table.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusTriggered
}

// Handle identifies a pending trigger inside a Scheduler.
type Handle string

// Alarm is one scheduled instance for a task. Snoozes and reschedules create
// new instances; InstanceID distinguishes them.
type Alarm struct {
	OwnerID     string     `json:"userId"`
	TaskID      string     `json:"taskId"`
	InstanceID  string     `json:"instanceId"`
	Handle      Handle     `json:"handle"`
	Status      Status     `json:"status"`
	TaskTitle   string     `json:"taskTitle"`
	TaskTime    string     `json:"taskTime"`
	FireAt      time.Time  `json:"fireAt"`
	Snoozed     bool       `json:"snoozed,omitempty"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	// Seq orders instances created by one engine so that late writes of an
	// older instance never overwrite a newer one.
	Seq int64 `json:"-"`
}

// Cancel moves a to cancelled at the given time.
func (a *Alarm) Cancel(at time.Time) {
	a.Status = StatusCancelled
	a.CancelledAt = &at
}

// Complete moves a to completed at the given time.
func (a *Alarm) Complete(at time.Time) {
	a.Status = StatusCompleted
	a.CompletedAt = &at
}

// Trigger moves a to triggered at the given time.
func (a *Alarm) Trigger(at time.Time) {
	a.Status = StatusTriggered
	a.TriggeredAt = &at
}

// Payload is handed back to the fire callback when a trigger fires.
type Payload struct {
	OwnerID    string `json:"ownerId"`
	TaskID     string `json:"taskId"`
	InstanceID string `json:"instanceId"`
}

// FireFunc receives payloads from a Scheduler.
type FireFunc func(ctx context.Context, p Payload)

// Scheduler registers one-shot triggers. Cancel of an unknown or already
// fired handle is not an error.
type Scheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, p Payload) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
}

// Event is an entry in the owner's alarm event log, written when an alarm
// fires.
type Event struct {
	TaskID      string    `json:"taskId"`
	InstanceID  string    `json:"instanceId"`
	TaskTitle   string    `json:"taskTitle"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
}
