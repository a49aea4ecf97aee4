package task

import (
	"time"
)

// Event is an input to the task status machine.
type Event string

const (
	EventMarkDone          Event = "mark_done"
	EventSupervisorConfirm Event = "supervisor_confirm"
	EventSupervisorReject  Event = "supervisor_reject"
)

// Effect is a side effect the caller must carry out after a transition has
// been persisted.
type Effect string

const (
	// EffectCompleteAlarm ends the owner's alarm for the task.
	EffectCompleteAlarm Effect = "complete_alarm"
	// EffectNotifySupervisor tells the linked supervisor the task was done.
	EffectNotifySupervisor Effect = "notify_supervisor"
	// EffectNotifyOwnerConfirmed tells the owner the completion was accepted.
	EffectNotifyOwnerConfirmed Effect = "notify_owner_confirmed"
	// EffectNotifyOwnerRejected tells the owner the completion was rejected.
	EffectNotifyOwnerRejected Effect = "notify_owner_rejected"
	// EffectStopOwnerAlarm silences any looping alert still sounding.
	EffectStopOwnerAlarm Effect = "stop_owner_alarm"
	// EffectRearmAlarm marks a task that needs a new alarm instance. The
	// reconciler schedules it from the store; callers take no action.
	EffectRearmAlarm Effect = "rearm_alarm"
)

// Change is a request to apply an event to a task.
type Change struct {
	Event   Event
	At      time.Time
	ActorID string
	Message string
}

// Result is the outcome of a legal transition. Fields holds the partial record
// update to persist; a nil value clears the field.
type Result struct {
	Task    Task
	From    Status
	To      Status
	Fields  map[string]any
	Effects []Effect
}

type transition struct {
	to      Status
	effects []Effect
}

var transitions = map[Status]map[Event]transition{
	StatusPending: {
		EventMarkDone: {
			to:      StatusDone,
			effects: []Effect{EffectCompleteAlarm, EffectNotifySupervisor},
		},
	},
	StatusDone: {
		EventSupervisorConfirm: {
			to:      StatusConfirmed,
			effects: []Effect{EffectNotifyOwnerConfirmed, EffectStopOwnerAlarm},
		},
		EventSupervisorReject: {
			to:      StatusPending,
			effects: []Effect{EffectNotifyOwnerRejected, EffectRearmAlarm},
		},
	},
}

// CanTransition reports whether ev is permitted from s.
func CanTransition(s Status, ev Event) bool {
	_, ok := transitions[s][ev]
	return ok
}

// Transition applies c to t. It is pure: the returned task and field set
// describe what must be written, nothing is persisted here.
func Transition(t Task, c Change) (Result, error) {
	tr, ok := transitions[t.Status][c.Event]
	if !ok {
		return Result{}, &IllegalTransitionError{TaskID: t.ID, From: t.Status, Event: c.Event}
	}

	at := c.At
	next := t
	next.Status = tr.to
	fields := map[string]any{FieldStatus: tr.to}

	switch c.Event {
	case EventMarkDone:
		next.DoneAt = &at
		fields[FieldDoneAt] = at
	case EventSupervisorConfirm:
		next.ConfirmedAt = &at
		next.ConfirmedBy = c.ActorID
		fields[FieldConfirmedAt] = at
		fields[FieldConfirmedBy] = c.ActorID
	case EventSupervisorReject:
		next.DoneAt = nil
		next.RejectedAt = &at
		next.RejectedBy = c.ActorID
		next.RejectionMessage = c.Message
		fields[FieldDoneAt] = nil
		fields[FieldRejectedAt] = at
		fields[FieldRejectedBy] = c.ActorID
		fields[FieldRejectionMessage] = c.Message
	}

	effects := make([]Effect, len(tr.effects))
	copy(effects, tr.effects)

	return Result{
		Task:    next,
		From:    t.Status,
		To:      tr.to,
		Fields:  fields,
		Effects: effects,
	}, nil
}

// HasEffect reports whether r requires e.
func (r Result) HasEffect(e Effect) bool {
	for _, have := range r.Effects {
		if have == e {
			return true
		}
	}
	return false
}
