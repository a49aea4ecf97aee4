package taskwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Notifier delivers task notifications through a sink and records every
// attempt in the audit log. Delivery problems never surface as errors to
// callers; they become undelivered or queued records instead.
type Notifier struct {
	records notify.Store
	sink    notify.Sink
	links   link.Resolver
	bus     *eventbus.EventBus
	log     zerolog.Logger

	flights singleflight.Group
}

// NewNotifier creates a notifier.
func NewNotifier(records notify.Store, sink notify.Sink, links link.Resolver, bus *eventbus.EventBus, log zerolog.Logger) *Notifier {
	return &Notifier{
		records: records,
		sink:    sink,
		links:   links,
		bus:     bus,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// NotifySupervisor tells the owner's linked supervisor about t. Without a
// link the record is queued for FlushQueued.
func (n *Notifier) NotifySupervisor(ctx context.Context, t task.Task, typ notify.Type) (notify.Record, error) {
	rec := notify.Record{
		Type:          typ,
		RecipientRole: notify.RoleSupervisor,
		OwnerID:       t.OwnerID,
		TaskID:        t.ID,
		Message:       messageFor(typ, t),
	}

	l, err := n.links.Supervisor(ctx, t.OwnerID)
	switch {
	case errors.Is(err, link.ErrMissing):
		rec.Status = notify.StatusQueued
		n.log.Info().Str("owner", t.OwnerID).Str("task", t.ID).Msg("no supervisor linked, notification queued")
		return n.append(ctx, rec)
	case err != nil:
		rec.Status = notify.StatusUndelivered
		n.log.Warn().Err(err).Str("owner", t.OwnerID).Msg("resolve supervisor failed")
		return n.append(ctx, rec)
	}

	rec.RecipientID = l.SupervisorID
	rec.Status = n.deliver(ctx, alertFor(rec, t.Title, t.Time))
	return n.append(ctx, rec)
}

// NotifyOwner tells the owner about t. message overrides the default text
// when set.
func (n *Notifier) NotifyOwner(ctx context.Context, t task.Task, typ notify.Type, message string) (notify.Record, error) {
	rec := notify.Record{
		Type:          typ,
		RecipientRole: notify.RoleOwner,
		RecipientID:   t.OwnerID,
		OwnerID:       t.OwnerID,
		TaskID:        t.ID,
		Message:       message,
	}
	if rec.Message == "" {
		rec.Message = messageFor(typ, t)
	}

	rec.Status = n.deliver(ctx, alertFor(rec, t.Title, t.Time))
	return n.append(ctx, rec)
}

// FlushQueued re-attempts the owner's queued and undelivered notifications
// once. Concurrent calls for the same owner share one attempt. It returns
// the number delivered.
func (n *Notifier) FlushQueued(ctx context.Context, ownerID string) (int, error) {
	v, err, _ := n.flights.Do(ownerID, func() (any, error) {
		return n.flush(ctx, ownerID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (n *Notifier) flush(ctx context.Context, ownerID string) (int, error) {
	pending, err := n.records.Pending(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var supervisorID string
	l, err := n.links.Supervisor(ctx, ownerID)
	switch {
	case err == nil:
		supervisorID = l.SupervisorID
	case errors.Is(err, link.ErrMissing):
	default:
		return 0, fmt.Errorf("resolve supervisor: %w", err)
	}

	delivered := 0
	for _, orig := range pending {
		retry := notify.Record{
			Type:          orig.Type,
			RecipientRole: orig.RecipientRole,
			RecipientID:   orig.RecipientID,
			OwnerID:       orig.OwnerID,
			TaskID:        orig.TaskID,
			Message:       orig.Message,
			RetryOf:       orig.ID,
		}

		if retry.RecipientRole == notify.RoleSupervisor {
			if supervisorID == "" {
				continue
			}
			retry.RecipientID = supervisorID
		}

		retry.Status = n.deliver(ctx, alertFor(retry, "", ""))
		if _, err := n.append(ctx, retry); err != nil {
			return delivered, err
		}
		if retry.Status == notify.StatusDelivered {
			delivered++
		}
	}

	n.log.Info().Str("owner", ownerID).Int("pending", len(pending)).Int("delivered", delivered).Msg("flushed queued notifications")
	return delivered, nil
}

// List returns audit records matching f.
func (n *Notifier) List(ctx context.Context, f notify.Filter) ([]notify.Record, error) {
	return n.records.List(ctx, f)
}

// Pending returns the owner's notifications still awaiting delivery.
func (n *Notifier) Pending(ctx context.Context, ownerID string) ([]notify.Record, error) {
	return n.records.Pending(ctx, ownerID)
}

// Sink exposes the sink used for deliveries.
func (n *Notifier) Sink() notify.Sink {
	return n.sink
}

func (n *Notifier) deliver(ctx context.Context, a notify.Alert) notify.Status {
	if err := n.sink.Alert(ctx, a); err != nil {
		n.log.Warn().Err(err).
			Str("type", string(a.Type)).
			Str("recipient", a.RecipientID).
			Str("task", a.TaskID).
			Msg("notification delivery failed")
		return notify.StatusUndelivered
	}
	return notify.StatusDelivered
}

func (n *Notifier) append(ctx context.Context, rec notify.Record) (notify.Record, error) {
	saved, err := n.records.Append(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("append notification: %w", err)
	}
	if n.bus != nil {
		n.bus.PublishNotificationRecorded(eventbus.NotificationRecordedPayload{Record: saved})
	}
	return saved, nil
}

func alertFor(rec notify.Record, title, timeOfDay string) notify.Alert {
	a := notify.Alert{
		Type:          rec.Type,
		RecipientRole: rec.RecipientRole,
		RecipientID:   rec.RecipientID,
		OwnerID:       rec.OwnerID,
		TaskID:        rec.TaskID,
		Title:         titleFor(rec.Type),
		Message:       rec.Message,
	}
	if title != "" || timeOfDay != "" {
		a.Data = map[string]string{"taskTitle": title, "time": timeOfDay}
	}
	return a
}

func titleFor(typ notify.Type) string {
	switch typ {
	case notify.TypeTaskCompleted:
		return "Task completed"
	case notify.TypeTaskConfirmed:
		return "Task confirmed"
	case notify.TypeTaskRejected:
		return "Task rejected"
	case notify.TypeTaskAlarm:
		return "Task reminder"
	}
	return "Task update"
}

func messageFor(typ notify.Type, t task.Task) string {
	switch typ {
	case notify.TypeTaskCompleted:
		return fmt.Sprintf("%s marked %q as done", t.OwnerID, t.Title)
	case notify.TypeTaskConfirmed:
		return fmt.Sprintf("Your completion of %q was confirmed", t.Title)
	case notify.TypeTaskRejected:
		if t.RejectionMessage != "" {
			return fmt.Sprintf("Your completion of %q was rejected: %s", t.Title, t.RejectionMessage)
		}
		return fmt.Sprintf("Your completion of %q was rejected", t.Title)
	case notify.TypeTaskAlarm:
		return fmt.Sprintf("It's %s: time for %q", t.Time, t.Title)
	}
	return t.Title
}
