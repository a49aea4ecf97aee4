package taskwatch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/core/validate"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

// TaskInput is the owner-supplied part of a new task.
type TaskInput struct {
	Title       string `json:"title"`
	Time        string `json:"time"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// TaskService creates and reads tasks. Status changes go through
// ConfirmationService.
type TaskService struct {
	store remote.Store
	bus   *eventbus.EventBus
	now   func() time.Time
	log   zerolog.Logger
}

// NewTaskService creates a task service.
func NewTaskService(store remote.Store, bus *eventbus.EventBus, log zerolog.Logger) *TaskService {
	return &TaskService{
		store: store,
		bus:   bus,
		now:   time.Now,
		log:   log.With().Str("component", "tasks").Logger(),
	}
}

// CreateTask validates in and writes a new pending task under a generated,
// time-ordered id.
func (s *TaskService) CreateTask(ctx context.Context, ownerID string, in TaskInput) (task.Task, error) {
	if err := validate.Wrap(criterio.ValidateStruct(
		validate.UserIDField("owner", ownerID),
		criterio.Run("title", in.Title, validate.Title),
		criterio.Run("time", in.Time, validate.TimeOfDay),
		criterio.Run("priority", in.Priority, validate.Priority),
	)); err != nil {
		return task.Task{}, err
	}

	priority := task.Priority(in.Priority)
	if priority == "" {
		priority = task.PriorityMedium
	}

	now := s.now()
	t := task.Task{
		ID:          remote.NewKey(now),
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(in.Title),
		Time:        in.Time,
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      task.StatusPending,
		CreatedAt:   now,
	}

	if err := s.store.Write(ctx, remote.TaskPath(ownerID, t.ID), t); err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}

	s.log.Info().Str("owner", ownerID).Str("task", t.ID).Str("time", t.Time).Msg("task created")
	if s.bus != nil {
		s.bus.PublishTaskCreated(eventbus.TaskCreatedPayload{Task: t})
	}
	return t, nil
}

// GetTask returns one task or task.ErrNotFound.
func (s *TaskService) GetTask(ctx context.Context, ownerID, taskID string) (task.Task, error) {
	return readTask(ctx, s.store, ownerID, taskID)
}

// ListTasks returns the owner's tasks ordered by time of day, then id.
// status filters when non-empty.
func (s *TaskService) ListTasks(ctx context.Context, ownerID string, status task.Status) ([]task.Task, error) {
	snap, err := s.store.ReadOnce(ctx, remote.TasksPath(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var byID map[string]task.Task
	if err := snap.Decode(&byID); err != nil {
		return nil, err
	}

	tasks := make([]task.Task, 0, len(byID))
	for id, t := range byID {
		if status != "" && t.Status != status {
			continue
		}
		t.ID = id
		t.OwnerID = ownerID
		tasks = append(tasks, t)
	}

	slices.SortFunc(tasks, func(a, b task.Task) int {
		if c := strings.Compare(a.Time, b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

// DeleteTask removes a task. A running session cancels its alarm on the
// next pass.
func (s *TaskService) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	if _, err := readTask(ctx, s.store, ownerID, taskID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, remote.TaskPath(ownerID, taskID)); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.log.Info().Str("owner", ownerID).Str("task", taskID).Msg("task deleted")
	return nil
}

// ListAlarms returns the persisted alarm records for the owner, ordered by
// task id. Unlike Reconciler.Alarms this includes terminal instances.
func (s *TaskService) ListAlarms(ctx context.Context, ownerID string) ([]alarm.Alarm, error) {
	snap, err := s.store.ReadOnce(ctx, remote.AlarmsPath(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	var byTask map[string]alarm.Alarm
	if err := snap.Decode(&byTask); err != nil {
		return nil, err
	}

	out := make([]alarm.Alarm, 0, len(byTask))
	for _, id := range sortedKeys(byTask) {
		out = append(out, byTask[id])
	}
	return out, nil
}

// ListAlarmEvents returns the owner's alarm event log, oldest first.
func (s *TaskService) ListAlarmEvents(ctx context.Context, ownerID string) ([]alarm.Event, error) {
	snap, err := s.store.ReadOnce(ctx, remote.AlarmEventsPath(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list alarm events: %w", err)
	}

	var byKey map[string]alarm.Event
	if err := snap.Decode(&byKey); err != nil {
		return nil, err
	}

	out := make([]alarm.Event, 0, len(byKey))
	for _, k := range sortedKeys(byKey) {
		out = append(out, byKey[k])
	}
	return out, nil
}

func readTask(ctx context.Context, store remote.Store, ownerID, taskID string) (task.Task, error) {
	snap, err := store.ReadOnce(ctx, remote.TaskPath(ownerID, taskID))
	if err != nil {
		return task.Task{}, fmt.Errorf("read task: %w", err)
	}
	if !snap.Exists {
		return task.Task{}, fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}

	var t task.Task
	if err := snap.Decode(&t); err != nil {
		return task.Task{}, err
	}
	t.ID = taskID
	t.OwnerID = ownerID
	return t, nil
}
