package notify

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type loopKey struct {
	ownerID string
	taskID  string
}

type loop struct {
	cancel context.CancelFunc
}

// Looping wraps a sink and repeats the most recent alarm alert for a task
// until it is stopped or the repeat limit is reached.
type Looping struct {
	target     Sink
	interval   time.Duration
	maxRepeats int
	log        zerolog.Logger

	mu      sync.Mutex
	last    map[loopKey]Alert
	running map[loopKey]*loop
	wg      sync.WaitGroup
}

var _ Sink = (*Looping)(nil)

// NewLooping creates a looping sink. maxRepeats of zero repeats forever.
func NewLooping(target Sink, interval time.Duration, maxRepeats int, log zerolog.Logger) *Looping {
	return &Looping{
		target:     target,
		interval:   interval,
		maxRepeats: maxRepeats,
		log:        log.With().Str("component", "looping-alert").Logger(),
		last:       make(map[loopKey]Alert),
		running:    make(map[loopKey]*loop),
	}
}

// Alert forwards a and remembers alarm alerts so repeats carry the same text.
func (l *Looping) Alert(ctx context.Context, a Alert) error {
	if a.Type == TypeTaskAlarm {
		l.mu.Lock()
		l.last[loopKey{a.OwnerID, a.TaskID}] = a
		l.mu.Unlock()
	}
	return l.target.Alert(ctx, a)
}

// StartLoopingAlert begins repeating. Starting an already running loop is a
// no-op.
func (l *Looping) StartLoopingAlert(ctx context.Context, ownerID, taskID string) error {
	key := loopKey{ownerID, taskID}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.running[key]; ok {
		return nil
	}

	a, ok := l.last[key]
	if !ok {
		a = Alert{
			Type:          TypeTaskAlarm,
			RecipientRole: RoleOwner,
			RecipientID:   ownerID,
			OwnerID:       ownerID,
			TaskID:        taskID,
			Title:         "Task reminder",
			Message:       "A task is waiting for you",
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	lp := &loop{cancel: cancel}
	l.running[key] = lp

	l.wg.Add(1)
	go l.run(loopCtx, key, lp, a)

	l.log.Debug().Str("owner", ownerID).Str("task", taskID).Msg("looping alert started")
	return nil
}

// StopLoopingAlert stops the loop for the task if one is running.
func (l *Looping) StopLoopingAlert(ownerID, taskID string) {
	key := loopKey{ownerID, taskID}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.last, key)
	if lp, ok := l.running[key]; ok {
		lp.cancel()
		delete(l.running, key)
		l.log.Debug().Str("owner", ownerID).Str("task", taskID).Msg("looping alert stopped")
	}
}

// Running reports whether a loop is active for the task.
func (l *Looping) Running(ownerID, taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[loopKey{ownerID, taskID}]
	return ok
}

// Close stops every loop and waits for them to exit.
func (l *Looping) Close() {
	l.mu.Lock()
	for key, lp := range l.running {
		lp.cancel()
		delete(l.running, key)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Looping) run(ctx context.Context, key loopKey, lp *loop, a Alert) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		if l.running[key] == lp {
			delete(l.running, key)
		}
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for n := 1; l.maxRepeats == 0 || n <= l.maxRepeats; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		repeat := a
		repeat.Data = map[string]string{"repeat": strconv.Itoa(n)}
		for k, v := range a.Data {
			repeat.Data[k] = v
		}

		if err := l.target.Alert(ctx, repeat); err != nil {
			l.log.Warn().Err(err).Str("task", key.taskID).Int("repeat", n).Msg("looping alert delivery failed")
		}
	}
}
