package executil

import (
	"context"
	"slices"
	"sync"
)

// RecordedCommand is one call captured by RecordingExecutor.
type RecordedCommand struct {
	Cmd  string
	Args []string
}

// RecordingExecutor captures commands instead of running them. Errors maps
// a command name to the error its calls return; RunSh calls are recorded
// as "sh".
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand
	Errors   map[string]error
}

var _ Executor = (*RecordingExecutor)(nil)

// Run records cmd and returns the configured error.
func (e *RecordingExecutor) Run(_ context.Context, cmd string, args ...string) ([]byte, error) {
	return nil, e.record(cmd, args...)
}

// RunSh records the call as "sh -c <cmd>".
func (e *RecordingExecutor) RunSh(_ context.Context, cmd string) error {
	return e.record("sh", "-c", cmd)
}

// Calls returns a copy of the recorded commands, safe to read while other
// goroutines are still executing.
func (e *RecordingExecutor) Calls() []RecordedCommand {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.Commands)
}

func (e *RecordingExecutor) record(cmd string, args ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{Cmd: cmd, Args: args})
	return e.Errors[cmd]
}
