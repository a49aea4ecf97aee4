// Package executil runs external commands for alert delivery.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// maxStderrLen bounds how much stderr is folded into an error message.
const maxStderrLen = 500

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			_, _ = b.Buffer.Write(p[:room])
		} else {
			_, _ = b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

// RunSh runs cmd with "sh -c" in dir, or the current directory when dir is
// empty. A failure's error carries the start of stderr and wraps the
// underlying *exec.ExitError.
func RunSh(ctx context.Context, dir, cmd string) error {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir
	// Children of sh can hold stderr open after sh is killed.
	c.WaitDelay = time.Second
	c.Stdout = io.Discard
	stderr := &cappedBuffer{limit: maxStderrLen}
	c.Stderr = stderr

	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

// Executor runs external commands. Desktop notifications and alarm hooks go
// through it so tests can record instead of execute.
type Executor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// RunSh executes a shell command line.
	RunSh(ctx context.Context, cmd string) error
}

// RealExecutor runs commands on the host.
type RealExecutor struct {
	// Timeout bounds each command. Zero means no limit beyond ctx.
	Timeout time.Duration
}

func (e *RealExecutor) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.Timeout)
}

// Run executes cmd with args and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// RunSh executes cmd with "sh -c" in the current directory.
func (e *RealExecutor) RunSh(ctx context.Context, cmd string) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return RunSh(ctx, "", cmd)
}
