// Package desktop delivers owner alerts as desktop notifications and runs
// user-configured alarm hook commands.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/pkg/executil"
	"github.com/colonyops/taskwatch/pkg/tmpl"
	"github.com/rs/zerolog"
)

// Sink shows alerts addressed to owners on the local desktop. Alerts for
// supervisors are ignored; they are delivered through the inbox.
type Sink struct {
	exec    executil.Executor
	goos    string
	enabled bool
	hooks   []hook
	log     zerolog.Logger
}

var _ notify.Sink = (*Sink)(nil)

// hook is a compiled hook template. A hook that failed to parse keeps its
// error and reports it on every alert.
type hook struct {
	cmd *tmpl.Command
	err error
}

// Options configures a desktop Sink.
type Options struct {
	// Enabled turns the platform notification command on or off. Hooks run
	// either way.
	Enabled bool
	// Hooks are shell command templates rendered with the alert as data.
	Hooks []string
}

// New creates a desktop sink for the current platform.
func New(exec executil.Executor, opts Options, log zerolog.Logger) *Sink {
	hooks := make([]hook, 0, len(opts.Hooks))
	for _, src := range opts.Hooks {
		cmd, err := tmpl.Parse(src)
		hooks = append(hooks, hook{cmd: cmd, err: err})
	}
	return &Sink{
		exec:    exec,
		goos:    runtime.GOOS,
		enabled: opts.Enabled,
		hooks:   hooks,
		log:     log.With().Str("component", "desktop-sink").Logger(),
	}
}

// Alert shows a and runs every hook. Hook failures are joined into the
// returned error.
func (s *Sink) Alert(ctx context.Context, a notify.Alert) error {
	if a.RecipientRole != notify.RoleOwner {
		return nil
	}

	var errs []error

	if s.enabled {
		if err := s.show(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}

	for _, h := range s.hooks {
		if h.err != nil {
			errs = append(errs, fmt.Errorf("hook: %w", h.err))
			continue
		}
		cmd, err := h.cmd.Render(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("render hook: %w", err))
			continue
		}
		if err := s.exec.RunSh(ctx, cmd); err != nil {
			errs = append(errs, fmt.Errorf("run hook: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", notify.ErrDeliveryFailure, errors.Join(errs...))
	}
	return nil
}

// Tool returns the command used to show notifications on goos, or "" when
// the platform is unsupported.
func Tool(goos string) string {
	switch goos {
	case "darwin":
		return "osascript"
	case "linux":
		return "notify-send"
	default:
		return ""
	}
}

// Tool returns the notification command for this sink, or "" when desktop
// alerts are disabled.
func (s *Sink) Tool() string {
	if !s.enabled {
		return ""
	}
	return Tool(s.goos)
}

func (s *Sink) show(ctx context.Context, a notify.Alert) error {
	var err error
	switch s.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q sound name \"default\"", a.Message, a.Title)
		_, err = s.exec.Run(ctx, "osascript", "-e", script)
	case "linux":
		_, err = s.exec.Run(ctx, "notify-send", "--app-name=taskwatch", "--urgency=critical", a.Title, a.Message)
	default:
		s.log.Debug().Str("os", s.goos).Msg("desktop notifications unsupported on this platform")
		return nil
	}
	if err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

// StartLoopingAlert is a no-op; repetition is handled by notify.Looping.
func (s *Sink) StartLoopingAlert(context.Context, string, string) error { return nil }

// StopLoopingAlert is a no-op.
func (s *Sink) StopLoopingAlert(string, string) {}
