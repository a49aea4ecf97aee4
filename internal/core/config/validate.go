package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/colonyops/taskwatch/pkg/tmpl"
	"github.com/hay-kot/criterio"
)

// HookTemplateData mirrors the fields available to notification hook
// templates. Values are placeholders used only for syntax checking.
var HookTemplateData = map[string]any{
	"Type":          "task_alarm",
	"RecipientRole": "owner",
	"RecipientID":   "u1",
	"OwnerID":       "u1",
	"TaskID":        "t1",
	"Title":         "Water plants",
	"Message":       "It's 09:00",
	"Data":          map[string]any{"time": "09:00", "repeat": 1},
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep runs Validate and then the checks that touch the
// filesystem or compile templates. An empty configPath skips the config
// file check.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		criterio.Run("config_file", configPath, existingAs(false)),
		criterio.Run("data_dir", c.DataDir, existingAs(true)),
		c.validateHooks(),
		c.validateTimings(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var out []ValidationWarning
	warn := func(category, item, msg string) {
		out = append(out, ValidationWarning{Category: category, Item: item, Message: msg})
	}

	if len(c.Owners) == 0 {
		warn("Owners", "", "no owners configured; sessions start only on demand")
	}
	if !c.Notifications.Desktop && len(c.Notifications.Hooks) == 0 {
		warn("Notifications", "", "desktop alerts are disabled and no hooks are set; alarms only reach the owner inbox")
	}
	if c.Alarms.LoopMaxRepeats == 0 {
		warn("Alarms", "loop_max_repeats", "looping alerts repeat until the task is done")
	}
	if c.Store.PollInterval == 0 {
		warn("Store", "poll_interval", "polling is disabled; changes from other processes rely on file events")
	}

	return out
}

// existingAs accepts an empty or missing path. A path that exists must be a
// directory when dir is true and a regular file otherwise.
func existingAs(dir bool) func(string) error {
	return func(path string) error {
		if path == "" {
			return nil
		}
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return fmt.Errorf("cannot access: %w", err)
		case dir && !info.IsDir():
			return fmt.Errorf("%s is not a directory", path)
		case !dir && info.IsDir():
			return fmt.Errorf("%s is a directory, not a file", path)
		}
		return nil
	}
}

// validateHooks checks that every hook parses and renders against alert data.
func (c *Config) validateHooks() error {
	var errs criterio.FieldErrorsBuilder
	for i, hook := range c.Notifications.Hooks {
		field := fmt.Sprintf("notifications.hooks[%d]", i)
		if hook == "" {
			errs = errs.Append(field, fmt.Errorf("hook cannot be empty"))
			continue
		}
		if err := tmpl.Check(hook, HookTemplateData); err != nil {
			errs = errs.Append(field, fmt.Errorf("template error: %w", err))
		}
	}
	return errs.ToError()
}

type timing struct {
	field     string
	value     time.Duration
	allowZero bool
}

// validateTimings rejects negative intervals, and zero where zero has no
// "disabled" meaning.
func (c *Config) validateTimings() error {
	timings := []timing{
		{"alarms.loop_interval", c.Alarms.LoopInterval, false},
		{"alarms.resync_interval", c.Alarms.ResyncInterval, true},
		{"api.idempotency_ttl", c.API.IdempotencyTTL, false},
		{"kv.sweep_interval", c.KV.SweepInterval, false},
		{"notifications.command_timeout", c.Notifications.CommandTimeout, false},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout, false},
		{"store.debounce", c.Store.Debounce, true},
		{"store.poll_interval", c.Store.PollInterval, true},
	}

	var errs criterio.FieldErrorsBuilder
	for _, t := range timings {
		switch {
		case t.value < 0:
			errs = errs.Append(t.field, fmt.Errorf("cannot be negative, got %s", t.value))
		case t.value == 0 && !t.allowZero:
			errs = errs.Append(t.field, fmt.Errorf("must be positive, got %s", t.value))
		}
	}
	return errs.ToError()
}
