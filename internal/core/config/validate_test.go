package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Owners = []string{"u1"}
	return &cfg
}

func hasField(errs criterio.FieldErrors, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Notifications.Hooks = []string{
		"echo {{ .Title | shq }}",
		"logger -t taskwatch {{ .Type }} {{ .OwnerID }} {{ .TaskID }}",
	}

	err := cfg.ValidateDeep("")
	assert.NoError(t, err, "expected valid config")
}

func TestValidateDeep_InvalidHookTemplate(t *testing.T) {
	cfg := validConfig(t)
	cfg.Notifications.Hooks = []string{"echo {{.Title}", "echo {{.Invalid}}", ""}

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 3)
	assert.Equal(t, "notifications.hooks[0]", fieldErrs[0].Field)
	assert.Contains(t, fieldErrs[0].Err.Error(), "template error")
	assert.Equal(t, "notifications.hooks[1]", fieldErrs[1].Field)
	assert.Equal(t, "notifications.hooks[2]", fieldErrs[2].Field)
}

func TestValidateDeep_NegativeTimings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.PollInterval = -time.Second
	cfg.KV.SweepInterval = 0

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.True(t, hasField(fieldErrs, "store.poll_interval"))
	assert.True(t, hasField(fieldErrs, "kv.sweep_interval"))
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

	cfg := validConfig(t)
	cfg.DataDir = tmpFile

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.True(t, hasField(fieldErrs, "data_dir"), "expected error about data dir")
}

func TestValidateDeep_ConfigFileIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.True(t, hasField(fieldErrs, "config_file"), "expected error about config file being a directory")
}

func TestValidateDeep_RunsStructuralValidationFirst(t *testing.T) {
	cfg := validConfig(t)
	cfg.Alarms.SnoozeDefaultMinutes = 90

	err := cfg.ValidateDeep("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snooze_default_minutes")
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		category string
		item     string
	}{
		{"no owners", func(c *Config) { c.Owners = nil }, "Owners", ""},
		{"no local alerts", func(c *Config) { c.Notifications.Desktop = false }, "Notifications", ""},
		{"unbounded looping", func(c *Config) { c.Alarms.LoopMaxRepeats = 0 }, "Alarms", "loop_max_repeats"},
		{"polling disabled", func(c *Config) { c.Store.PollInterval = 0 }, "Store", "poll_interval"},
	}

	assert.Empty(t, validConfig(t).Warnings(), "defaults produce no warnings")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			warnings := cfg.Warnings()
			require.Len(t, warnings, 1)
			assert.Equal(t, tt.category, warnings[0].Category)
			assert.Equal(t, tt.item, warnings[0].Item)
		})
	}
}

func TestValidateDeep_ZeroAllowedTimings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.PollInterval = 0
	cfg.Store.Debounce = 0
	cfg.Alarms.ResyncInterval = 0

	assert.NoError(t, cfg.ValidateDeep(""))
}
