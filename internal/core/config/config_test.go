package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Alarms.SnoozeDefaultMinutes)
	assert.Equal(t, 60, cfg.Alarms.SnoozeMaxMinutes)
	assert.True(t, cfg.Notifications.Desktop)
	assert.Equal(t, filepath.Join(dataDir, "taskwatch.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dataDir, "taskwatch.log"), cfg.LogFile())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Alarms, cfg.Alarms)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
store:
  poll_interval: 500ms
alarms:
  snooze_default_minutes: 10
  loop_interval: 15s
notifications:
  desktop: false
  hooks:
    - "echo {{ .Title }}"
owners:
  - u1
  - u2
api:
  idempotency_ttl: 1h
`)
	dataDir := t.TempDir()

	cfg, err := Load(path, dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir, "data dir is not read from the file")
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.PollInterval)
	assert.Equal(t, 10, cfg.Alarms.SnoozeDefaultMinutes)
	assert.Equal(t, 60, cfg.Alarms.SnoozeMaxMinutes, "unset keys keep defaults")
	assert.Equal(t, 15*time.Second, cfg.Alarms.LoopInterval)
	assert.False(t, cfg.Notifications.Desktop)
	assert.Equal(t, []string{"echo {{ .Title }}"}, cfg.Notifications.Hooks)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Owners)
	assert.Equal(t, time.Hour, cfg.API.IdempotencyTTL)
}

func TestLoad_ZeroPollIntervalDisablesPolling(t *testing.T) {
	path := writeConfig(t, "store:\n  poll_interval: 0s\n")

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Store.PollInterval)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "server: [unclosed\n")

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "alarms:\n  snooze_minutes: 10\n")

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snooze_minutes")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Addr = ""
	cfg.Owners = []string{""}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
	assert.Contains(t, err.Error(), "owners[0]")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: "server.addr"},
		{name: "no connections", mutate: func(c *Config) { c.Database.MaxOpenConns = 0 }, wantErr: "max_open_conns"},
		{name: "snooze max zero", mutate: func(c *Config) { c.Alarms.SnoozeMaxMinutes = 0 }, wantErr: "snooze_max_minutes"},
		{name: "snooze default above max", mutate: func(c *Config) {
			c.Alarms.SnoozeMaxMinutes = 10
			c.Alarms.SnoozeDefaultMinutes = 11
		}, wantErr: "snooze_default_minutes"},
		{name: "negative repeats", mutate: func(c *Config) { c.Alarms.LoopMaxRepeats = -1 }, wantErr: "loop_max_repeats"},
		{name: "blank owner", mutate: func(c *Config) { c.Owners = []string{"u1", ""} }, wantErr: "owners[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
