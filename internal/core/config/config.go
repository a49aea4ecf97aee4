// Package config handles configuration loading and validation for taskwatch.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Store         StoreConfig         `yaml:"store"`
	Alarms        AlarmsConfig        `yaml:"alarms"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Owners        []string            `yaml:"owners"`
	KV            KVConfig            `yaml:"kv"`
	API           APIConfig           `yaml:"api"`
	DataDir       string              `yaml:"-"` // set by caller, not from config file
}

// ServerConfig controls the HTTP API started by "taskwatch serve".
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// UpdateCheck looks for a newer release when the server starts.
	UpdateCheck bool `yaml:"update_check"`
}

// DatabaseConfig controls the SQLite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// StoreConfig controls how subscriptions detect changes.
type StoreConfig struct {
	// PollInterval is the fallback re-check period when no change
	// notification arrives. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Debounce collapses bursts of file events from other processes.
	Debounce time.Duration `yaml:"debounce"`
}

// AlarmsConfig controls alarm scheduling and repetition.
type AlarmsConfig struct {
	SnoozeDefaultMinutes int           `yaml:"snooze_default_minutes"`
	SnoozeMaxMinutes     int           `yaml:"snooze_max_minutes"`
	LoopInterval         time.Duration `yaml:"loop_interval"`
	LoopMaxRepeats       int           `yaml:"loop_max_repeats"`
	// ResyncInterval re-runs reconciliation on the latest snapshot so failed
	// schedules are retried without waiting for another change.
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// NotificationsConfig controls local alert delivery.
type NotificationsConfig struct {
	Desktop bool `yaml:"desktop"`
	// Hooks are shell command templates run for every owner alert.
	Hooks []string `yaml:"hooks"`
	// CommandTimeout bounds each notification command and hook.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// KVConfig controls the key-value store used for API idempotency records.
type KVConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// APIConfig controls request handling.
type APIConfig struct {
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:7420",
			ShutdownTimeout: 5 * time.Second,
			UpdateCheck:     true,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5 * time.Second,
		},
		Store: StoreConfig{
			PollInterval: 2 * time.Second,
			Debounce:     50 * time.Millisecond,
		},
		Alarms: AlarmsConfig{
			SnoozeDefaultMinutes: 5,
			SnoozeMaxMinutes:     60,
			LoopInterval:         30 * time.Second,
			LoopMaxRepeats:       20,
			ResyncInterval:       time.Minute,
		},
		Notifications: NotificationsConfig{
			Desktop:        true,
			CommandTimeout: 10 * time.Second,
		},
		KV: KVConfig{
			SweepInterval: 10 * time.Minute,
		},
		API: APIConfig{
			IdempotencyTTL: 24 * time.Hour,
		},
	}
}

// Load reads the YAML file at configPath over the defaults. A missing or
// empty path yields the defaults. Unknown keys are rejected so typos do not
// silently fall back to defaults. dataDir always comes from the caller.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.decodeFile(configPath); err != nil {
			return nil, err
		}
	}
	cfg.DataDir = dataDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// orDefault replaces a zero *v with def.
func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// applyDefaults fills zero values that have no "disabled" meaning. Poll
// interval and loop repeats are left alone because zero is meaningful.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	orDefault(&c.Server.Addr, d.Server.Addr)
	orDefault(&c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
	orDefault(&c.Database.MaxOpenConns, d.Database.MaxOpenConns)
	orDefault(&c.Database.MaxIdleConns, d.Database.MaxIdleConns)
	orDefault(&c.Database.BusyTimeout, d.Database.BusyTimeout)
	orDefault(&c.Store.Debounce, d.Store.Debounce)
	orDefault(&c.Alarms.SnoozeDefaultMinutes, d.Alarms.SnoozeDefaultMinutes)
	orDefault(&c.Alarms.SnoozeMaxMinutes, d.Alarms.SnoozeMaxMinutes)
	orDefault(&c.Alarms.LoopInterval, d.Alarms.LoopInterval)
	orDefault(&c.Notifications.CommandTimeout, d.Notifications.CommandTimeout)
	orDefault(&c.KV.SweepInterval, d.KV.SweepInterval)
	orDefault(&c.API.IdempotencyTTL, d.API.IdempotencyTTL)
}

// Validate checks structural constraints and reports every violation.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DataDir == "" {
		fail("data directory cannot be empty")
	}
	if c.Server.Addr == "" {
		fail("server.addr cannot be empty")
	}
	if c.Database.MaxOpenConns < 1 {
		fail("database.max_open_conns must be at least 1")
	}

	a := c.Alarms
	if a.SnoozeMaxMinutes < 1 {
		fail("alarms.snooze_max_minutes must be at least 1")
	} else if a.SnoozeDefaultMinutes < 1 || a.SnoozeDefaultMinutes > a.SnoozeMaxMinutes {
		fail("alarms.snooze_default_minutes must be between 1 and %d", a.SnoozeMaxMinutes)
	}
	if a.LoopMaxRepeats < 0 {
		fail("alarms.loop_max_repeats cannot be negative")
	}

	for i, owner := range c.Owners {
		if owner == "" {
			fail("owners[%d] cannot be empty", i)
		}
	}

	return errors.Join(errs...)
}

// DatabasePath returns the path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "taskwatch.db")
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "taskwatch.log")
}
