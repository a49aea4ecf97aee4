package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/colonyops/taskwatch/internal/client"
	"github.com/colonyops/taskwatch/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	Version    string

	// Owner is the default task owner for commands that act on one.
	Owner string
	// Server overrides the serve address used by commands that talk to a
	// running engine.
	Server string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

var errNoOwner = errors.New("no owner given; pass --owner or set TASKWATCH_OWNER")

// owner returns the owner to act on.
func (f *Flags) owner() (string, error) {
	if f.Owner != "" {
		return f.Owner, nil
	}
	return "", errNoOwner
}

// client returns an API client for the running serve process.
func (f *Flags) client() *client.Client {
	addr := f.Server
	if addr == "" && f.Config != nil {
		addr = f.Config.Server.Addr
	}
	if addr == "" {
		addr = config.DefaultConfig().Server.Addr
	}
	return client.New(addr)
}

// xdgDir resolves an XDG base directory, falling back to ~/<fallback...>
// when the variable is unset.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "taskwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(append(append([]string{home}, fallback...), "taskwatch")...)
}

// DefaultConfigPath is $XDG_CONFIG_HOME/taskwatch/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.yaml")
}

// DefaultDataDir is $XDG_DATA_HOME/taskwatch.
func DefaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}
