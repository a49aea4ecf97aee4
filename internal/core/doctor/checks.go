package doctor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/hay-kot/criterio"
)

// lookPathFunc finds executables on PATH. Overridden in tests.
var lookPathFunc = exec.LookPath

// ConfigCheck validates the loaded configuration and reports its warnings.
type ConfigCheck struct {
	cfg  *config.Config
	path string
}

func NewConfigCheck(cfg *config.Config, path string) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, path: path}
}

func (c *ConfigCheck) Name() string { return "Configuration" }

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.cfg.ValidateDeep(c.path); err != nil {
		var fieldErrs criterio.FieldErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result.add(fe.Field, StatusFail, fe.Err.Error())
			}
		} else {
			result.add("config", StatusFail, err.Error())
		}
		return result
	}

	result.add("config", StatusPass, c.path)
	for _, w := range c.cfg.Warnings() {
		label := strings.ToLower(w.Category)
		if w.Item != "" {
			label += "." + w.Item
		}
		result.add(label, StatusWarn, w.Message)
	}
	return result
}

// StoreCheck verifies the database answers schema and revision queries.
type StoreCheck struct {
	path     string
	schema   func(ctx context.Context) (int, error)
	revision func(ctx context.Context) (int64, error)
}

// NewStoreCheck creates a check for the database at path. schema reads the
// applied migration version and revision the store's change counter.
func NewStoreCheck(path string, schema func(ctx context.Context) (int, error), revision func(ctx context.Context) (int64, error)) *StoreCheck {
	return &StoreCheck{path: path, schema: schema, revision: revision}
}

func (c *StoreCheck) Name() string { return "Store" }

func (c *StoreCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	version, err := c.schema(ctx)
	if err != nil {
		result.add("database", StatusFail, err.Error())
		return result
	}
	rev, err := c.revision(ctx)
	if err != nil {
		result.add("database", StatusFail, err.Error())
		return result
	}
	result.add("database", StatusPass, fmt.Sprintf("%s (schema %d, revision %d)", c.path, version, rev))
	return result
}

// ToolsCheck verifies the commands used for alerts are on PATH.
type ToolsCheck struct {
	desktopTool string
	hooks       []string
}

// NewToolsCheck creates a tools check. desktopTool is empty when desktop
// alerts are disabled or unsupported on this platform.
func NewToolsCheck(desktopTool string, hooks []string) *ToolsCheck {
	return &ToolsCheck{desktopTool: desktopTool, hooks: hooks}
}

func (c *ToolsCheck) Name() string { return "Alert tools" }

func (c *ToolsCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if c.desktopTool == "" {
		result.add("desktop", StatusPass, "disabled")
	} else if path, err := lookPathFunc(c.desktopTool); err != nil {
		result.add(c.desktopTool, StatusWarn, "not found on PATH (desktop alerts will fail)")
	} else {
		result.add(c.desktopTool, StatusPass, path)
	}

	for _, hook := range c.hooks {
		fields := strings.Fields(hook)
		if len(fields) == 0 || strings.Contains(fields[0], "{{") {
			continue
		}
		if path, err := lookPathFunc(fields[0]); err != nil {
			result.add("hook "+fields[0], StatusFail, "not found on PATH")
		} else {
			result.add("hook "+fields[0], StatusPass, path)
		}
	}
	return result
}

// ServerCheck reports whether a serve process is reachable.
type ServerCheck struct {
	addr   string
	health func(ctx context.Context) error
}

func NewServerCheck(addr string, health func(ctx context.Context) error) *ServerCheck {
	return &ServerCheck{addr: addr, health: health}
}

func (c *ServerCheck) Name() string { return "Server" }

func (c *ServerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.health(ctx); err != nil {
		result.add(c.addr, StatusWarn, "not reachable (alarms ring only while 'taskwatch serve' runs)")
		return result
	}
	result.add(c.addr, StatusPass, "reachable")
	return result
}

// OwnersCheck reports which configured owners have a supervisor linked.
type OwnersCheck struct {
	owners     []string
	supervisor func(ctx context.Context, ownerID string) (link.Link, error)
}

func NewOwnersCheck(owners []string, supervisor func(ctx context.Context, ownerID string) (link.Link, error)) *OwnersCheck {
	return &OwnersCheck{owners: owners, supervisor: supervisor}
}

func (c *OwnersCheck) Name() string { return "Owners" }

func (c *OwnersCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if len(c.owners) == 0 {
		result.add("owners", StatusPass, "none configured")
		return result
	}

	for _, owner := range c.owners {
		l, err := c.supervisor(ctx, owner)
		switch {
		case errors.Is(err, link.ErrMissing):
			result.add(owner, StatusWarn, "no supervisor linked (completions are queued)")
		case err != nil:
			result.add(owner, StatusFail, err.Error())
		default:
			result.add(owner, StatusPass, "supervised by "+l.SupervisorID)
		}
	}
	return result
}
