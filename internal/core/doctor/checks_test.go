package doctor

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubLookPath(t *testing.T, present ...string) {
	t.Helper()
	orig := lookPathFunc
	t.Cleanup(func() { lookPathFunc = orig })

	lookPathFunc = func(file string) (string, error) {
		for _, p := range present {
			if p == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
}

func TestConfigCheck(t *testing.T) {
	t.Run("valid config with warnings", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()

		result := NewConfigCheck(&cfg, filepath.Join(cfg.DataDir, "config.yaml")).Run(context.Background())

		require.NotEmpty(t, result.Items)
		assert.Equal(t, StatusPass, result.Items[0].Status)
		// Default config has no owners.
		assert.Contains(t, labels(result), "owners")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Alarms.SnoozeMaxMinutes = 0

		result := NewConfigCheck(&cfg, "").Run(context.Background())

		require.NotEmpty(t, result.Items)
		for _, item := range result.Items {
			assert.Equal(t, StatusFail, item.Status)
		}
	})
}

func TestStoreCheck(t *testing.T) {
	schema := func(context.Context) (int, error) { return 3, nil }

	ok := NewStoreCheck("/tmp/taskwatch.db", schema, func(context.Context) (int64, error) { return 7, nil })
	result := ok.Run(context.Background())
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Equal(t, "/tmp/taskwatch.db (schema 3, revision 7)", result.Items[0].Detail)

	broken := NewStoreCheck("/tmp/taskwatch.db", schema, func(context.Context) (int64, error) { return 0, errors.New("disk I/O error") })
	result = broken.Run(context.Background())
	assert.Equal(t, StatusFail, result.Items[0].Status)

	noSchema := NewStoreCheck("/tmp/taskwatch.db", func(context.Context) (int, error) { return 0, errors.New("no such table") }, nil)
	result = noSchema.Run(context.Background())
	assert.Equal(t, StatusFail, result.Items[0].Status)
}

func TestToolsCheck(t *testing.T) {
	t.Run("desktop tool present", func(t *testing.T) {
		stubLookPath(t, "notify-send")

		result := NewToolsCheck("notify-send", nil).Run(context.Background())
		require.Len(t, result.Items, 1)
		assert.Equal(t, StatusPass, result.Items[0].Status)
		assert.Equal(t, "/usr/bin/notify-send", result.Items[0].Detail)
	})

	t.Run("desktop tool missing", func(t *testing.T) {
		stubLookPath(t)

		result := NewToolsCheck("notify-send", nil).Run(context.Background())
		assert.Equal(t, StatusWarn, result.Items[0].Status)
	})

	t.Run("hooks", func(t *testing.T) {
		stubLookPath(t, "curl")

		result := NewToolsCheck("", []string{
			"curl -d {{ .Message }} https://example.com",
			"pushover {{ .Title }}",
			"{{ .Command }}",
		}).Run(context.Background())

		require.Len(t, result.Items, 3)
		assert.Equal(t, CheckItem{Label: "desktop", Status: StatusPass, Detail: "disabled"}, result.Items[0])
		assert.Equal(t, StatusPass, result.Items[1].Status)
		assert.Equal(t, "hook pushover", result.Items[2].Label)
		assert.Equal(t, StatusFail, result.Items[2].Status)
	})
}

func TestServerCheck(t *testing.T) {
	up := NewServerCheck("127.0.0.1:7420", func(context.Context) error { return nil }).Run(context.Background())
	assert.Equal(t, StatusPass, up.Items[0].Status)

	down := NewServerCheck("127.0.0.1:7420", func(context.Context) error { return errors.New("refused") }).Run(context.Background())
	assert.Equal(t, StatusWarn, down.Items[0].Status)
}

func TestOwnersCheck(t *testing.T) {
	supervisor := func(_ context.Context, owner string) (link.Link, error) {
		switch owner {
		case "u1":
			return link.Link{OwnerID: "u1", SupervisorID: "s1"}, nil
		case "u2":
			return link.Link{}, link.ErrMissing
		default:
			return link.Link{}, errors.New("read link: boom")
		}
	}

	result := NewOwnersCheck([]string{"u1", "u2", "u3"}, supervisor).Run(context.Background())

	require.Len(t, result.Items, 3)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Equal(t, "supervised by s1", result.Items[0].Detail)
	assert.Equal(t, StatusWarn, result.Items[1].Status)
	assert.Equal(t, StatusFail, result.Items[2].Status)

	empty := NewOwnersCheck(nil, supervisor).Run(context.Background())
	assert.Equal(t, StatusPass, empty.Items[0].Status)
}

func TestSummary(t *testing.T) {
	schema := func(context.Context) (int, error) { return 1, nil }
	results := RunAll(context.Background(),
		NewServerCheck("a", func(context.Context) error { return errors.New("down") }),
		NewStoreCheck("db", schema, func(context.Context) (int64, error) { return 1, nil }),
		NewStoreCheck("db", schema, func(context.Context) (int64, error) { return 0, errors.New("x") }),
	)

	passed, warned, failed := Summary(results)
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, warned)
	assert.Equal(t, 1, failed)
}

func labels(r Result) []string {
	out := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, item.Label)
	}
	return out
}
