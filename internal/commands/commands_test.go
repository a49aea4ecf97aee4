package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/colonyops/taskwatch/internal/data/stores"
	"github.com/colonyops/taskwatch/internal/integration/timer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func newTestApp(t *testing.T) *taskwatch.App {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(dir, db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zerolog.Nop()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	store := stores.NewNodeStore(database, log, stores.WithPollInterval(0))
	bus := eventbus.New(64)
	sched := timer.New(ctx, log)
	t.Cleanup(sched.Close)

	links := taskwatch.NewLinkService(store, log)
	notifier := taskwatch.NewNotifier(stores.NewNotifyStore(database), notify.Fanout{taskwatch.NewInboxSink(store)}, links, bus, log)
	engine := taskwatch.NewEngine(store, sched, notifier, bus, taskwatch.EngineOptions{}, log)
	t.Cleanup(func() { engine.StopAll(context.Background()) })

	return taskwatch.NewApp(
		taskwatch.NewTaskService(store, bus, log),
		links,
		notifier,
		engine,
		bus,
		stores.NewKVStore(database),
		&cfg,
		database,
		log,
	)
}

// cliRunner runs the taskwatch command tree against a test App.
type cliRunner struct {
	app *taskwatch.App
}

func (r cliRunner) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	flags := &Flags{Config: r.app.Config}
	var out, errOut bytes.Buffer

	root := &cli.Command{
		Name:      "taskwatch",
		Writer:    &out,
		ErrWriter: &errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Destination: &flags.Owner},
			// Nothing listens here, so server-backed paths fall back or fail fast.
			&cli.StringFlag{Name: "server", Value: "127.0.0.1:1", Destination: &flags.Server},
		},
	}
	root = RegisterAll(root, flags, r.app)

	err := root.Run(context.Background(), append([]string{"taskwatch"}, args...))
	return out.String(), err
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestTaskCommands(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	out, err := r.run(t, "--owner", "u1", "task", "create", "--title", "Water plants", "--time", "08:30", "--priority", "low")
	require.NoError(t, err)
	created := decodeOutput[task.Task](t, out)
	assert.Equal(t, "Water plants", created.Title)
	assert.Equal(t, task.PriorityLow, created.Priority)

	out, err = r.run(t, "--owner", "u1", "task", "list", "--json")
	require.NoError(t, err)
	assert.Len(t, decodeOutput[[]task.Task](t, out), 1)

	out, err = r.run(t, "--owner", "u1", "task", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Water plants")

	out, err = r.run(t, "--owner", "u1", "task", "get", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, decodeOutput[task.Task](t, out).ID)

	_, err = r.run(t, "--owner", "u1", "task", "list", "--status", "asleep")
	require.Error(t, err)

	_, err = r.run(t, "--owner", "u1", "task", "delete", created.ID)
	require.NoError(t, err)

	_, err = r.run(t, "--owner", "u1", "task", "get", created.ID)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestTaskCommands_RequireOwner(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	_, err := r.run(t, "task", "list")
	require.ErrorIs(t, err, errNoOwner)
}

func TestConfirmationCommands(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	out, err := r.run(t, "--owner", "u1", "task", "create", "--title", "Take pills", "--time", "09:00")
	require.NoError(t, err)
	created := decodeOutput[task.Task](t, out)

	// Marked done before any supervisor exists: the notification is queued.
	out, err = r.run(t, "--owner", "u1", "task", "done", created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, decodeOutput[task.Task](t, out).Status)

	out, err = r.run(t, "--owner", "u1", "notify", "list", "--pending", "--json")
	require.NoError(t, err)
	require.Len(t, decodeOutput[[]notify.Record](t, out), 1)

	// Linking flushes the queue when no server is running.
	_, err = r.run(t, "--owner", "u1", "supervisor", "link", "s1")
	require.NoError(t, err)

	out, err = r.run(t, "--owner", "u1", "notify", "list", "--pending", "--json")
	require.NoError(t, err)
	assert.Empty(t, decodeOutput[[]notify.Record](t, out))

	out, err = r.run(t, "review", "list", "--as", "s1", "--json")
	require.NoError(t, err)
	rows := decodeOutput[[]awaitingReview](t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].OwnerID)
	assert.Equal(t, created.ID, rows[0].Task.ID)

	_, err = r.run(t, "--owner", "u1", "review", "confirm", "--as", "s2", created.ID)
	require.Error(t, err)

	out, err = r.run(t, "--owner", "u1", "review", "confirm", "--as", "s1", created.ID)
	require.NoError(t, err)
	confirmed := decodeOutput[task.Task](t, out)
	assert.Equal(t, task.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "s1", confirmed.ConfirmedBy)

	_, err = r.run(t, "--owner", "u1", "review", "confirm", "--as", "s1", created.ID)
	require.ErrorIs(t, err, task.ErrStaleEntity)
}

func TestRejectCommand(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	_, err := r.run(t, "--owner", "u1", "supervisor", "link", "s1")
	require.NoError(t, err)

	out, err := r.run(t, "--owner", "u1", "task", "create", "--title", "Stretch", "--time", "07:15")
	require.NoError(t, err)
	created := decodeOutput[task.Task](t, out)

	_, err = r.run(t, "--owner", "u1", "task", "done", created.ID)
	require.NoError(t, err)

	out, err = r.run(t, "--owner", "u1", "review", "reject", "--as", "s1", "--message", "do it properly", created.ID)
	require.NoError(t, err)
	rejected := decodeOutput[task.Task](t, out)
	assert.Equal(t, task.StatusPending, rejected.Status)
	assert.Equal(t, "do it properly", rejected.RejectionMessage)
}

func TestSessionCommands_NoServer(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	_, err := r.run(t, "--owner", "u1", "session", "status")
	require.Error(t, err)

	_, err = r.run(t, "--owner", "u1", "task", "snooze", "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running server")
}

func TestSupervisorOwners(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	for _, owner := range []string{"u2", "u1"} {
		_, err := r.run(t, "--owner", owner, "supervisor", "link", "s1")
		require.NoError(t, err)
	}

	out, err := r.run(t, "supervisor", "owners", "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"supervisorId":"s1","owners":["u1","u2"]}`, out)
}

func TestDoctorCommand(t *testing.T) {
	app := newTestApp(t)
	app.Config.Owners = []string{"u1"}
	r := cliRunner{app: app}

	out, err := r.run(t, "doctor", "--format", "json")
	require.NoError(t, err)

	report := decodeOutput[struct {
		Healthy bool `json:"healthy"`
		Checks  []struct {
			Name  string `json:"name"`
			Items []struct {
				Label  string `json:"label"`
				Status string `json:"status"`
			} `json:"items"`
		} `json:"checks"`
	}](t, out)

	assert.True(t, report.Healthy)
	require.Len(t, report.Checks, 5)
	assert.Equal(t, "Server", report.Checks[3].Name)
	assert.Equal(t, "warn", report.Checks[3].Items[0].Status)

	owners := report.Checks[4]
	require.Len(t, owners.Items, 1)
	assert.Equal(t, "u1", owners.Items[0].Label)
	assert.Equal(t, "warn", owners.Items[0].Status)
}

func TestConfigValidateCommand(t *testing.T) {
	r := cliRunner{app: newTestApp(t)}

	out, err := r.run(t, "config", "validate", "--format", "json")
	require.NoError(t, err)

	report := decodeOutput[validationReport](t, out)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Owners", report.Warnings[0].Category)
}

func TestIssuesOf(t *testing.T) {
	assert.Nil(t, issuesOf(nil))

	plain := issuesOf(errors.New("data directory cannot be empty"))
	require.Len(t, plain, 1)
	assert.Empty(t, plain[0].Field)

	wrapped := fmt.Errorf("deep: %w", criterio.NewFieldErrors("kv.sweep_interval", errors.New("must be positive")))
	fields := issuesOf(wrapped)
	require.Len(t, fields, 1)
	assert.Equal(t, "kv.sweep_interval", fields[0].Field)
	assert.Equal(t, "must be positive", fields[0].Message)

	joined := issuesOf(errors.Join(errors.New("server.addr cannot be empty"), errors.New("owners[0] cannot be empty")))
	require.Len(t, joined, 2)
	assert.Equal(t, "owners[0] cannot be empty", joined[1].Message)
}
