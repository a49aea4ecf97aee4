package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/colonyops/taskwatch/internal/client"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type TaskCmd struct {
	flags *Flags
	app   *taskwatch.App

	// create flags
	input       iojson.FileReader[taskwatch.TaskInput]
	title       string
	timeOfDay   string
	description string
	priority    string

	// list flags
	status     string
	jsonOutput bool

	// snooze flags
	minutes int
}

// NewTaskCmd creates a new task command.
func NewTaskCmd(flags *Flags, app *taskwatch.App) *TaskCmd {
	return &TaskCmd{flags: flags, app: app}
}

// Register adds the task command to the application.
func (cmd *TaskCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "task",
		Usage: "Create and manage daily tasks",
		Description: `Commands for an owner's daily tasks.

Every task fires an alarm at its time of day while the owner's session runs
in 'taskwatch serve'. Marking a task done closes its alarm and asks the
linked supervisor to confirm it.`,
		Commands: []*cli.Command{
			cmd.createCmd(),
			cmd.listCmd(),
			cmd.getCmd(),
			cmd.doneCmd(),
			cmd.snoozeCmd(),
			cmd.deleteCmd(),
		},
	})
	return app
}

func (cmd *TaskCmd) createCmd() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a task",
		UsageText: "taskwatch task create --title <title> --time HH:MM [options]",
		Description: `Creates a pending task for the owner.

Without --title the task is read as JSON from -f or stdin:
  {"title":"Water plants","time":"08:30","priority":"low"}

Examples:
  taskwatch task create --title "Take pills" --time 09:00 --priority high
  echo '{"title":"Stretch","time":"07:15"}' | taskwatch task create`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "task title",
				Destination: &cmd.title,
			},
			&cli.StringFlag{
				Name:        "time",
				Usage:       "time of day as HH:MM (24-hour)",
				Destination: &cmd.timeOfDay,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "optional description",
				Destination: &cmd.description,
			},
			&cli.StringFlag{
				Name:        "priority",
				Aliases:     []string{"p"},
				Usage:       "low, medium, or high (default medium)",
				Destination: &cmd.priority,
			},
			cmd.input.Flag(),
		},
		Action: cmd.runCreate,
	}
}

func (cmd *TaskCmd) runCreate(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	in := taskwatch.TaskInput{
		Title:       cmd.title,
		Time:        cmd.timeOfDay,
		Description: cmd.description,
		Priority:    cmd.priority,
	}
	if cmd.input.Provided() || in.Title == "" {
		in, err = cmd.input.Read()
		if err != nil {
			return fmt.Errorf("read task: %w", err)
		}
	}

	t, err := cmd.app.Tasks.CreateTask(ctx, owner, in)
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("created %s at %s", t.ID, t.Time)
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, t)
}

func (cmd *TaskCmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List the owner's tasks",
		UsageText: "taskwatch task list [--status pending|done|confirmed] [--json]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "status",
				Aliases:     []string{"s"},
				Usage:       "only tasks with this status",
				Destination: &cmd.status,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.runList,
	}
}

func (cmd *TaskCmd) runList(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	status := task.Status(cmd.status)
	if status != "" && !status.IsValid() {
		return fmt.Errorf("invalid status %q", cmd.status)
	}

	tasks, err := cmd.app.Tasks.ListTasks(ctx, owner, status)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		if tasks == nil {
			tasks = []task.Task{}
		}
		return iojson.WriteWith(out, c.Root().ErrWriter, tasks)
	}

	if len(tasks) == 0 {
		fmt.Fprintf(os.Stderr, "No tasks found\n")
		return nil
	}

	writeTaskTable(out, tasks)
	return nil
}

func (cmd *TaskCmd) getCmd() *cli.Command {
	return &cli.Command{
		Name:          "get",
		Usage:         "Show a task as JSON",
		UsageText:     "taskwatch task get <task-id>",
		ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, ""),
		Action: func(ctx context.Context, c *cli.Command) error {
			owner, taskID, err := cmd.target(c)
			if err != nil {
				return err
			}
			t, err := cmd.app.Tasks.GetTask(ctx, owner, taskID)
			if err != nil {
				return err
			}
			return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, t)
		},
	}
}

func (cmd *TaskCmd) doneCmd() *cli.Command {
	return &cli.Command{
		Name:      "done",
		Usage:     "Mark a task done",
		UsageText: "taskwatch task done <task-id>",
		Description: `Marks a pending task done and notifies the linked supervisor.

When 'taskwatch serve' is reachable the request goes through it so the live
alarm is closed as completed. Otherwise the task is updated directly and the
server cancels the alarm when it next sees the change.`,
		ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, task.StatusPending),
		Action:        cmd.runDone,
	}
}

func (cmd *TaskCmd) runDone(ctx context.Context, c *cli.Command) error {
	owner, taskID, err := cmd.target(c)
	if err != nil {
		return err
	}

	var t task.Task
	if api, ok := cmd.flags.reachable(ctx); ok {
		t, err = api.MarkDone(ctx, owner, taskID)
	} else {
		t, err = cmd.app.Confirmations.MarkDone(ctx, owner, taskID)
	}
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("%s marked done", t.Title)
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, t)
}

func (cmd *TaskCmd) snoozeCmd() *cli.Command {
	return &cli.Command{
		Name:      "snooze",
		Usage:     "Defer a task's alarm",
		UsageText: "taskwatch task snooze <task-id> [--minutes N]",
		Description: `Moves the task's active alarm to now plus the given minutes.

Snoozing needs the owner's live session, so 'taskwatch serve' must be running.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "minutes",
				Aliases:     []string{"m"},
				Usage:       "minutes to defer (defaults to alarms.snooze_default_minutes)",
				Destination: &cmd.minutes,
			},
		},
		ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, task.StatusPending),
		Action:        cmd.runSnooze,
	}
}

func (cmd *TaskCmd) runSnooze(ctx context.Context, c *cli.Command) error {
	owner, taskID, err := cmd.target(c)
	if err != nil {
		return err
	}

	res, err := cmd.flags.client().Snooze(ctx, owner, taskID, cmd.minutes)
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return fmt.Errorf("snooze needs a running server: %w", err)
		}
		return err
	}

	printer.Ctx(ctx).Successf("snoozed until %s", formatTime(res.Scheduled.FireAt))
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, res)
}

func (cmd *TaskCmd) deleteCmd() *cli.Command {
	return &cli.Command{
		Name:          "delete",
		Aliases:       []string{"rm"},
		Usage:         "Delete a task",
		UsageText:     "taskwatch task delete <task-id>",
		ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, ""),
		Action: func(ctx context.Context, c *cli.Command) error {
			owner, taskID, err := cmd.target(c)
			if err != nil {
				return err
			}
			if err := cmd.app.Tasks.DeleteTask(ctx, owner, taskID); err != nil {
				return err
			}
			printer.Ctx(ctx).Successf("deleted %s", taskID)
			return nil
		},
	}
}

// target returns the owner and the task id given as the first argument.
func (cmd *TaskCmd) target(c *cli.Command) (string, string, error) {
	owner, err := cmd.flags.owner()
	if err != nil {
		return "", "", err
	}
	if c.Args().Len() != 1 {
		return "", "", fmt.Errorf("expected exactly one task id")
	}
	return owner, c.Args().First(), nil
}
