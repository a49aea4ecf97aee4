package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type ReviewCmd struct {
	flags *Flags
	app   *taskwatch.App

	// flags
	supervisor string
	message    string
	jsonOutput bool
}

// NewReviewCmd creates a new review command.
func NewReviewCmd(flags *Flags, app *taskwatch.App) *ReviewCmd {
	return &ReviewCmd{flags: flags, app: app}
}

// Register adds the review command to the application.
func (cmd *ReviewCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "review",
		Usage: "Confirm or reject completed tasks as a supervisor",
		Description: `Supervisor commands for tasks their owners marked done.

Only the supervisor linked to the owner may review. Confirming a task records
who confirmed it. Rejecting returns it to pending, re-arms its alarm, and
tells the owner why.`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List done tasks awaiting review",
				UsageText: "taskwatch review list --as <supervisor> [--json]",
				Flags: []cli.Flag{
					cmd.supervisorFlag(),
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:          "confirm",
				Usage:         "Confirm a done task",
				UsageText:     "taskwatch review confirm --as <supervisor> --owner <owner> <task-id>",
				Flags:         []cli.Flag{cmd.supervisorFlag()},
				ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, task.StatusDone),
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.review(ctx, c, true)
				},
			},
			{
				Name:      "reject",
				Usage:     "Reject a done task and send it back to the owner",
				UsageText: "taskwatch review reject --as <supervisor> --owner <owner> <task-id> [--message text]",
				Flags: []cli.Flag{
					cmd.supervisorFlag(),
					&cli.StringFlag{
						Name:        "message",
						Aliases:     []string{"m"},
						Usage:       "reason shown to the owner",
						Destination: &cmd.message,
					},
				},
				ShellComplete: TaskIDCompleter(cmd.flags, cmd.app, task.StatusDone),
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.review(ctx, c, false)
				},
			},
		},
	})
	return app
}

func (cmd *ReviewCmd) supervisorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "as",
		Usage:       "supervisor id performing the review",
		Sources:     cli.EnvVars("TASKWATCH_SUPERVISOR"),
		Required:    true,
		Destination: &cmd.supervisor,
	}
}

func (cmd *ReviewCmd) review(ctx context.Context, c *cli.Command, accepted bool) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one task id")
	}

	rv := taskwatch.Review{SupervisorID: cmd.supervisor, Accepted: accepted}
	if !accepted {
		rv.Message = cmd.message
	}

	t, err := cmd.app.Confirmations.ReviewCompletion(ctx, owner, c.Args().First(), rv)
	if err != nil {
		return err
	}

	p := printer.Ctx(ctx)
	if accepted {
		p.Successf("confirmed %s", t.Title)
	} else {
		p.Warnf("rejected %s; it is pending again", t.Title)
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, t)
}

// awaitingReview is one row of review list output.
type awaitingReview struct {
	OwnerID string    `json:"ownerId"`
	Task    task.Task `json:"task"`
}

func (cmd *ReviewCmd) runList(ctx context.Context, c *cli.Command) error {
	owners, err := cmd.app.Links.LinkedOwners(ctx, cmd.supervisor)
	if err != nil {
		return fmt.Errorf("linked owners: %w", err)
	}

	var rows []awaitingReview
	for _, owner := range owners {
		tasks, err := cmd.app.Tasks.ListTasks(ctx, owner, task.StatusDone)
		if err != nil {
			return fmt.Errorf("list tasks for %s: %w", owner, err)
		}
		for _, t := range tasks {
			rows = append(rows, awaitingReview{OwnerID: owner, Task: t})
		}
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		if rows == nil {
			rows = []awaitingReview{}
		}
		return iojson.WriteWith(out, c.Root().ErrWriter, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "Nothing to review\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OWNER\tTASK\tTITLE\tDONE AT")
	for _, r := range rows {
		doneAt := "-"
		if r.Task.DoneAt != nil {
			doneAt = formatTime(*r.Task.DoneAt)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.OwnerID, r.Task.ID, r.Task.Title, doneAt)
	}
	return w.Flush()
}
