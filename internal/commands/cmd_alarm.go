package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type AlarmCmd struct {
	flags *Flags
	app   *taskwatch.App

	// flags
	jsonOutput bool
}

// NewAlarmCmd creates a new alarm command.
func NewAlarmCmd(flags *Flags, app *taskwatch.App) *AlarmCmd {
	return &AlarmCmd{flags: flags, app: app}
}

// Register adds the alarm command to the application.
func (cmd *AlarmCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:        "json",
			Usage:       "output as JSON",
			Destination: &cmd.jsonOutput,
		}
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "alarm",
		Usage: "Inspect alarm records",
		Description: `Alarm records are written by the engine in 'taskwatch serve'. Each task
has at most one current alarm instance; snoozing or rejecting a task replaces
it with a new instance.`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List stored alarm records",
				UsageText: "taskwatch alarm list [--json]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    cmd.runList,
			},
			{
				Name:      "active",
				Usage:     "List the alarms held by the running session",
				UsageText: "taskwatch alarm active [--json]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    cmd.runActive,
			},
			{
				Name:      "events",
				Usage:     "Show the alarm fire log",
				UsageText: "taskwatch alarm events [--json]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    cmd.runEvents,
			},
		},
	})
	return app
}

func (cmd *AlarmCmd) runList(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	alarms, err := cmd.app.Tasks.ListAlarms(ctx, owner)
	if err != nil {
		return fmt.Errorf("list alarms: %w", err)
	}
	return cmd.writeAlarms(c, alarms)
}

func (cmd *AlarmCmd) runActive(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	alarms, err := cmd.flags.client().ActiveAlarms(ctx, owner)
	if err != nil {
		return fmt.Errorf("active alarms: %w", err)
	}
	return cmd.writeAlarms(c, alarms)
}

func (cmd *AlarmCmd) writeAlarms(c *cli.Command, alarms []alarm.Alarm) error {
	out := c.Root().Writer
	if cmd.jsonOutput {
		if alarms == nil {
			alarms = []alarm.Alarm{}
		}
		return iojson.WriteWith(out, c.Root().ErrWriter, alarms)
	}
	if len(alarms) == 0 {
		fmt.Fprintf(os.Stderr, "No alarms found\n")
		return nil
	}
	writeAlarmTable(out, alarms)
	return nil
}

func (cmd *AlarmCmd) runEvents(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	events, err := cmd.app.Tasks.ListAlarmEvents(ctx, owner)
	if err != nil {
		return fmt.Errorf("list alarm events: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		if events == nil {
			events = []alarm.Event{}
		}
		return iojson.WriteWith(out, c.Root().ErrWriter, events)
	}
	if len(events) == 0 {
		fmt.Fprintf(os.Stderr, "No alarm events\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TRIGGERED\tTASK\tTITLE\tTYPE\tSTATUS")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatTime(e.TriggeredAt), e.TaskID, e.TaskTitle, e.Type, e.Status)
	}
	return w.Flush()
}
