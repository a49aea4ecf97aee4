package commands

import (
	"context"
	"fmt"

	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/web"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type SessionCmd struct {
	flags *Flags
}

// NewSessionCmd creates a new session command.
func NewSessionCmd(flags *Flags) *SessionCmd {
	return &SessionCmd{flags: flags}
}

// Register adds the session command to the application.
func (cmd *SessionCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "session",
		Usage: "Start and stop owner sessions on the running server",
		Description: `A session keeps an owner's alarms in step with their tasks. Sessions live in
'taskwatch serve'; these commands ask the running server to start, stop, or
report on one.`,
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start the owner's session",
				UsageText: "taskwatch session start",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.call(ctx, c, "started", cmd.flags.client().StartSession)
				},
			},
			{
				Name:      "stop",
				Usage:     "Stop the owner's session and cancel its triggers",
				UsageText: "taskwatch session stop",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.call(ctx, c, "stopped", cmd.flags.client().StopSession)
				},
			},
			{
				Name:      "status",
				Usage:     "Show the owner's session",
				UsageText: "taskwatch session status",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.call(ctx, c, "", cmd.flags.client().SessionStatus)
				},
			},
		},
	})
	return app
}

func (cmd *SessionCmd) call(ctx context.Context, c *cli.Command, verb string, fn func(context.Context, string) (web.SessionStatus, error)) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	st, err := fn(ctx, owner)
	if err != nil {
		return fmt.Errorf("session %s: %w", owner, err)
	}

	if verb != "" {
		printer.Ctx(ctx).Successf("session %s for %s", verb, owner)
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, st)
}
