package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/internal/web"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type LinkCmd struct {
	flags *Flags
	app   *taskwatch.App
}

// NewLinkCmd creates the supervisor link commands.
func NewLinkCmd(flags *Flags, app *taskwatch.App) *LinkCmd {
	return &LinkCmd{flags: flags, app: app}
}

// Register adds the supervisor command to the application.
func (cmd *LinkCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "supervisor",
		Usage: "Manage the owner's supervisor link",
		Description: `An owner has at most one supervisor. The supervisor receives a notification
whenever the owner marks a task done and is the only one allowed to review it.

Notifications recorded while no supervisor was linked are delivered when a
link is made.`,
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show the linked supervisor",
				UsageText: "taskwatch supervisor show",
				Action:    cmd.runShow,
			},
			{
				Name:          "link",
				Usage:         "Link a supervisor, replacing any existing link",
				UsageText:     "taskwatch supervisor link <supervisor-id>",
				ShellComplete: SupervisorCompleter(cmd.flags, cmd.app),
				Action:        cmd.runLink,
			},
			{
				Name:      "unlink",
				Usage:     "Remove the supervisor link",
				UsageText: "taskwatch supervisor unlink",
				Action:    cmd.runUnlink,
			},
			{
				Name:          "owners",
				Usage:         "List owners linked to a supervisor",
				UsageText:     "taskwatch supervisor owners <supervisor-id>",
				ShellComplete: SupervisorCompleter(cmd.flags, cmd.app),
				Action:        cmd.runOwners,
			},
		},
	})
	return app
}

func (cmd *LinkCmd) runShow(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	l, err := cmd.app.Links.Supervisor(ctx, owner)
	if errors.Is(err, link.ErrMissing) {
		printer.Ctx(ctx).Infof("%s has no supervisor", owner)
		return nil
	}
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, l)
}

func (cmd *LinkCmd) runLink(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one supervisor id")
	}

	l, err := cmd.app.Links.Link(ctx, owner, c.Args().First())
	if err != nil {
		return err
	}

	p := printer.Ctx(ctx)
	p.Successf("%s is supervised by %s", owner, l.SupervisorID)

	// A running session flushes on its own when it sees the link.
	if _, running := cmd.flags.reachable(ctx); !running {
		n, err := cmd.app.Notifier.FlushQueued(ctx, owner)
		if err != nil {
			p.Warnf("flush queued notifications: %v", err)
		} else if n > 0 {
			p.Infof("delivered %d queued notification(s)", n)
		}
	}

	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, l)
}

func (cmd *LinkCmd) runUnlink(ctx context.Context, _ *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}
	if err := cmd.app.Links.Unlink(ctx, owner); err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("%s has no supervisor", owner)
	return nil
}

func (cmd *LinkCmd) runOwners(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one supervisor id")
	}
	supervisorID := c.Args().First()

	owners, err := cmd.app.Links.LinkedOwners(ctx, supervisorID)
	if err != nil {
		return err
	}
	if owners == nil {
		owners = []string{}
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, web.LinkedOwners{SupervisorID: supervisorID, Owners: owners})
}
