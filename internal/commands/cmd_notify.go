package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type NotifyCmd struct {
	flags *Flags
	app   *taskwatch.App

	// list flags
	pending    bool
	recipient  string
	status     string
	jsonOutput bool
}

// NewNotifyCmd creates a new notify command.
func NewNotifyCmd(flags *Flags, app *taskwatch.App) *NotifyCmd {
	return &NotifyCmd{flags: flags, app: app}
}

// Register adds the notify command to the application.
func (cmd *NotifyCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "notify",
		Usage: "Inspect and retry notification records",
		Description: `Every notification attempt is recorded. Records that were queued for a
missing supervisor or failed delivery stay pending until a retry of them is
delivered.`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List the owner's notification records",
				UsageText: "taskwatch notify list [--pending] [--recipient id] [--status s] [--json]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "pending",
						Usage:       "only records still waiting for delivery",
						Destination: &cmd.pending,
					},
					&cli.StringFlag{
						Name:        "recipient",
						Usage:       "only records for this recipient id",
						Destination: &cmd.recipient,
					},
					&cli.StringFlag{
						Name:        "status",
						Usage:       "only records with this status (delivered, undelivered, queued)",
						Destination: &cmd.status,
					},
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:      "flush",
				Usage:     "Retry pending notifications now",
				UsageText: "taskwatch notify flush",
				Action:    cmd.runFlush,
			},
		},
	})
	return app
}

func (cmd *NotifyCmd) runList(ctx context.Context, c *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	var records []notify.Record
	if cmd.pending {
		records, err = cmd.app.Notifier.Pending(ctx, owner)
	} else {
		records, err = cmd.app.Notifier.List(ctx, notify.Filter{
			OwnerID:     owner,
			RecipientID: cmd.recipient,
			Status:      notify.Status(cmd.status),
		})
	}
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		if records == nil {
			records = []notify.Record{}
		}
		return iojson.WriteWith(out, c.Root().ErrWriter, records)
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "No notifications found\n")
		return nil
	}
	writeNotificationTable(out, records)
	return nil
}

func (cmd *NotifyCmd) runFlush(ctx context.Context, _ *cli.Command) error {
	owner, err := cmd.flags.owner()
	if err != nil {
		return err
	}

	n, err := cmd.app.Notifier.FlushQueued(ctx, owner)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	printer.Ctx(ctx).Successf("delivered %d notification(s)", n)
	return nil
}
