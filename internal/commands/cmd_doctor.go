package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/colonyops/taskwatch/internal/core/doctor"
	"github.com/colonyops/taskwatch/internal/integration/desktop"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/urfave/cli/v3"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

type DoctorCmd struct {
	flags *Flags
	app   *taskwatch.App

	// flags
	format string
}

func NewDoctorCmd(flags *Flags, app *taskwatch.App) *DoctorCmd {
	return &DoctorCmd{flags: flags, app: app}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your taskwatch setup",
		UsageText:   "taskwatch doctor [--format text|json]",
		Description: "Checks configuration, the database, alert tools, the server and supervisor links.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) checks() []doctor.Check {
	cfg := cmd.app.Config

	var tool string
	if cfg.Notifications.Desktop {
		tool = desktop.Tool(runtime.GOOS)
	}

	c := cmd.flags.client()
	health := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return c.Health(ctx)
	}

	return []doctor.Check{
		doctor.NewConfigCheck(cfg, cmd.flags.ConfigPath),
		doctor.NewStoreCheck(cmd.app.DB.Path(), cmd.app.DB.SchemaVersion, cmd.app.DB.Queries().CurrentRevision),
		doctor.NewToolsCheck(tool, cfg.Notifications.Hooks),
		doctor.NewServerCheck(c.Addr(), health),
		doctor.NewOwnersCheck(cfg.Owners, cmd.app.Links.Supervisor),
	}
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	results := doctor.RunAll(ctx, cmd.checks()...)
	passed, warned, failed := doctor.Summary(results)

	if cmd.format == "json" {
		out := struct {
			Healthy bool            `json:"healthy"`
			Passed  int             `json:"passed"`
			Warned  int             `json:"warned"`
			Failed  int             `json:"failed"`
			Checks  []doctor.Result `json:"checks"`
		}{failed == 0, passed, warned, failed, results}
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, out); err != nil {
			return err
		}
	} else {
		w := c.Root().ErrWriter
		_, _ = fmt.Fprintln(w, boldStyle.Render("Taskwatch Doctor"))
		_, _ = fmt.Fprintln(w, dimStyle.Render(strings.Repeat("─", 40)))

		for _, result := range results {
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, boldStyle.Render(result.Name))
			for _, item := range result.Items {
				detail := ""
				if item.Detail != "" {
					detail = " " + dimStyle.Render(item.Detail)
				}
				_, _ = fmt.Fprintf(w, "  %s %s%s\n", statusIcon(item.Status), item.Label, detail)
			}
		}

		_, _ = fmt.Fprintf(w, "\n%s  %s  %s\n",
			passStyle.Render(fmt.Sprintf("%d passed", passed)),
			warnStyle.Render(fmt.Sprintf("%d warnings", warned)),
			failStyle.Render(fmt.Sprintf("%d failed", failed)),
		)
	}

	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func statusIcon(s doctor.Status) string {
	switch s {
	case doctor.StatusPass:
		return passStyle.Render("✔")
	case doctor.StatusWarn:
		return warnStyle.Render("●")
	default:
		return failStyle.Render("✘")
	}
}
