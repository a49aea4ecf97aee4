package commands

import (
	"context"
	"errors"

	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
	strict bool
}

// NewConfigValidateCmd creates the config command group.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Inspect the configuration",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate the configuration file",
				UsageText: "taskwatch config validate [--format text|json] [--strict]",
				Description: `Checks structural rules, hook templates, timing bounds and the config and
data paths. Warnings describe settings that are legal but probably not
intended; --strict treats them as errors.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
					&cli.BoolFlag{
						Name:        "strict",
						Usage:       "exit non-zero when there are warnings",
						Destination: &cmd.strict,
					},
				},
				Action: cmd.run,
			},
		},
	})
	return app
}

// validationIssue is one failed check.
type validationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type validationReport struct {
	Valid    bool                       `json:"valid"`
	Errors   []validationIssue          `json:"errors,omitempty"`
	Warnings []config.ValidationWarning `json:"warnings,omitempty"`
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	err := cfg.ValidateDeep(cmd.flags.ConfigPath)
	report := validationReport{
		Errors:   issuesOf(err),
		Warnings: cfg.Warnings(),
	}
	report.Valid = len(report.Errors) == 0 && (!cmd.strict || len(report.Warnings) == 0)

	if cmd.format == "json" {
		if werr := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, report); werr != nil {
			return werr
		}
	} else {
		printReport(printer.Ctx(ctx), report)
	}

	if !report.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func printReport(p *printer.Printer, r validationReport) {
	for _, w := range r.Warnings {
		label := w.Category
		if w.Item != "" {
			label += "." + w.Item
		}
		p.Warnf("%s: %s", label, w.Message)
	}

	for _, issue := range r.Errors {
		if issue.Field == "" {
			p.Errorf("%s", issue.Message)
			continue
		}
		p.Errorf("%s: %s", issue.Field, issue.Message)
	}

	switch {
	case len(r.Errors) > 0:
		p.Errorf("%d error(s) found", len(r.Errors))
	case !r.Valid:
		p.Errorf("%d warning(s) with --strict", len(r.Warnings))
	default:
		p.Successf("Configuration is valid")
	}
}

// issuesOf flattens field errors and joined errors into one issue each.
func issuesOf(err error) []validationIssue {
	if err == nil {
		return nil
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		issues := make([]validationIssue, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			issues = append(issues, validationIssue{Field: fe.Field, Message: fe.Err.Error()})
		}
		return issues
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var issues []validationIssue
		for _, e := range joined.Unwrap() {
			issues = append(issues, issuesOf(e)...)
		}
		return issues
	}

	return []validationIssue{{Message: err.Error()}}
}
