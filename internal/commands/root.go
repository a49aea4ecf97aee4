package commands

import (
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/urfave/cli/v3"
)

const rootDescription = `Taskwatch rings an alarm for each of an owner's daily tasks at its time of
day and keeps ringing until the task is marked done. A linked supervisor is
notified of each completion and confirms or rejects it.

Run 'taskwatch serve' to start the alarm engine and HTTP API. The other
commands work on the same data directory and reach the server when they
need a live session.`

// NewRoot builds the taskwatch command tree with its global flags bound to
// flags. Callers attach Before and After hooks that populate app.
func NewRoot(flags *Flags, app *taskwatch.App) *cli.Command {
	root := &cli.Command{
		Name:        "taskwatch",
		Usage:       "Daily task alarms with supervisor confirmation",
		UsageText:   "taskwatch [global options] command [command options]",
		Description: rootDescription,
		Flags:       globalFlags(flags),
	}
	return RegisterAll(root, flags, app)
}

func globalFlags(flags *Flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error, fatal, panic)",
			Sources:     cli.EnvVars("TASKWATCH_LOG_LEVEL"),
			Value:       "info",
			Destination: &flags.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "path to log file (defaults to <data-dir>/taskwatch.log)",
			Sources:     cli.EnvVars("TASKWATCH_LOG_FILE"),
			Destination: &flags.LogFile,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to config file",
			Sources:     cli.EnvVars("TASKWATCH_CONFIG"),
			Value:       DefaultConfigPath(),
			Destination: &flags.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "path to data directory",
			Sources:     cli.EnvVars("TASKWATCH_DATA_DIR"),
			Value:       DefaultDataDir(),
			Destination: &flags.DataDir,
		},
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "owner (user id) the command acts on",
			Sources:     cli.EnvVars("TASKWATCH_OWNER"),
			Destination: &flags.Owner,
		},
		&cli.StringFlag{
			Name:        "server",
			Usage:       "address of a running 'taskwatch serve' (defaults to server.addr)",
			Sources:     cli.EnvVars("TASKWATCH_SERVER"),
			Destination: &flags.Server,
		},
	}
}

// RegisterAll adds every taskwatch subcommand to root.
func RegisterAll(root *cli.Command, flags *Flags, app *taskwatch.App) *cli.Command {
	for _, r := range []interface {
		Register(*cli.Command) *cli.Command
	}{
		NewServeCmd(flags, app),
		NewTaskCmd(flags, app),
		NewReviewCmd(flags, app),
		NewLinkCmd(flags, app),
		NewAlarmCmd(flags, app),
		NewNotifyCmd(flags, app),
		NewSessionCmd(flags),
		NewConfigValidateCmd(flags),
		NewDoctorCmd(flags, app),
	} {
		root = r.Register(root)
	}
	return root
}
