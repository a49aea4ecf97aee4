package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/urfave/cli/v3"
)

// suggestion is one shell completion candidate. Desc is shown by shells
// that support "value:description" output.
type suggestion struct {
	Value string
	Desc  string
}

// completer adapts list into a ShellCompleteFunc. Flags are completed by the
// default handler when the word being typed starts with "-". Lookup errors
// produce no suggestions.
func completer(list func(ctx context.Context) ([]suggestion, error)) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if args := cmd.Args(); args.Present() && strings.HasPrefix(args.Get(args.Len()-1), "-") {
			cli.DefaultCompleteWithFlags(ctx, cmd)
			return
		}

		items, err := list(ctx)
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, s := range items {
			if s.Desc == "" {
				_, _ = fmt.Fprintln(w, s.Value)
				continue
			}
			_, _ = fmt.Fprintf(w, "%s:%s\n", s.Value, strings.ReplaceAll(s.Desc, ":", `\:`))
		}
	}
}

// TaskIDCompleter suggests the current owner's task ids with their titles.
// An empty status suggests every task.
func TaskIDCompleter(flags *Flags, app *taskwatch.App, status task.Status) cli.ShellCompleteFunc {
	return completer(func(ctx context.Context) ([]suggestion, error) {
		owner, err := flags.owner()
		if err != nil || app.Tasks == nil {
			return nil, err
		}

		tasks, err := app.Tasks.ListTasks(ctx, owner, status)
		if err != nil {
			return nil, err
		}

		out := make([]suggestion, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, suggestion{Value: t.ID, Desc: t.Title})
		}
		return out, nil
	})
}

// SupervisorCompleter suggests the supervisors linked to the configured
// owners.
func SupervisorCompleter(flags *Flags, app *taskwatch.App) cli.ShellCompleteFunc {
	return completer(func(ctx context.Context) ([]suggestion, error) {
		if flags.Config == nil || app.Links == nil {
			return nil, nil
		}

		var ids []string
		for _, owner := range flags.Config.Owners {
			l, err := app.Links.Supervisor(ctx, owner)
			if err != nil {
				continue
			}
			ids = append(ids, l.SupervisorID)
		}
		slices.Sort(ids)

		var out []suggestion
		for _, id := range slices.Compact(ids) {
			out = append(out, suggestion{Value: id})
		}
		return out, nil
	})
}
