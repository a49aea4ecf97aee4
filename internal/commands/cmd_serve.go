package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/data/stores"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/internal/taskwatch/sweep"
	"github.com/colonyops/taskwatch/internal/taskwatch/updatecheck"
	"github.com/colonyops/taskwatch/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	flags *Flags
	app   *taskwatch.App

	// flags
	addr   string
	owners []string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags, app *taskwatch.App) *ServeCmd {
	return &ServeCmd{flags: flags, app: app}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the alarm engine and HTTP API",
		UsageText: "taskwatch serve [--addr host:port] [--watch owner]...",
		Description: `Starts the alarm engine and serves the HTTP API until interrupted.

Sessions are started for every owner listed under "owners" in the config and
for each --watch flag. Further sessions can be started through the API or
with 'taskwatch session start'.

Writes made by other taskwatch processes to the same data directory are
picked up through file events, with polling as a fallback.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (defaults to server.addr from config)",
				Destination: &cmd.addr,
			},
			&cli.StringSliceFlag{
				Name:        "watch",
				Aliases:     []string{"w"},
				Usage:       "owner to start a session for (repeatable)",
				Destination: &cmd.owners,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)
	cfg := cmd.app.Config

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cmd.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cmd.app.Bus.Start(gctx)
		return nil
	})

	if notifier, ok := cmd.app.Store.(remote.ChangeNotifier); ok {
		watcher := stores.NewChangeWatcher(cmd.app.DB.Path(), cfg.Store.Debounce, notifier.NotifyChanged, log.Logger)
		if watcher != nil {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if sweeper, ok := cmd.app.KV.(kv.Sweeper); ok {
		g.Go(func() error {
			return sweep.Run(gctx, sweeper, cfg.KV.SweepInterval, log.Logger)
		})
	}

	for _, owner := range append(append([]string{}, cfg.Owners...), cmd.owners...) {
		if _, err := cmd.app.Engine.Start(owner); err != nil {
			return fmt.Errorf("start session for %s: %w", owner, err)
		}
		p.Infof("watching %s", owner)
	}

	srv := web.NewServer(cmd.app, log.Logger)
	g.Go(func() error {
		return srv.Run(gctx, addr, cfg.Server.ShutdownTimeout)
	})

	p.Successf("listening on %s", addr)

	if cfg.Server.UpdateCheck {
		g.Go(func() error {
			checker := updatecheck.New(cmd.app.KV, "", log.Logger)
			if res := checker.Check(gctx, cmd.flags.Version); res != nil {
				p.Warnf("taskwatch %s is available (running %s)", res.Latest, res.Current)
			}
			return nil
		})
	}

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	cmd.app.Engine.StopAll(stopCtx)

	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	p.Infof("stopped")
	return nil
}
