package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/colonyops/taskwatch/internal/commands"
	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/logging"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/colonyops/taskwatch/internal/data/stores"
	"github.com/colonyops/taskwatch/internal/integration/desktop"
	"github.com/colonyops/taskwatch/internal/integration/timer"
	"github.com/colonyops/taskwatch/internal/printer"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/executil"
	"github.com/colonyops/taskwatch/pkg/logutils"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

// build returns the release version and the full version string shown by
// --version.
func build() (string, string) {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return v, fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser   func()
		twApp       = &taskwatch.App{}
		database    *db.DB
		scheduler   *timer.Scheduler
		looping     *notify.Looping
		schedCancel context.CancelFunc
	)

	release, full := build()
	flags := &commands.Flags{Version: release}

	app := commands.NewRoot(flags, twApp)
	app.Version = full
	app.Before = func(ctx context.Context, c *cli.Command) (context.Context, error) {
		// Always log to a file; use explicit path or default to <datadir>/taskwatch.log
		logFile := flags.LogFile
		if logFile == "" {
			logFile = filepath.Join(flags.DataDir, "taskwatch.log")
		}

		logger, closer, err := logutils.Open(logutils.Options{Level: flags.LogLevel, File: logFile})
		if err != nil {
			return ctx, fmt.Errorf("setup logger: %w", err)
		}
		log.Logger = logging.Install(logger)
		logCloser = closer

		cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
		if err != nil {
			return ctx, fmt.Errorf("load config: %w", err)
		}
		flags.Config = cfg

		dbOpts := db.OpenOptions{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			BusyTimeout:  cfg.Database.BusyTimeout,
		}
		database, err = db.Open(cfg.DataDir, dbOpts)
		if stores.IsCorruptionError(err) {
			backup, rerr := stores.RecoverFromCorruption(cfg.DataDir, time.Now())
			if rerr != nil {
				return ctx, fmt.Errorf("recover database: %w", rerr)
			}
			log.Warn().Err(err).Str("backup", backup).Msg("database was corrupt, starting fresh")
			database, err = db.Open(cfg.DataDir, dbOpts)
		}
		if err != nil {
			return ctx, fmt.Errorf("open database: %w", err)
		}

		var (
			store  = stores.NewNodeStore(database, log.Logger, stores.WithPollInterval(cfg.Store.PollInterval))
			bus    = eventbus.New(256)
			links  = taskwatch.NewLinkService(store, log.Logger)
			device = desktop.New(&executil.RealExecutor{Timeout: cfg.Notifications.CommandTimeout}, desktop.Options{
				Enabled: cfg.Notifications.Desktop,
				Hooks:   cfg.Notifications.Hooks,
			}, log.Logger)
		)

		bus.Observe(eventbus.LogObserver(log.Logger))

		looping = notify.NewLooping(device, cfg.Alarms.LoopInterval, cfg.Alarms.LoopMaxRepeats, log.Logger)
		notifier := taskwatch.NewNotifier(
			stores.NewNotifyStore(database),
			notify.Fanout{taskwatch.NewInboxSink(store), looping},
			links,
			bus,
			log.Logger,
		)

		var schedCtx context.Context
		schedCtx, schedCancel = context.WithCancel(context.Background())
		scheduler = timer.New(schedCtx, log.Logger)

		engine := taskwatch.NewEngine(store, scheduler, notifier, bus, taskwatch.EngineOptions{
			ResyncInterval: cfg.Alarms.ResyncInterval,
		}, log.Logger)
		scheduler.OnFire(engine.HandleFire)

		// Populate the pre-allocated App struct (commands already hold a pointer to it)
		*twApp = *taskwatch.NewApp(
			taskwatch.NewTaskService(store, bus, log.Logger),
			links,
			notifier,
			engine,
			bus,
			stores.NewKVStore(database),
			cfg,
			database,
			log.Logger,
		)

		return printer.NewContext(ctx, printer.New(c.Root().Writer, c.Root().ErrWriter)), nil
	}
	app.After = func(ctx context.Context, c *cli.Command) error {
		if twApp.Engine != nil {
			twApp.Engine.StopAll(ctx)
		}
		if scheduler != nil {
			scheduler.Close()
		}
		if schedCancel != nil {
			schedCancel()
		}
		if looping != nil {
			looping.Close()
		}

		// Close database connection
		if database != nil {
			if err := database.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close database")
				return err
			}
		}

		// Close log file
		if logCloser != nil {
			logCloser()
		}
		return nil
	}

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
