// Package taskwatch wires the alarm engine and the services that act on
// tasks, links, and notifications.
package taskwatch

import (
	"github.com/colonyops/taskwatch/internal/core/config"
	"github.com/colonyops/taskwatch/internal/core/eventbus"
	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/rs/zerolog"
)

// App is the central entry point for all taskwatch operations.
// The HTTP API and the serve command consume App instead of cherry-picking
// raw dependencies.
type App struct {
	Tasks         *TaskService
	Confirmations *ConfirmationService
	Links         *LinkService
	Notifier      *Notifier
	Engine        *Engine
	Store         remote.Store

	Bus    *eventbus.EventBus
	KV     kv.KV
	Config *config.Config
	DB     *db.DB
}

// NewApp constructs an App from explicit dependencies.
func NewApp(
	tasks *TaskService,
	links *LinkService,
	notifier *Notifier,
	engine *Engine,
	bus *eventbus.EventBus,
	kvStore kv.KV,
	cfg *config.Config,
	database *db.DB,
	log zerolog.Logger,
) *App {
	return &App{
		Tasks: tasks,
		Confirmations: NewConfirmationService(
			engine.store,
			links,
			notifier,
			engine,
			bus,
			SnoozeLimits{
				DefaultMinutes: cfg.Alarms.SnoozeDefaultMinutes,
				MaxMinutes:     cfg.Alarms.SnoozeMaxMinutes,
			},
			log,
		),
		Links:    links,
		Notifier: notifier,
		Engine:   engine,
		Store:    engine.store,
		Bus:      bus,
		KV:       kvStore,
		Config:   cfg,
		DB:       database,
	}
}
