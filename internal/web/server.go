// Package web serves the taskwatch HTTP API.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server is the taskwatch API server.
type Server struct {
	app    *taskwatch.App
	router *gin.Engine
	idem   *kv.TypedKV[cachedResponse]
	ttl    time.Duration
	log    zerolog.Logger
}

// NewServer builds the router for app.
func NewServer(app *taskwatch.App, log zerolog.Logger) *Server {
	router := gin.New()

	s := &Server{
		app:    app,
		router: router,
		idem:   kv.Scoped[cachedResponse](app.KV, "idempotency"),
		ttl:    app.Config.API.IdempotencyTTL,
		log:    log.With().Str("component", "web").Logger(),
	}

	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1")
	api.Use(s.idempotency())
	{
		owner := api.Group("/owners/:owner")

		owner.GET("/session", s.handleSessionStatus)
		owner.PUT("/session", s.handleSessionStart)
		owner.DELETE("/session", s.handleSessionStop)

		owner.GET("/tasks", s.handleListTasks)
		owner.POST("/tasks", s.handleCreateTask)
		owner.GET("/tasks/:task", s.handleGetTask)
		owner.DELETE("/tasks/:task", s.handleDeleteTask)
		owner.POST("/tasks/:task/done", s.handleMarkDone)
		owner.POST("/tasks/:task/snooze", s.handleSnooze)
		owner.POST("/tasks/:task/review", s.handleReview)

		owner.GET("/alarms", s.handleListAlarms)
		owner.GET("/alarms/active", s.handleActiveAlarms)
		owner.GET("/alarm-events", s.handleAlarmEvents)

		owner.GET("/supervisor", s.handleGetSupervisor)
		owner.PUT("/supervisor", s.handleLink)
		owner.DELETE("/supervisor", s.handleUnlink)

		owner.GET("/notifications", s.handleListNotifications)
		owner.POST("/notifications/flush", s.handleFlush)

		owner.GET("/stream", s.handleStream)

		api.GET("/supervisors/:supervisor/owners", s.handleLinkedOwners)
	}

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when ctx does, so Shutdown is not held open by them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info().Msg("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
