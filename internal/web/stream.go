package web

import (
	"io"
	"time"

	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/gin-gonic/gin"
)

const streamHeartbeat = 15 * time.Second

// handleStream sends the owner's tasks and alarms as server-sent events.
// Each event carries the full current value; the first of each kind is sent
// immediately.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := c.Param("owner")

	tasks, err := s.app.Store.Subscribe(ctx, remote.TasksPath(ownerID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	alarms, err := s.app.Store.Subscribe(ctx, remote.AlarmsPath(ownerID))
	if err != nil {
		s.writeError(c, err)
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-tasks:
			if !ok {
				return false
			}
			c.SSEvent("tasks", frameOf(snap))
		case snap, ok := <-alarms:
			if !ok {
				return false
			}
			c.SSEvent("alarms", frameOf(snap))
		case t := <-heartbeat.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
		}
		return true
	})
}

func frameOf(snap remote.Snapshot) StreamFrame {
	return StreamFrame{Revision: snap.Revision, Exists: snap.Exists, Value: snap.Value}
}
