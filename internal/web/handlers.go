package web

import (
	"fmt"
	"net/http"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"owners": s.app.Engine.Owners(),
	}
	if s.app.Bus != nil {
		body["events"] = s.app.Bus.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// Sessions

func (s *Server) sessionStatus(ownerID string) SessionStatus {
	st := SessionStatus{OwnerID: ownerID}
	sess, ok := s.app.Engine.Session(ownerID)
	if !ok {
		return st
	}
	r := sess.Reconciler()
	st.Running = true
	st.Revision = r.Revision()
	st.Passes = sess.Passes()
	st.Alarms = r.Alarms()
	return st
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionStatus(c.Param("owner")))
}

func (s *Server) handleSessionStart(c *gin.Context) {
	ownerID := c.Param("owner")
	if _, err := s.app.Engine.Start(ownerID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionStatus(ownerID))
}

func (s *Server) handleSessionStop(c *gin.Context) {
	ownerID := c.Param("owner")
	s.app.Engine.Stop(c.Request.Context(), ownerID)
	c.JSON(http.StatusOK, s.sessionStatus(ownerID))
}

// Tasks

func (s *Server) handleListTasks(c *gin.Context) {
	status := task.Status(c.Query("status"))
	if status != "" && !status.IsValid() {
		s.badRequest(c, fmt.Errorf("invalid status %q", status))
		return
	}

	tasks, err := s.app.Tasks.ListTasks(c.Request.Context(), c.Param("owner"), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var in taskwatch.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}

	t, err := s.app.Tasks.CreateTask(c.Request.Context(), c.Param("owner"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.app.Tasks.GetTask(c.Request.Context(), c.Param("owner"), c.Param("task"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.app.Tasks.DeleteTask(c.Request.Context(), c.Param("owner"), c.Param("task")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMarkDone(c *gin.Context) {
	t, err := s.app.Confirmations.MarkDone(c.Request.Context(), c.Param("owner"), c.Param("task"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleSnooze(c *gin.Context) {
	var req SnoozeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	res, err := s.app.Confirmations.Snooze(c.Request.Context(), c.Param("owner"), c.Param("task"), req.Minutes)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReview(c *gin.Context) {
	var rv taskwatch.Review
	if err := c.ShouldBindJSON(&rv); err != nil {
		s.badRequest(c, err)
		return
	}

	t, err := s.app.Confirmations.ReviewCompletion(c.Request.Context(), c.Param("owner"), c.Param("task"), rv)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Alarms

func (s *Server) handleListAlarms(c *gin.Context) {
	alarms, err := s.app.Tasks.ListAlarms(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alarms)
}

func (s *Server) handleActiveAlarms(c *gin.Context) {
	sess, ok := s.app.Engine.Session(c.Param("owner"))
	if !ok {
		s.writeError(c, taskwatch.ErrSessionNotRunning)
		return
	}
	c.JSON(http.StatusOK, sess.Reconciler().Alarms())
}

func (s *Server) handleAlarmEvents(c *gin.Context) {
	events, err := s.app.Tasks.ListAlarmEvents(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Supervisor links

func (s *Server) handleGetSupervisor(c *gin.Context) {
	l, err := s.app.Links.Supervisor(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleLink(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	l, err := s.app.Links.Link(c.Request.Context(), c.Param("owner"), req.SupervisorID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleUnlink(c *gin.Context) {
	if err := s.app.Links.Unlink(c.Request.Context(), c.Param("owner")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLinkedOwners(c *gin.Context) {
	supervisorID := c.Param("supervisor")
	owners, err := s.app.Links.LinkedOwners(c.Request.Context(), supervisorID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, LinkedOwners{SupervisorID: supervisorID, Owners: owners})
}

// Notifications

func (s *Server) handleListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := c.Param("owner")

	var (
		records []notify.Record
		err     error
	)
	if c.Query("pending") == "true" {
		records, err = s.app.Notifier.Pending(ctx, ownerID)
	} else {
		records, err = s.app.Notifier.List(ctx, notify.Filter{
			OwnerID:     ownerID,
			RecipientID: c.Query("recipient"),
			Status:      notify.Status(c.Query("status")),
		})
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	if records == nil {
		records = []notify.Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleFlush(c *gin.Context) {
	n, err := s.app.Notifier.FlushQueued(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FlushResponse{Delivered: n})
}
