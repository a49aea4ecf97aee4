package web

import (
	"errors"
	"net/http"

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/core/validate"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/gin-gonic/gin"
	"github.com/hay-kot/criterio"
)

// Error codes carried in the "code" data field of error responses.
const (
	CodeValidation        = "validation"
	CodeIllegalTransition = "illegal_transition"
	CodeStaleEntity       = "stale_entity"
	CodeNotFound          = "not_found"
	CodeNotLinked         = "not_linked"
	CodeNoSupervisor      = "no_supervisor"
	CodeSessionNotRunning = "session_not_running"
	CodeNoActiveAlarm     = "no_active_alarm"
	CodeScheduling        = "scheduling_failure"
	CodeInternal          = "internal"
	CodeBadRequest        = "bad_request"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{validate.ErrValidation, http.StatusUnprocessableEntity, CodeValidation},
	{task.ErrIllegalTransition, http.StatusConflict, CodeIllegalTransition},
	{task.ErrStaleEntity, http.StatusConflict, CodeStaleEntity},
	{task.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{link.ErrNotLinked, http.StatusForbidden, CodeNotLinked},
	{link.ErrMissing, http.StatusNotFound, CodeNoSupervisor},
	{taskwatch.ErrSessionNotRunning, http.StatusConflict, CodeSessionNotRunning},
	{taskwatch.ErrNoActiveAlarm, http.StatusConflict, CodeNoActiveAlarm},
	{alarm.ErrSchedulingFailure, http.StatusServiceUnavailable, CodeScheduling},
}

// classify maps err to an HTTP status and error code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError renders err as an iojson.Error body. Stale entity errors tell
// the client to refresh its view before retrying.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)

	data := map[string]any{"code": code}
	if code == CodeStaleEntity {
		data["refresh"] = true
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field] = fe.Err.Error()
		}
		data["fields"] = fields
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Ctx(c.Request.Context()).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}

	c.AbortWithStatusJSON(status, iojson.Error{Message: msg, Data: data})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, iojson.Error{
		Message: err.Error(),
		Data:    map[string]any{"code": CodeBadRequest},
	})
}
