package web

import (
	"bytes"
	"net/http"
	"time"

	"github.com/colonyops/taskwatch/internal/core/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))

		c.Next()

		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Ctx(c.Request.Context()).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// cachedResponse is a stored mutation result replayed for a repeated
// Idempotency-Key.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(str string) (int, error) {
	w.body.WriteString(str)
	return w.ResponseWriter.WriteString(str)
}

// idempotency replays the stored response for a mutation retried with the
// same Idempotency-Key. Server errors are not stored so they can be retried.
func (s *Server) idempotency() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerIdempotencyKey)
		if key == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := c.Request.Method + " " + c.Request.URL.Path + " " + key

		cached, ok, err := s.idem.Lookup(ctx, cacheKey)
		if err != nil {
			s.log.Warn().Err(err).Ctx(ctx).Msg("idempotency lookup failed")
		}
		if ok {
			c.Header(headerReplayed, "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		resp := cachedResponse{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := s.idem.SetTTL(ctx, cacheKey, resp, s.ttl); err != nil {
			s.log.Warn().Err(err).Ctx(ctx).Msg("idempotency store failed")
		}
	}
}
