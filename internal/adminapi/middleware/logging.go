// Package middleware provides Gin request-logging middleware for the
// admin API. The admin API is read-only, so there is no auth
// middleware alongside it.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDHeader is returned on every response so a caller can
// correlate it with the matching admin api request log line.
const requestIDHeader = "X-Request-Id"

// RequestID stamps every request with a short UUID
// (uuid.New().String()[:8]), logged alongside the request line below
// so concurrent requests can be told apart in the output.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()[:8]
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// SlogRequestLogger logs one line per request through logger.
func SlogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if logger != nil {
			logger.Info("admin api request",
				"request_id", c.GetString("request_id"),
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		}
	}
}
