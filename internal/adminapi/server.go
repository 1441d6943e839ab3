// Package adminapi is the read-only HTTP management surface: a Gin
// server exposing /api/v1/health, /api/v1/status and /api/v1/roster,
// plus a swagger UI and a static landing page.
//
// There is exactly one way to mutate node state — the interactive
// command stream — so the admin API carries no write-capable routes
// (config, filtering, custom DNS, zones); it only ever reads
// engine.Engine.Snapshot() and the immutable engine.Engine.Self().
package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/nsmesh/internal/adminapi/middleware"
	"github.com/jroosing/nsmesh/internal/engine"
	"github.com/jroosing/nsmesh/internal/status"
)

// Server wraps the admin API's http.Server lifecycle.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to host:port, reading eng/counters/startAt
// through a Handler that never mutates them.
func New(host string, port int, eng *engine.Engine, counters *status.Counters, startAt time.Time, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.SlogRequestLogger(logger))

	h := NewHandler(eng, counters, startAt)
	registerRoutes(r, h, logger)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: r, httpServer: httpServer}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// ListenAndServe runs the HTTP server until Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
