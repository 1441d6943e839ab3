package adminapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/jroosing/nsmesh/internal/adminapi/docs"
)

// registerRoutes wires the admin API's read-only surface: health,
// status, roster, a swagger UI, and a placeholder landing page. Every
// handler only ever reads engine.Engine.Snapshot() and the immutable
// engine.Engine.Self(); none of them can mutate the running node.
func registerRoutes(r *gin.Engine, h *Handler, logger *slog.Logger) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/status", h.Status)
	api.GET("/roster", h.Roster)

	mountStatic(r, logger)
}
