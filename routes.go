// voxmail/routes.go

package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// registerRoutes sets up all the routes for the application.
func registerRoutes(e *echo.Echo, app *App) {
	e.GET("/api/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")

	// Retrieval surface.
	api.POST("/search", app.searchHandler)
	api.POST("/aggregate", app.aggregateHandler)
	api.POST("/count", app.countHandler)
	api.POST("/analyze", app.analyzeHandler)

	// Ingestion dispatch.
	api.POST("/sync/backfill", app.backfillHandler)
	api.POST("/sync/delta", app.deltaHandler)
	api.POST("/webhooks/mail", app.webhookHandler)

	// Tenant administration.
	api.GET("/user/jobs", app.listJobsHandler)
	api.GET("/user/sync-progress/:jobId", app.syncProgressHandler)
	api.DELETE("/user", app.deleteUserHandler)

	// Agent access (text mode) and live dashboard state.
	api.POST("/agent/chat", app.agentChatHandler)
	api.GET("/agent/graph", app.agentGraphHandler)
	api.GET("/agent/scratchpad", app.agentScratchpadHandler)

	// Ephemeral realtime token mint.
	api.POST("/realtime/session", app.realtimeSessionHandler)
}
