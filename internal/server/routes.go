package server

import (
	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Entity routes
	apiRoutes.GET("/entities", routes.GetEntitiesHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.GET("/entities/:id/crossref", routes.GetEntityCrossRefHandler, middleware.RequirePermission("graph.view"))

	// Event routes
	apiRoutes.GET("/events", routes.GetEventsHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.GET("/events/:id", routes.GetEventHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.POST("/events", routes.PostEventHandler, middleware.RequirePermission("event.create"))

	// Import routes
	apiRoutes.GET("/imports", routes.GetImportsHandler, middleware.RequirePermission("import.list"))
	apiRoutes.POST("/imports", routes.PostImportHandler, middleware.RequirePermission("import.create"))

	// Merge routes
	apiRoutes.POST("/merges", routes.PostMergeHandler, middleware.RequirePermission("entity.merge"))
	apiRoutes.POST("/reconcile", routes.PostReconcileHandler, middleware.RequirePermission("entity.reconcile"))
}
