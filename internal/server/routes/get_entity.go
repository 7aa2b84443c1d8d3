package routes

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/graph"
)

// GetEntityHandler returns a single entity with its connections.
func GetEntityHandler(c echo.Context) error {
	type getEntityResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	entity := engine.Entities().ByID(c.Param("id"))
	if entity == nil {
		return c.JSON(http.StatusNotFound, getEntityResponse{Message: "Entity not found"})
	}

	return c.JSON(http.StatusOK, getEntityResponse{Message: "OK", Entity: entity})
}

// GetEntityCrossRefHandler returns the top co-occurring names for an entity.
func GetEntityCrossRefHandler(c echo.Context) error {
	type getCrossRefResponse struct {
		Message         string                 `json:"message"`
		CrossReferences []graph.CrossReference `json:"cross_references,omitempty"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			return c.JSON(http.StatusBadRequest, getCrossRefResponse{Message: "limit must be between 1 and 100"})
		}
		limit = parsed
	}

	refs, err := engine.CrossReferences(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return c.JSON(http.StatusNotFound, getCrossRefResponse{Message: "Entity not found"})
	}

	return c.JSON(http.StatusOK, getCrossRefResponse{Message: "OK", CrossReferences: refs})
}
