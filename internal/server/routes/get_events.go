package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/logger"
)

// GetEventsHandler lists the event corpus ordered by event id.
func GetEventsHandler(c echo.Context) error {
	type getEventsResponse struct {
		Message string         `json:"message"`
		Count   int            `json:"count"`
		Events  []common.Event `json:"events"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	events, err := engine.Events().List(c.Request().Context())
	if err != nil {
		logger.Error("Failed to list events", "err", err)
		return c.JSON(http.StatusInternalServerError, getEventsResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, getEventsResponse{Message: "OK", Count: len(events), Events: events})
}

// GetEventHandler returns a single event by id.
func GetEventHandler(c echo.Context) error {
	type getEventResponse struct {
		Message string        `json:"message"`
		Event   *common.Event `json:"event,omitempty"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	event, err := engine.Events().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, getEventResponse{Message: "Event not found"})
	}

	return c.JSON(http.StatusOK, getEventResponse{Message: "OK", Event: event})
}
