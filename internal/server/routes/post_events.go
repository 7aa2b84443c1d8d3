package routes

import (
	"errors"
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/graph"
	"github.com/civigraph/atlas/pkg/logger"
)

// PostEventHandler ingests a single event. A duplicate of an already stored
// event is reported as suppressed rather than failing the request.
func PostEventHandler(c echo.Context) error {
	type postEventBody struct {
		Actor        string    `json:"actor" validate:"required"`
		Action       string    `json:"action" validate:"required"`
		Target       string    `json:"target"`
		Locations    []string  `json:"locations"`
		Sentence     string    `json:"sentence"`
		DateReceived time.Time `json:"date_received" validate:"required"`
	}

	type postEventResponse struct {
		Message    string        `json:"message"`
		Suppressed bool          `json:"suppressed"`
		Event      *common.Event `json:"event,omitempty"`
	}

	data := new(postEventBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, postEventResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, postEventResponse{Message: "Invalid request body"})
	}

	engine := c.(*middleware.AppContext).App.Engine

	event, err := engine.Ingest(c.Request().Context(), graph.IncomingEvent{
		Actor:        data.Actor,
		Action:       data.Action,
		Target:       data.Target,
		Locations:    data.Locations,
		Sentence:     data.Sentence,
		DateReceived: data.DateReceived,
	})
	if err != nil {
		if errors.Is(err, graph.ErrInvalidEvent) {
			return c.JSON(http.StatusBadRequest, postEventResponse{Message: err.Error()})
		}
		logger.Error("Failed to ingest event", "err", err)
		return c.JSON(http.StatusInternalServerError, postEventResponse{Message: "Internal server error"})
	}

	if event == nil {
		return c.JSON(http.StatusOK, postEventResponse{Message: "Duplicate event suppressed", Suppressed: true})
	}
	return c.JSON(http.StatusCreated, postEventResponse{Message: "Event ingested", Event: event})
}
