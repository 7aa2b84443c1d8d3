package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/civigraph/atlas/internal/queue"
	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/logger"
)

// PostReconcileHandler enqueues a duplicate reconciliation pass. The worker
// runs it under the per-type merge locks; an optional entity_type narrows
// the pass.
func PostReconcileHandler(c echo.Context) error {
	type postReconcileBody struct {
		EntityType string `json:"entity_type"`
	}

	type postReconcileResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	data := new(postReconcileBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, postReconcileResponse{Message: "Invalid request body"})
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postReconcileResponse{Message: "Internal server error"})
	}

	msg := queue.ReconcileMsg{
		Message:       "Reconcile requested",
		EntityType:    data.EntityType,
		CorrelationID: correlationID,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postReconcileResponse{Message: "Internal server error"})
	}

	app := c.(*middleware.AppContext).App
	if err := queue.PublishFIFO(app.Queue, queue.ReconcileQueue, msgBytes); err != nil {
		logger.Error("Failed to enqueue reconciliation", "err", err)
		return c.JSON(http.StatusInternalServerError, postReconcileResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, postReconcileResponse{
		Message:       "Reconciliation enqueued",
		CorrelationID: correlationID,
	})
}
