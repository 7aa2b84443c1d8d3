package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/graph"
	"github.com/civigraph/atlas/pkg/leaselock"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// PostMergeHandler merges one entity into another. The merge runs under the
// per-type lock so it never interleaves with a reconciliation pass touching
// the same pool.
func PostMergeHandler(c echo.Context) error {
	type postMergeBody struct {
		KeeperID string `json:"keeper_id" validate:"required"`
		LoserID  string `json:"loser_id" validate:"required"`
	}

	type postMergeResponse struct {
		Message string             `json:"message"`
		Report  *graph.MergeReport `json:"report,omitempty"`
	}

	data := new(postMergeBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, postMergeResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, postMergeResponse{Message: "Invalid request body"})
	}
	if data.KeeperID == data.LoserID {
		return c.JSON(http.StatusBadRequest, postMergeResponse{Message: "Keeper and loser must differ"})
	}

	app := c.(*middleware.AppContext).App
	engine := app.Engine

	keeper := engine.Entities().ByID(data.KeeperID)
	if keeper == nil {
		return c.JSON(http.StatusNotFound, postMergeResponse{Message: "Keeper not found: " + data.KeeperID})
	}

	var report *graph.MergeReport
	merge := func(ctx context.Context) error {
		var err error
		report, err = engine.MergeEntities(ctx, data.KeeperID, data.LoserID)
		return err
	}

	var err error
	if app.Locker != nil {
		err = app.Locker.WithLease(c.Request().Context(), leaselock.MergeKey(keeper.Type), leaselock.Options{
			TTL:  2 * time.Minute,
			Wait: true,
		}, merge)
	} else {
		err = merge(c.Request().Context())
	}
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return c.JSON(http.StatusNotFound, postMergeResponse{Message: err.Error()})
		}
		logger.Error("Failed to merge entities", "keeper", data.KeeperID, "loser", data.LoserID, "err", err)
		return c.JSON(http.StatusInternalServerError, postMergeResponse{Message: "Merge failed, no changes applied"})
	}

	return c.JSON(http.StatusOK, postMergeResponse{Message: "Entities merged", Report: report})
}
