package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/pkg/common"
)

// GetEntitiesHandler lists entities, optionally filtered by type or resolved
// by name. A name query uses the same matching as ingestion, so it finds
// entities by alias and minor textual variation.
func GetEntitiesHandler(c echo.Context) error {
	type getEntitiesResponse struct {
		Message  string          `json:"message"`
		Count    int             `json:"count"`
		Entities []common.Entity `json:"entities"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	if name := c.QueryParam("name"); name != "" {
		var match *common.Entity
		if rawType := c.QueryParam("type"); rawType != "" {
			match = engine.Entities().LookupScoped(name, common.ParseEntityType(rawType))
		} else {
			match = engine.Entities().Lookup(name)
		}
		if match == nil {
			return c.JSON(http.StatusOK, getEntitiesResponse{Message: "No match", Entities: []common.Entity{}})
		}
		return c.JSON(http.StatusOK, getEntitiesResponse{
			Message:  "OK",
			Count:    1,
			Entities: []common.Entity{*match},
		})
	}

	var pool []*common.Entity
	if rawType := c.QueryParam("type"); rawType != "" {
		pool = engine.Entities().Entities(common.ParseEntityType(rawType))
	} else {
		pool = engine.Entities().All()
	}

	entities := make([]common.Entity, 0, len(pool))
	for _, entity := range pool {
		entities = append(entities, *entity)
	}

	return c.JSON(http.StatusOK, getEntitiesResponse{
		Message:  "OK",
		Count:    len(entities),
		Entities: entities,
	})
}
