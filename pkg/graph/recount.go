package graph

import (
	"context"
	"fmt"

	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// RecomputeConnections rebuilds every entity's connections and connection
// count from the full event corpus. It is a deliberate full pass: after an
// arbitrary merge history only a ground-up rebuild is provably consistent,
// and the pass only runs after merges or on demand, never per event.
//
// All rebuilt entities are persisted through one atomic batch, so a failed
// commit leaves the previous counts intact.
func (g *Engine) RecomputeConnections(ctx context.Context) error {
	events, err := g.events.List(ctx)
	if err != nil {
		return err
	}

	// Work on copies so a failed commit never leaves half-reset entities in
	// the registry.
	rebuilt := make(map[string]*common.Entity)
	track := func(entity *common.Entity) *common.Entity {
		if clone, ok := rebuilt[entity.ID]; ok {
			return clone
		}
		clone := *entity
		clone.Connections = nil
		clone.ConnectionCount = 0
		rebuilt[entity.ID] = &clone
		return &clone
	}
	for _, entity := range g.entities.All() {
		track(entity)
	}

	for i := range events {
		event := &events[i]

		type resolved struct {
			entity *common.Entity
			role   common.ConnectionRole
		}
		var hits []resolved
		appendHits := func(names []string, role common.ConnectionRole) {
			for _, name := range names {
				entity := g.entities.ExactLookup(name)
				if entity == nil {
					continue
				}
				hits = append(hits, resolved{entity: track(entity), role: role})
			}
		}

		appendHits(util.SplitNameList(event.Actor), common.RoleActor)
		appendHits(util.SplitNameList(event.Target), common.RoleTarget)
		for _, location := range event.Locations {
			appendHits(util.SplitNameList(location), common.RoleLocation)
		}

		names := make([]string, 0, len(hits))
		for _, hit := range hits {
			names = append(names, hit.entity.Name)
		}
		for _, hit := range hits {
			related := make([]string, 0, len(names)-1)
			for _, name := range names {
				if name != hit.entity.Name {
					related = append(related, name)
				}
			}
			hit.entity.Connections = append(hit.entity.Connections, common.Connection{
				EventID:            event.ID,
				Role:               hit.role,
				Action:             event.Action,
				Timestamp:          event.DateReceived,
				RelatedEntityNames: related,
			})
			hit.entity.ConnectionCount = len(hit.entity.Connections)
		}
	}

	batch := g.docs.NewBatch()
	for _, entity := range rebuilt {
		batch.Update(docstore.CollectionEntities, entity.ID, entity)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to persist recomputed connections: %w", err)
	}

	for _, entity := range rebuilt {
		g.entities.Put(entity)
	}
	g.crossRefs.Clear()

	logger.Debug("recomputed connections", "entities", len(rebuilt), "events", len(events))
	return nil
}
