package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// MergeReport summarizes what one reconciliation or merge call changed.
type MergeReport struct {
	Merges          int      `json:"merges"`
	RemovedEntities int      `json:"removed_entities"`
	RewrittenEvents int      `json:"rewritten_events"`
	Keepers         []string `json:"keepers,omitempty"`
}

// DuplicateGroups scans one entity type for groups sharing a non-empty
// external identifier. Each group with more than one member is returned
// oldest-first, ties broken by entity id for a stable keeper choice.
func (g *Engine) DuplicateGroups(entityType common.EntityType) []common.DuplicateGroup {
	byExternalID := make(map[string][]*common.Entity)
	var order []string
	for _, entity := range g.entities.Entities(entityType) {
		if entity.ExternalID == "" {
			continue
		}
		if _, ok := byExternalID[entity.ExternalID]; !ok {
			order = append(order, entity.ExternalID)
		}
		byExternalID[entity.ExternalID] = append(byExternalID[entity.ExternalID], entity)
	}

	var groups []common.DuplicateGroup
	for _, externalID := range order {
		members := byExternalID[externalID]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].ID < members[j].ID
		})

		group := common.DuplicateGroup{ExternalID: externalID}
		for _, member := range members {
			group.Entities = append(group.Entities, *member)
		}
		groups = append(groups, group)
	}
	return groups
}

// ReconcileDuplicates folds together, per entity type, every group of
// entities sharing an external identifier. The earliest-created member of
// each group survives. Running it twice with no new data is a no-op the
// second time. Connections are recomputed once at the end when anything
// merged.
func (g *Engine) ReconcileDuplicates(ctx context.Context) (*MergeReport, error) {
	report := &MergeReport{}

	for _, entityType := range common.EntityTypes() {
		if err := g.reconcileType(ctx, entityType, report); err != nil {
			return report, err
		}
	}

	if report.Merges > 0 {
		if err := g.RecomputeConnections(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ReconcileType reconciles a single entity type, recomputing connections
// when anything merged. Callers holding a per-type merge lock use this
// instead of ReconcileDuplicates.
func (g *Engine) ReconcileType(ctx context.Context, entityType common.EntityType) (*MergeReport, error) {
	report := &MergeReport{}
	if err := g.reconcileType(ctx, entityType, report); err != nil {
		return report, err
	}
	if report.Merges > 0 {
		if err := g.RecomputeConnections(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (g *Engine) reconcileType(ctx context.Context, entityType common.EntityType, report *MergeReport) error {
	for _, group := range g.DuplicateGroups(entityType) {
		keeperID := group.Entities[0].ID
		loserIDs := make([]string, 0, len(group.Entities)-1)
		for _, loser := range group.Entities[1:] {
			loserIDs = append(loserIDs, loser.ID)
		}

		rewritten, err := g.mergePrimitive(ctx, keeperID, loserIDs)
		if err != nil {
			return fmt.Errorf("failed to reconcile external id %s: %w", group.ExternalID, err)
		}

		report.Merges++
		report.RemovedEntities += len(loserIDs)
		report.RewrittenEvents += rewritten
		report.Keepers = append(report.Keepers, keeperID)
	}
	return nil
}

// MergeEntities merges one loser into one keeper, both given by id. The
// merge aborts before any write when either side is unknown, reporting which
// identifier was missing. Connections are recomputed afterwards.
func (g *Engine) MergeEntities(ctx context.Context, keeperID, loserID string) (*MergeReport, error) {
	if keeperID == loserID {
		return nil, fmt.Errorf("entity %s cannot be merged into itself", keeperID)
	}

	rewritten, err := g.mergePrimitive(ctx, keeperID, []string{loserID})
	if err != nil {
		return nil, err
	}
	if err := g.RecomputeConnections(ctx); err != nil {
		return nil, err
	}

	return &MergeReport{
		Merges:          1,
		RemovedEntities: 1,
		RewrittenEvents: rewritten,
		Keepers:         []string{keeperID},
	}, nil
}

// mergePrimitive performs one keeper/losers merge as a single atomic batch:
// the updated keeper, every rewritten event, and the loser deletions either
// all commit or none do. The in-memory registry is only touched after the
// commit succeeds. Returns the number of rewritten events.
func (g *Engine) mergePrimitive(ctx context.Context, keeperID string, loserIDs []string) (int, error) {
	keeperSrc := g.entities.ByID(keeperID)
	if keeperSrc == nil {
		return 0, fmt.Errorf("keeper %s: %w", keeperID, docstore.ErrNotFound)
	}
	losers := make([]*common.Entity, 0, len(loserIDs))
	for _, id := range loserIDs {
		loser := g.entities.ByID(id)
		if loser == nil {
			return 0, fmt.Errorf("loser %s: %w", id, docstore.ErrNotFound)
		}
		losers = append(losers, loser)
	}

	keeper := *keeperSrc
	keeper.Aliases = append([]string(nil), keeperSrc.Aliases...)
	keeper.Connections = append([]common.Connection(nil), keeperSrc.Connections...)

	// Alias union keeps every name a loser was ever known by searchable.
	// Connection carry-forward is best effort; the recompute that follows
	// every merge is the source of truth.
	for _, loser := range losers {
		keeper.AddAlias(loser.Name)
		for _, alias := range loser.Aliases {
			keeper.AddAlias(alias)
		}
		keeper.Connections = append(keeper.Connections, loser.Connections...)
	}
	keeper.ConnectionCount = len(keeper.Connections)

	events, err := g.events.List(ctx)
	if err != nil {
		return 0, err
	}

	batch := g.docs.NewBatch()
	rewrittenCount := 0
	for i := range events {
		event := &events[i]
		current := event
		changed := false
		for _, loser := range losers {
			if loser.Name == keeper.Name {
				continue
			}
			next, did := RewriteEventReferences(current, loser.Name, keeper.Name)
			if did {
				current = &next
				changed = true
			}
		}
		if changed {
			batch.Update(docstore.CollectionEvents, current.ID, current)
			rewrittenCount++
		}
	}

	batch.Update(docstore.CollectionEntities, keeper.ID, &keeper)
	for _, loser := range losers {
		batch.Delete(docstore.CollectionEntities, loser.ID)
	}

	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("merge into %s failed, no changes applied: %w", keeper.ID, err)
	}

	g.entities.Put(&keeper)
	for _, loser := range losers {
		g.entities.Detach(loser.ID)
	}
	g.entities.Invalidate(keeper.ID)
	g.crossRefs.Clear()

	logger.Info("merged entities",
		"keeper", keeper.Name,
		"losers", len(losers),
		"rewritten_events", rewrittenCount)
	return rewrittenCount, nil
}
