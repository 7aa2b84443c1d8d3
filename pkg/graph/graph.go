// Package graph implements the entity-resolution engine: event ingestion
// with duplicate suppression, merge reconciliation, connection recomputation,
// and cross-reference analysis over the event corpus.
package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/enrich"
	"github.com/civigraph/atlas/pkg/store"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// Engine orchestrates every mutating operation on the graph. It assumes a
// single logical writer per entity-type collection; reads may run
// concurrently with each other but not with an in-flight merge on
// overlapping entities.
type Engine struct {
	entities *store.EntityStore
	events   *store.EventStore
	docs     docstore.Store
	enricher enrich.Enricher

	crossRefs  *crossRefCache
	maxRetries int
}

// NewEngineParams configures an Engine. Enricher may be nil, in which case
// new entities are created with only their bare name.
type NewEngineParams struct {
	Docs       docstore.Store
	Enricher   enrich.Enricher
	MaxRetries int
}

// NewEngine creates an engine on top of the given document store.
func NewEngine(params NewEngineParams) *Engine {
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Engine{
		entities:   store.NewEntityStore(params.Docs),
		events:     store.NewEventStore(params.Docs),
		docs:       params.Docs,
		enricher:   params.Enricher,
		crossRefs:  newCrossRefCache(),
		maxRetries: maxRetries,
	}
}

// Load hydrates the entity registry from persistence.
func (g *Engine) Load(ctx context.Context) error {
	if err := g.entities.Load(ctx); err != nil {
		return fmt.Errorf("failed to load entity registry: %w", err)
	}
	g.crossRefs.Clear()
	return nil
}

// Entities exposes the entity registry for read paths.
func (g *Engine) Entities() *store.EntityStore {
	return g.entities
}

// Events exposes the event repository for read paths.
func (g *Engine) Events() *store.EventStore {
	return g.events
}

func decodeEvent(doc docstore.Document) (*common.Event, error) {
	var event common.Event
	if err := json.Unmarshal(doc.Data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", doc.ID, err)
	}
	return &event, nil
}
