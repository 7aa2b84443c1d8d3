package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// EventStore is the repository for the immutable event corpus. Events are
// only ever created or textually rewritten, never deleted.
type EventStore struct {
	docs docstore.Store
}

// NewEventStore creates an event repository persisting through docs.
func NewEventStore(docs docstore.Store) *EventStore {
	return &EventStore{docs: docs}
}

// Save persists a new event.
func (s *EventStore) Save(ctx context.Context, event *common.Event) error {
	batch := s.docs.NewBatch()
	batch.Create(docstore.CollectionEvents, event.ID, event)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

// Get returns a single event by id.
func (s *EventStore) Get(ctx context.Context, id string) (*common.Event, error) {
	doc, err := s.docs.GetByID(ctx, docstore.CollectionEvents, id)
	if err != nil {
		return nil, err
	}
	var event common.Event
	if err := json.Unmarshal(doc.Data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return &event, nil
}

// List returns the full event corpus ordered by event id.
func (s *EventStore) List(ctx context.Context) ([]common.Event, error) {
	docs, err := s.docs.List(ctx, docstore.CollectionEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]common.Event, 0, len(docs))
	for _, doc := range docs {
		var event common.Event
		if err := json.Unmarshal(doc.Data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", doc.ID, err)
		}
		events = append(events, event)
	}
	return events, nil
}
