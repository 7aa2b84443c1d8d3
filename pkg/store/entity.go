// Package store holds the in-memory entity registry and the event repository,
// both backed by a document store. The registry is the pool every name lookup
// resolves against; it is partitioned by entity type because cross-type
// duplicates cannot occur.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// anyType marks a lookup that is not scoped to a single entity type.
const anyType common.EntityType = "*"

// EntityStore is the in-memory registry of canonical entities, partitioned by
// type and kept in sync with the document store. All mutating operations
// assume a single logical writer; concurrent reads are safe.
type EntityStore struct {
	docs docstore.Store

	mu         sync.RWMutex
	pools      map[common.EntityType][]*common.Entity
	byID       map[string]*common.Entity
	matchCache map[string]string
}

// NewEntityStore creates an empty registry persisting through docs.
func NewEntityStore(docs docstore.Store) *EntityStore {
	return &EntityStore{
		docs:       docs,
		pools:      make(map[common.EntityType][]*common.Entity),
		byID:       make(map[string]*common.Entity),
		matchCache: make(map[string]string),
	}
}

// Load hydrates the registry from the document store, replacing any local state.
func (s *EntityStore) Load(ctx context.Context) error {
	docs, err := s.docs.List(ctx, docstore.CollectionEntities)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools = make(map[common.EntityType][]*common.Entity)
	s.byID = make(map[string]*common.Entity)
	s.matchCache = make(map[string]string)

	for _, doc := range docs {
		var entity common.Entity
		if err := json.Unmarshal(doc.Data, &entity); err != nil {
			return fmt.Errorf("failed to decode entity %s: %w", doc.ID, err)
		}
		s.putLocked(&entity)
	}
	return nil
}

// Lookup resolves name against every pool via MatchEntity. Successful matches
// are cached; a nil result means no entity is known by that name.
func (s *EntityStore) Lookup(name string) *common.Entity {
	return s.lookup(name, anyType)
}

// LookupScoped resolves name against the pool of a single entity type.
func (s *EntityStore) LookupScoped(name string, entityType common.EntityType) *common.Entity {
	return s.lookup(name, entityType)
}

func (s *EntityStore) lookup(name string, entityType common.EntityType) *common.Entity {
	key := matchCacheKey(name, entityType)

	s.mu.RLock()
	if id, ok := s.matchCache[key]; ok {
		if entity, ok := s.byID[id]; ok {
			s.mu.RUnlock()
			return entity
		}
	}
	pool := s.poolLocked(entityType)
	s.mu.RUnlock()

	match := MatchEntity(name, pool)
	if match == nil {
		return nil
	}

	s.mu.Lock()
	s.matchCache[key] = match.ID
	s.mu.Unlock()
	return match
}

func (s *EntityStore) poolLocked(entityType common.EntityType) []*common.Entity {
	if entityType != anyType {
		pool := s.pools[entityType]
		out := make([]*common.Entity, len(pool))
		copy(out, pool)
		return out
	}

	pool := make([]*common.Entity, 0, len(s.byID))
	for _, t := range common.EntityTypes() {
		pool = append(pool, s.pools[t]...)
	}
	return pool
}

// ExactLookup resolves name by strict name-or-alias equality, without the
// search variations Lookup applies. Recomputation uses it because every name
// was already resolved once at ingestion time.
func (s *EntityStore) ExactLookup(name string) *common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range common.EntityTypes() {
		for _, entity := range s.pools[t] {
			if entity.HasAlias(name) {
				return entity
			}
		}
	}
	return nil
}

// LookupByExternalID returns every entity of the given type carrying the
// external identifier, in insertion order.
func (s *EntityStore) LookupByExternalID(entityType common.EntityType, externalID string) []*common.Entity {
	if externalID == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*common.Entity
	for _, entity := range s.pools[entityType] {
		if entity.ExternalID == externalID {
			matches = append(matches, entity)
		}
	}
	return matches
}

// ByID returns the entity with the given id or nil.
func (s *EntityStore) ByID(id string) *common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Entities returns the pool of one entity type in insertion order.
func (s *EntityStore) Entities(entityType common.EntityType) []*common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poolLocked(entityType)
}

// All returns every entity across all pools.
func (s *EntityStore) All() []*common.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poolLocked(anyType)
}

// Count reports the number of registered entities.
func (s *EntityStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Insert persists a new entity and adds it to the local registry.
func (s *EntityStore) Insert(ctx context.Context, entity *common.Entity) error {
	batch := s.docs.NewBatch()
	batch.Create(docstore.CollectionEntities, entity.ID, entity)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to insert entity %s: %w", entity.ID, err)
	}

	s.Put(entity)
	return nil
}

// Update persists an entity already present in the registry.
func (s *EntityStore) Update(ctx context.Context, entity *common.Entity) error {
	batch := s.docs.NewBatch()
	batch.Update(docstore.CollectionEntities, entity.ID, entity)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to update entity %s: %w", entity.ID, err)
	}

	s.Put(entity)
	return nil
}

// Remove deletes an entity from persistence and the registry. Subsequent
// lookups within the same session will not match the removed entity.
func (s *EntityStore) Remove(ctx context.Context, id string) error {
	batch := s.docs.NewBatch()
	batch.Delete(docstore.CollectionEntities, id)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to remove entity %s: %w", id, err)
	}

	s.Detach(id)
	return nil
}

// Put upserts an entity into the local registry without touching persistence.
// Callers that persist through their own atomic batch use Put and Detach to
// bring the registry in line after the batch commits.
func (s *EntityStore) Put(entity *common.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(entity)
}

func (s *EntityStore) putLocked(entity *common.Entity) {
	if existing, ok := s.byID[entity.ID]; ok {
		*existing = *entity
		return
	}
	s.byID[entity.ID] = entity
	s.pools[entity.Type] = append(s.pools[entity.Type], entity)
}

// Detach removes an entity from the local registry without touching
// persistence and drops every cached match that resolved to it.
func (s *EntityStore) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)

	pool := s.pools[entity.Type]
	for i, e := range pool {
		if e.ID == id {
			s.pools[entity.Type] = append(pool[:i], pool[i+1:]...)
			break
		}
	}

	for key, cachedID := range s.matchCache {
		if cachedID == id {
			delete(s.matchCache, key)
		}
	}
}

// Invalidate drops every cached match that resolved to the given entity.
// The merge engine calls this for each participant after a merge.
func (s *EntityStore) Invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cachedID := range s.matchCache {
		if cachedID == id {
			delete(s.matchCache, key)
		}
	}
}
