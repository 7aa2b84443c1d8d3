package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civigraph/atlas/internal/util"
)

// CrossReference is one co-occurrence row: another name appearing in events
// shared with the queried entity, how often, through which actions, and when
// the two last interacted.
type CrossReference struct {
	Name     string    `json:"name"`
	Count    int       `json:"count"`
	Actions  []string  `json:"actions"`
	LastSeen time.Time `json:"last_seen"`
}

// CrossReferences computes the top-k co-occurring names for the entity with
// the given id. The entity counts as appearing in an event when its name or
// any alias is one of the event's actor or target names; every other name in
// those events is tallied. Results are ordered by descending count, ties by
// name.
func (g *Engine) CrossReferences(ctx context.Context, entityID string, k int) ([]CrossReference, error) {
	entity := g.entities.ByID(entityID)
	if entity == nil {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	if k <= 0 {
		k = 10
	}

	if cached, ok := g.crossRefs.Get(entity.Name, k); ok {
		return cached, nil
	}

	events, err := g.events.List(ctx)
	if err != nil {
		return nil, err
	}

	own := make(map[string]bool)
	for _, name := range entity.AllNames() {
		own[strings.ToLower(util.NormalizeName(name))] = true
	}

	type tally struct {
		name     string
		count    int
		actions  map[string]bool
		lastSeen time.Time
	}
	tallies := make(map[string]*tally)
	involved := map[string]bool{strings.ToLower(entity.Name): true}

	for i := range events {
		event := &events[i]

		names := util.SplitNameList(event.Actor)
		names = append(names, util.SplitNameList(event.Target)...)

		appears := false
		for _, name := range names {
			if own[strings.ToLower(util.NormalizeName(name))] {
				appears = true
				break
			}
		}
		if !appears {
			continue
		}

		for _, location := range event.Locations {
			names = append(names, util.SplitNameList(location)...)
		}

		seen := make(map[string]bool)
		for _, name := range names {
			key := strings.ToLower(util.NormalizeName(name))
			if own[key] || seen[key] {
				continue
			}
			seen[key] = true
			involved[key] = true

			entry, ok := tallies[key]
			if !ok {
				entry = &tally{name: name, actions: make(map[string]bool)}
				tallies[key] = entry
			}
			entry.count++
			entry.actions[event.Action] = true
			if event.DateReceived.After(entry.lastSeen) {
				entry.lastSeen = event.DateReceived
			}
		}
	}

	refs := make([]CrossReference, 0, len(tallies))
	for _, entry := range tallies {
		actions := make([]string, 0, len(entry.actions))
		for action := range entry.actions {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		refs = append(refs, CrossReference{
			Name:     entry.name,
			Count:    entry.count,
			Actions:  actions,
			LastSeen: entry.lastSeen,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Count != refs[j].Count {
			return refs[i].Count > refs[j].Count
		}
		return refs[i].Name < refs[j].Name
	})
	if len(refs) > k {
		refs = refs[:k]
	}

	g.crossRefs.Put(entity.Name, k, refs, involved)
	return refs, nil
}

// crossRefCache caches cross-reference results keyed by (entity name, k).
// Each entry remembers every name involved in its computation so that an
// ingestion or merge touching any of those names drops exactly the stale
// entries.
type crossRefCache struct {
	mu      sync.Mutex
	entries map[string]*crossRefEntry
}

type crossRefEntry struct {
	refs     []CrossReference
	involved map[string]bool
}

func newCrossRefCache() *crossRefCache {
	return &crossRefCache{entries: make(map[string]*crossRefEntry)}
}

func crossRefKey(entityName string, k int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(entityName), k)
}

func (c *crossRefCache) Get(entityName string, k int) ([]CrossReference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[crossRefKey(entityName, k)]
	if !ok {
		return nil, false
	}
	return entry.refs, true
}

func (c *crossRefCache) Put(entityName string, k int, refs []CrossReference, involved map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[crossRefKey(entityName, k)] = &crossRefEntry{refs: refs, involved: involved}
}

// InvalidateNames drops every entry whose computation involved any of the
// given names.
func (c *crossRefCache) InvalidateNames(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		for _, name := range names {
			if entry.involved[strings.ToLower(util.NormalizeName(name))] {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Clear drops the whole cache. Merges and recomputation clear rather than
// invalidate because a rewrite can change names the cache has never seen.
func (c *crossRefCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*crossRefEntry)
}
