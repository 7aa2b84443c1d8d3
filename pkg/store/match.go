package store

import (
	"strings"

	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/common"
)

// MatchEntity finds the first entity in pool whose name or any alias equals,
// case-insensitively, one of the search variations of name. Variations are
// checked in the order produced so the original name takes priority over
// derived forms. A nil result is the normal no-match outcome, not an error.
func MatchEntity(name string, pool []*common.Entity) *common.Entity {
	variations := util.NameVariations(name)
	if len(variations) == 0 {
		return nil
	}

	for _, variation := range variations {
		for _, entity := range pool {
			if entity.HasAlias(variation) {
				return entity
			}
		}
	}
	return nil
}

// matchCacheKey builds the cache key for a lookup. Only successful matches
// are cached, so misses never go stale when entities are created later.
func matchCacheKey(name string, entityType common.EntityType) string {
	return strings.ToLower(util.NormalizeName(name)) + "|" + string(entityType)
}
