// Package enrich defines the external knowledge lookup consulted when a new
// entity is created. Enrichment is strictly best-effort: every failure is
// absorbed by the caller and the entity proceeds with only its bare name.
package enrich

import (
	"context"

	"github.com/civigraph/atlas/pkg/common"
)

// Candidate is a search hit from the external knowledge source. Its ID is the
// source's stable identifier and doubles as the entity's external identifier
// when the candidate is accepted.
type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Details carries the descriptive attributes of a knowledge-source record.
type Details struct {
	Description string            `json:"description"`
	Aliases     []string          `json:"aliases,omitempty"`
	TypeHint    common.EntityType `json:"type_hint,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Enricher is the enrichment collaborator interface.
type Enricher interface {
	// Search returns candidate records for a name, best match first.
	// An empty list is a normal outcome.
	Search(ctx context.Context, name string) ([]Candidate, error)

	// FetchDetails resolves a candidate ID into its descriptive attributes.
	FetchDetails(ctx context.Context, candidateID string) (*Details, error)
}
