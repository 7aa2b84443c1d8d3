package graph

import (
	"context"
	"fmt"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// EventsDuplicate reports whether two events describe the same occurrence.
// Either the sentences are identical non-empty strings, or actor, action and
// target all match and both events were received on the same calendar day.
// The sentence rule is deliberately independent of the date so that
// re-imports of the same narrative text are caught even when they arrive
// days apart.
func EventsDuplicate(a, b *common.Event) bool {
	if a.Sentence != "" && a.Sentence == b.Sentence {
		return true
	}

	if a.Actor != b.Actor || a.Action != b.Action || a.Target != b.Target {
		return false
	}

	ay, am, ad := a.DateReceived.Date()
	by, bm, bd := b.DateReceived.Date()
	return ay == by && am == bm && ad == bd
}

// findDuplicate looks for a stored event duplicating candidate. The sentence
// rule is served by an indexed field query; the actor/action/target rule
// narrows on the actor field first and applies the remaining checks locally.
func (g *Engine) findDuplicate(ctx context.Context, candidate *common.Event) (*common.Event, error) {
	if candidate.Sentence != "" {
		docs, err := g.docs.QueryByField(ctx, docstore.CollectionEvents, "sentence", candidate.Sentence)
		if err != nil {
			return nil, fmt.Errorf("failed to query events by sentence: %w", err)
		}
		if match, err := firstDuplicate(docs, candidate); err != nil || match != nil {
			return match, err
		}
	}

	if candidate.Actor == "" {
		return nil, nil
	}
	docs, err := g.docs.QueryByField(ctx, docstore.CollectionEvents, "actor", candidate.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by actor: %w", err)
	}
	return firstDuplicate(docs, candidate)
}

func firstDuplicate(docs []docstore.Document, candidate *common.Event) (*common.Event, error) {
	for _, doc := range docs {
		event, err := decodeEvent(doc)
		if err != nil {
			return nil, err
		}
		if EventsDuplicate(event, candidate) {
			return event, nil
		}
	}
	return nil, nil
}
