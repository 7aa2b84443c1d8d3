package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/enrich"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

// ErrInvalidEvent marks an incoming event that failed envelope validation.
// Batch callers skip the offending row and continue with the next.
var ErrInvalidEvent = errors.New("invalid event")

// IncomingEvent is the validated envelope handed to ingestion. The name
// lists are the already-tokenized mentions per field; when a list is empty
// it is derived from the raw field by comma/conjunction splitting.
type IncomingEvent struct {
	Actor        string    `json:"actor" validate:"required"`
	Action       string    `json:"action" validate:"required"`
	Target       string    `json:"target,omitempty"`
	Locations    []string  `json:"locations,omitempty"`
	Sentence     string    `json:"sentence,omitempty"`
	DateReceived time.Time `json:"date_received" validate:"required"`

	ActorNames    []string `json:"actor_names,omitempty"`
	TargetNames   []string `json:"target_names,omitempty"`
	LocationNames []string `json:"location_names,omitempty"`
}

func (in *IncomingEvent) validate() error {
	if util.NormalizeName(in.Actor) == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidEvent)
	}
	if util.NormalizeName(in.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if in.DateReceived.IsZero() {
		return fmt.Errorf("%w: date received is required", ErrInvalidEvent)
	}
	return nil
}

// actorNames returns the tokenized actor mentions, deriving them from the
// raw field when the collaborator did not supply a list.
func (in *IncomingEvent) actorNames() []string {
	if len(in.ActorNames) > 0 {
		return in.ActorNames
	}
	return util.SplitNameList(in.Actor)
}

func (in *IncomingEvent) targetNames() []string {
	if len(in.TargetNames) > 0 {
		return in.TargetNames
	}
	return util.SplitNameList(in.Target)
}

func (in *IncomingEvent) locationNames() []string {
	if len(in.LocationNames) > 0 {
		return in.LocationNames
	}
	var names []string
	seen := make(map[string]bool)
	for _, location := range in.Locations {
		for _, name := range util.SplitNameList(location) {
			key := util.NormalizeName(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, name)
		}
	}
	return names
}

// mention is one resolved name occurrence within an incoming event.
type mention struct {
	name   string
	role   common.ConnectionRole
	entity *common.Entity
	isNew  bool
}

// Ingest resolves every name mentioned by the incoming event, creates
// entities for unmatched names, appends a connection per mention, and
// persists the event together with all entity changes in one atomic batch.
// A nil event with a nil error means the event duplicated a stored one and
// was suppressed.
func (g *Engine) Ingest(ctx context.Context, in IncomingEvent) (*common.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	eventID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}
	now := time.Now()
	event := &common.Event{
		ID:                eventID,
		Actor:             util.NormalizeName(in.Actor),
		Action:            util.NormalizeName(in.Action),
		Target:            util.NormalizeName(in.Target),
		Sentence:          in.Sentence,
		DateReceived:      in.DateReceived,
		ProcessedDatetime: &now,
	}
	for _, location := range in.Locations {
		if name := util.NormalizeName(location); name != "" {
			event.Locations = append(event.Locations, name)
		}
	}

	duplicate, err := g.findDuplicate(ctx, event)
	if err != nil {
		return nil, err
	}
	if duplicate != nil {
		logger.Debug("suppressed duplicate event", "of", duplicate.ID)
		return nil, nil
	}

	mentions, err := g.resolveMentions(ctx, in)
	if err != nil {
		return nil, err
	}

	allNames := make([]string, 0, len(mentions))
	for _, m := range mentions {
		allNames = append(allNames, m.entity.Name)
	}

	// Connections accrue on copies of the touched entities; the registry is
	// only updated after the commit succeeds, so a failed ingest can be
	// retried without double-counting.
	touched := make(map[string]*common.Entity)
	isNew := make(map[string]bool)
	var order []string
	for _, m := range mentions {
		entity, ok := touched[m.entity.ID]
		if !ok {
			clone := *m.entity
			clone.Connections = append([]common.Connection(nil), m.entity.Connections...)
			entity = &clone
			touched[entity.ID] = entity
			isNew[entity.ID] = m.isNew
			order = append(order, entity.ID)
		}

		related := make([]string, 0, len(allNames)-1)
		for _, name := range allNames {
			if name != entity.Name {
				related = append(related, name)
			}
		}
		entity.Connections = append(entity.Connections, common.Connection{
			EventID:            event.ID,
			Role:               m.role,
			Action:             event.Action,
			Timestamp:          event.DateReceived,
			RelatedEntityNames: related,
		})
		entity.ConnectionCount = len(entity.Connections)
	}

	batch := g.docs.NewBatch()
	batch.Create(docstore.CollectionEvents, event.ID, event)
	for _, id := range order {
		entity := touched[id]
		if isNew[id] {
			batch.Create(docstore.CollectionEntities, entity.ID, entity)
		} else {
			batch.Update(docstore.CollectionEntities, entity.ID, entity)
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to persist event %s: %w", event.ID, err)
	}

	for _, entity := range touched {
		g.entities.Put(entity)
	}
	g.crossRefs.InvalidateNames(entityNamesOf(touched))

	return event, nil
}

// resolveMentions maps every tokenized name onto a canonical entity,
// creating missing ones. Multiple mentions of the same entity within one
// event collapse onto a single entity value so its connections accrue in
// order.
func (g *Engine) resolveMentions(ctx context.Context, in IncomingEvent) ([]mention, error) {
	var mentions []mention
	created := make(map[string]*common.Entity)

	resolve := func(names []string, role common.ConnectionRole, fallback common.EntityType) error {
		for _, raw := range names {
			name := util.NormalizeName(raw)
			if name == "" {
				continue
			}

			entity := g.entities.Lookup(name)
			isNew := false
			if entity == nil {
				entity = created[matchKey(name)]
			}
			if entity == nil {
				fresh, err := g.createEntity(ctx, name, fallback)
				if err != nil {
					return err
				}
				entity = fresh
				created[matchKey(name)] = fresh
				isNew = true
			}

			mentions = append(mentions, mention{name: name, role: role, entity: entity, isNew: isNew})
		}
		return nil
	}

	if err := resolve(in.actorNames(), common.RoleActor, common.EntityUnknown); err != nil {
		return nil, err
	}
	if err := resolve(in.targetNames(), common.RoleTarget, common.EntityUnknown); err != nil {
		return nil, err
	}
	if err := resolve(in.locationNames(), common.RoleLocation, common.EntityPlace); err != nil {
		return nil, err
	}
	return mentions, nil
}

// createEntity builds a new canonical entity for an unmatched name. The
// enrichment lookup is best-effort: on failure the entity proceeds with only
// its bare name and the fallback type.
func (g *Engine) createEntity(ctx context.Context, name string, fallback common.EntityType) (*common.Entity, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate entity id: %w", err)
	}

	entity := &common.Entity{
		ID:        id,
		Name:      name,
		Type:      fallback,
		CreatedAt: time.Now(),
	}
	g.enrichEntity(ctx, entity)
	return entity, nil
}

func (g *Engine) enrichEntity(ctx context.Context, entity *common.Entity) {
	if g.enricher == nil {
		return
	}

	candidates, err := util.RetryWithContext(ctx, g.maxRetries, func(ctx context.Context) ([]enrich.Candidate, error) {
		return g.enricher.Search(ctx, entity.Name)
	})
	if err != nil {
		logger.Warn("enrichment search failed", "name", entity.Name, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	candidate := candidates[0]

	details, err := util.RetryWithContext(ctx, g.maxRetries, func(ctx context.Context) (*enrich.Details, error) {
		return g.enricher.FetchDetails(ctx, candidate.ID)
	})
	if err != nil {
		logger.Warn("enrichment details failed", "name", entity.Name, "error", err)
		return
	}

	entity.ExternalID = candidate.ID
	entity.Description = details.Description
	for _, alias := range details.Aliases {
		entity.AddAlias(alias)
	}
	if details.TypeHint != "" && details.TypeHint != common.EntityUnknown {
		entity.Type = details.TypeHint
	}
	if len(details.Attributes) > 0 {
		entity.Attributes = details.Attributes
	}
}

func matchKey(name string) string {
	return strings.ToLower(util.NormalizeName(name))
}

func entityNamesOf(entities map[string]*common.Entity) []string {
	var names []string
	for _, entity := range entities {
		names = append(names, entity.AllNames()...)
	}
	return names
}
