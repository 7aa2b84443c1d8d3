package common

import (
	"strings"
	"time"
)

// EntityType classifies a canonical entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityPlace        EntityType = "place"
	EntityUnknown      EntityType = "unknown"
)

// EntityTypes lists every valid entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityPerson, EntityOrganization, EntityPlace, EntityUnknown}
}

// ParseEntityType maps a raw string onto an EntityType, falling back to
// EntityUnknown for anything unrecognized.
func ParseEntityType(value string) EntityType {
	switch EntityType(strings.ToLower(strings.TrimSpace(value))) {
	case EntityPerson:
		return EntityPerson
	case EntityOrganization:
		return EntityOrganization
	case EntityPlace:
		return EntityPlace
	default:
		return EntityUnknown
	}
}

// Entity represents a canonical person, organization, place, or unclassified
// record in the graph. Events reference entities by name or alias; the
// aliases of an entity grow as duplicates are merged into it so that every
// name it was ever known by remains searchable.
type Entity struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Aliases         []string          `json:"aliases"`
	Type            EntityType        `json:"type"`
	ExternalID      string            `json:"external_id,omitempty"`
	Description     string            `json:"description,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Connections     []Connection      `json:"connections"`
	ConnectionCount int               `json:"connection_count"`
	CreatedAt       time.Time         `json:"created_at"`
}

// HasAlias reports whether name equals the entity's name or any alias,
// case-insensitively.
func (e *Entity) HasAlias(name string) bool {
	if strings.EqualFold(e.Name, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// AddAlias appends name to the entity's aliases unless it is already the
// entity's name or a known alias.
func (e *Entity) AddAlias(name string) {
	name = strings.TrimSpace(name)
	if name == "" || e.HasAlias(name) {
		return
	}
	e.Aliases = append(e.Aliases, name)
}

// AllNames returns the entity's name followed by its aliases.
func (e *Entity) AllNames() []string {
	names := make([]string, 0, len(e.Aliases)+1)
	names = append(names, e.Name)
	names = append(names, e.Aliases...)
	return names
}

// ConnectionRole describes how an entity participates in an event.
type ConnectionRole string

const (
	RoleActor    ConnectionRole = "actor"
	RoleTarget   ConnectionRole = "target"
	RoleLocation ConnectionRole = "location"
)

// Connection links an entity to a single event and the role it played there.
// Connections are owned by exactly one entity and are rebuilt wholesale by
// the recalculator rather than patched incrementally.
type Connection struct {
	EventID            string         `json:"event_id"`
	Role               ConnectionRole `json:"role"`
	Action             string         `json:"action"`
	Timestamp          time.Time      `json:"timestamp"`
	RelatedEntityNames []string       `json:"related_entity_names,omitempty"`
}

// Event is a free-text record of something that happened: an actor did an
// action, optionally to a target, optionally at one or more locations.
// Events are immutable except for the textual fields touched by a merge
// rewrite.
type Event struct {
	ID                string     `json:"id"`
	Actor             string     `json:"actor"`
	Action            string     `json:"action"`
	Target            string     `json:"target,omitempty"`
	Locations         []string   `json:"locations,omitempty"`
	Sentence          string     `json:"sentence"`
	DateReceived      time.Time  `json:"date_received"`
	ProcessedDatetime *time.Time `json:"processed_datetime,omitempty"`
}

// Clone returns a deep copy of the event so rewrites never mutate the
// caller's value.
func (e Event) Clone() Event {
	clone := e
	if e.Locations != nil {
		clone.Locations = make([]string, len(e.Locations))
		copy(clone.Locations, e.Locations)
	}
	if e.ProcessedDatetime != nil {
		t := *e.ProcessedDatetime
		clone.ProcessedDatetime = &t
	}
	return clone
}

// DuplicateGroup is a transient set of entities of one type that share an
// external identifier, sorted oldest-first. It is produced by duplicate
// detection and consumed immediately by the merge engine; it is never
// persisted.
type DuplicateGroup struct {
	ExternalID string   `json:"external_id"`
	Entities   []Entity `json:"entities"`
}
