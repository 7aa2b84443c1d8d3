package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/store/docstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewEngineParams{Docs: docstore.NewMemoryStore()})
}

func mustInsert(t *testing.T, g *Engine, entity *common.Entity) {
	t.Helper()
	if err := g.Entities().Insert(context.Background(), entity); err != nil {
		t.Fatalf("insert %s: %v", entity.Name, err)
	}
}

func mustIngest(t *testing.T, g *Engine, in IncomingEvent) *common.Event {
	t.Helper()
	event, err := g.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if event == nil {
		t.Fatalf("ingest suppressed event unexpectedly: %+v", in)
	}
	return event
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 10, 0, 0, 0, time.UTC)
}

// failCommitStore wraps a Store and refuses a set number of batch commits
// before letting them through.
type failCommitStore struct {
	docstore.Store
	failures int
}

func (s *failCommitStore) NewBatch() docstore.Batch {
	return &failCommitBatch{Batch: s.Store.NewBatch(), store: s}
}

type failCommitBatch struct {
	docstore.Batch
	store *failCommitStore
}

func (b *failCommitBatch) Commit(ctx context.Context) error {
	if b.store.failures > 0 {
		b.store.failures--
		return errors.New("connection reset")
	}
	return b.Batch.Commit(ctx)
}

func TestIngestValidation(t *testing.T) {
	g := newTestEngine(t)

	tests := []struct {
		name string
		in   IncomingEvent
	}{
		{"missing actor", IncomingEvent{Action: "met", DateReceived: day(1)}},
		{"missing action", IncomingEvent{Actor: "Alice", DateReceived: day(1)}},
		{"missing date", IncomingEvent{Actor: "Alice", Action: "met"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Ingest(context.Background(), tt.in)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestIngestCreatesEntitiesAndConnections(t *testing.T) {
	g := newTestEngine(t)

	event := mustIngest(t, g, IncomingEvent{
		Actor:        "Alice Jones, Bob Brown",
		Action:       "met",
		Target:       "Carol White",
		Locations:    []string{"Berlin"},
		Sentence:     "Alice Jones and Bob Brown met Carol White in Berlin.",
		DateReceived: day(1),
	})

	if got := g.Entities().Count(); got != 4 {
		t.Fatalf("expected 4 entities, got %d", got)
	}

	alice := g.Entities().Lookup("Alice Jones")
	if alice == nil {
		t.Fatal("Alice Jones was not created")
	}
	if alice.ConnectionCount != 1 {
		t.Fatalf("expected 1 connection, got %d", alice.ConnectionCount)
	}
	conn := alice.Connections[0]
	if conn.EventID != event.ID || conn.Role != common.RoleActor || conn.Action != "met" {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	wantRelated := []string{"Bob Brown", "Carol White", "Berlin"}
	if !reflect.DeepEqual(conn.RelatedEntityNames, wantRelated) {
		t.Fatalf("expected related %v, got %v", wantRelated, conn.RelatedEntityNames)
	}

	berlin := g.Entities().Lookup("Berlin")
	if berlin == nil || berlin.Type != common.EntityPlace {
		t.Fatalf("expected Berlin as place, got %+v", berlin)
	}
	if berlin.Connections[0].Role != common.RoleLocation {
		t.Fatalf("expected location role, got %s", berlin.Connections[0].Role)
	}

	stored, err := g.Events().Get(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("event was not persisted: %v", err)
	}
	if stored.Actor != "Alice Jones, Bob Brown" {
		t.Fatalf("unexpected stored actor %q", stored.Actor)
	}
}

func TestEventsDuplicate(t *testing.T) {
	base := common.Event{
		Actor: "Alice", Action: "met", Target: "Bob",
		Sentence: "X met Y on Tuesday", DateReceived: day(1),
	}

	tests := []struct {
		name string
		modA func(e *common.Event)
		modB func(e *common.Event)
		want bool
	}{
		{"identical", nil, nil, true},
		{"same sentence different day", nil, func(e *common.Event) { e.DateReceived = day(5); e.Actor = "Other" }, true},
		{"same fields same day different sentence", nil, func(e *common.Event) { e.Sentence = "something else" }, true},
		{"same fields different day", nil, func(e *common.Event) { e.Sentence = "something else"; e.DateReceived = day(2) }, false},
		{"different actor", func(e *common.Event) { e.Sentence = "" }, func(e *common.Event) { e.Sentence = ""; e.Actor = "Carol" }, false},
		{"empty sentences same fields same day", func(e *common.Event) { e.Sentence = "" }, func(e *common.Event) { e.Sentence = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base
			b := base
			if tt.modA != nil {
				tt.modA(&a)
			}
			if tt.modB != nil {
				tt.modB(&b)
			}
			if got := EventsDuplicate(&a, &b); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIngestSuppressesDuplicates(t *testing.T) {
	g := newTestEngine(t)

	in := IncomingEvent{
		Actor:        "Alice",
		Action:       "met",
		Target:       "Bob",
		Sentence:     "X met Y on Tuesday",
		DateReceived: day(1),
	}
	mustIngest(t, g, in)

	// Same sentence, later date: still a duplicate.
	in.DateReceived = day(9)
	event, err := g.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if event != nil {
		t.Fatalf("expected suppression, got event %s", event.ID)
	}

	events, err := g.Events().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one stored event, got %d", len(events))
	}
	if alice := g.Entities().Lookup("Alice"); alice.ConnectionCount != 1 {
		t.Fatalf("duplicate ingestion grew connections to %d", alice.ConnectionCount)
	}
}

func TestIngestFailedCommitLeavesRegistryClean(t *testing.T) {
	docs := &failCommitStore{Store: docstore.NewMemoryStore()}
	g := NewEngine(NewEngineParams{Docs: docs})
	ctx := context.Background()

	mustInsert(t, g, &common.Entity{ID: "ent-1", Name: "Alice", Type: common.EntityPerson, CreatedAt: day(1)})

	in := IncomingEvent{
		Actor:        "Alice",
		Action:       "met",
		Target:       "Bob",
		Sentence:     "Alice met Bob.",
		DateReceived: day(2),
	}
	docs.failures = 1
	if _, err := g.Ingest(ctx, in); err == nil {
		t.Fatal("expected the ingest to fail")
	}

	// The failed commit must leave no trace in the registry.
	alice := g.Entities().Lookup("Alice")
	if alice.ConnectionCount != 0 || len(alice.Connections) != 0 {
		t.Fatalf("failed commit left connections on Alice: %+v", alice)
	}
	if g.Entities().Lookup("Bob") != nil {
		t.Fatal("failed commit leaked the new entity into the registry")
	}

	// Retrying the whole operation counts the event exactly once.
	event := mustIngest(t, g, in)
	alice = g.Entities().Lookup("Alice")
	if alice.ConnectionCount != 1 {
		t.Fatalf("Alice count = %d after retry, want 1", alice.ConnectionCount)
	}
	if alice.Connections[0].EventID != event.ID {
		t.Fatalf("connection references %s, want %s", alice.Connections[0].EventID, event.ID)
	}
	events, err := g.Events().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(events))
	}
}

func TestMergeAliasClosure(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	keeper := &common.Entity{ID: "ent-1", Name: "Robert Smith", Type: common.EntityPerson, CreatedAt: day(1)}
	loser := &common.Entity{ID: "ent-2", Name: "Bob Smith", Aliases: []string{"Bobby"}, Type: common.EntityPerson, CreatedAt: day(2)}
	mustInsert(t, g, keeper)
	mustInsert(t, g, loser)

	if _, err := g.MergeEntities(ctx, "ent-1", "ent-2"); err != nil {
		t.Fatalf("merge: %v", err)
	}

	merged := g.Entities().ByID("ent-1")
	wantAliases := []string{"Bob Smith", "Bobby"}
	if !reflect.DeepEqual(merged.Aliases, wantAliases) {
		t.Fatalf("expected aliases %v, got %v", wantAliases, merged.Aliases)
	}

	for _, name := range []string{"Bobby", "Bob Smith", "Robert Smith"} {
		if got := g.Entities().Lookup(name); got == nil || got.ID != "ent-1" {
			t.Fatalf("lookup %q did not resolve to keeper, got %+v", name, got)
		}
	}
	if g.Entities().ByID("ent-2") != nil {
		t.Fatal("loser still present after merge")
	}
	if _, err := g.docs.GetByID(ctx, docstore.CollectionEntities, "ent-2"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("loser still persisted: %v", err)
	}
}

func TestMergeRewritesWholeWordsOnly(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	mustInsert(t, g, &common.Entity{ID: "ent-1", Name: "Nicholas Cole", Type: common.EntityPerson, CreatedAt: day(1)})
	mustInsert(t, g, &common.Entity{ID: "ent-2", Name: "Cole", Type: common.EntityPerson, CreatedAt: day(2)})
	mustInsert(t, g, &common.Entity{ID: "ent-3", Name: "Nicole", Type: common.EntityPerson, CreatedAt: day(3)})

	event := mustIngest(t, g, IncomingEvent{
		Actor:        "Nicole, Cole",
		Action:       "argued",
		Sentence:     "Nicole and Cole argued.",
		DateReceived: day(4),
	})

	report, err := g.MergeEntities(ctx, "ent-1", "ent-2")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if report.RewrittenEvents != 1 {
		t.Fatalf("expected 1 rewritten event, got %d", report.RewrittenEvents)
	}

	rewritten, err := g.Events().Get(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rewritten.Actor != "Nicole, Nicholas Cole" {
		t.Fatalf("expected actor %q, got %q", "Nicole, Nicholas Cole", rewritten.Actor)
	}
	if rewritten.Sentence != "Nicole and Nicholas Cole argued." {
		t.Fatalf("unexpected sentence %q", rewritten.Sentence)
	}

	nicole := g.Entities().ByID("ent-3")
	if nicole.ConnectionCount != 1 {
		t.Fatalf("Nicole's connections corrupted: %d", nicole.ConnectionCount)
	}
}

func TestMergeMissingParticipantAbortsCleanly(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	mustInsert(t, g, &common.Entity{ID: "ent-1", Name: "Alice", Type: common.EntityPerson, CreatedAt: day(1)})
	mustIngest(t, g, IncomingEvent{Actor: "Alice", Action: "spoke", Sentence: "Alice spoke.", DateReceived: day(2)})

	_, err := g.MergeEntities(ctx, "ent-1", "ent-missing")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = g.MergeEntities(ctx, "ent-missing", "ent-1")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Nothing may have been written.
	if g.Entities().ByID("ent-1") == nil {
		t.Fatal("existing entity vanished after aborted merge")
	}
	events, err := g.Events().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Actor != "Alice" {
		t.Fatalf("event corpus changed after aborted merge: %+v", events)
	}
}

func TestReconcileDuplicatesScenario(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	mustInsert(t, g, &common.Entity{
		ID: "ent-1", Name: "Acme Corp", Type: common.EntityOrganization,
		ExternalID: "Q1", CreatedAt: day(1),
	})
	mustInsert(t, g, &common.Entity{
		ID: "ent-2", Name: "Acme Corporation", Type: common.EntityOrganization,
		ExternalID: "Q1", CreatedAt: day(2),
	})

	mustIngest(t, g, IncomingEvent{
		Actor: "Acme Corp", Action: "acquired", Target: "Widget Ltd",
		Sentence: "Acme Corp acquired Widget Ltd.", DateReceived: day(3),
	})
	mustIngest(t, g, IncomingEvent{
		Actor: "Acme Corporation", Action: "hired", Target: "Dana Fox",
		Sentence: "Acme Corporation hired Dana Fox.", DateReceived: day(4),
	})

	report, err := g.ReconcileDuplicates(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Merges != 1 || report.RemovedEntities != 1 {
		t.Fatalf("expected one merge removing one entity, got %+v", report)
	}

	keeper := g.Entities().ByID("ent-1")
	if keeper == nil || keeper.Name != "Acme Corp" {
		t.Fatalf("expected the earliest entity to survive, got %+v", keeper)
	}
	if g.Entities().ByID("ent-2") != nil {
		t.Fatal("loser survived reconciliation")
	}
	if !keeper.HasAlias("Acme Corporation") {
		t.Fatalf("keeper missing loser name as alias: %v", keeper.Aliases)
	}
	if keeper.ConnectionCount != 2 {
		t.Fatalf("expected connection count 2 after recompute, got %d", keeper.ConnectionCount)
	}

	events, err := g.Events().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, event := range events {
		if event.Actor != "Acme Corp" {
			t.Fatalf("event %s not rewritten: actor %q", event.ID, event.Actor)
		}
	}

	// Idempotence: a second pass with no new data merges nothing.
	again, err := g.ReconcileDuplicates(ctx)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Merges != 0 {
		t.Fatalf("expected zero merges on second pass, got %d", again.Merges)
	}
}

func TestReconcileLeavesDistinctExternalIDsAlone(t *testing.T) {
	g := newTestEngine(t)

	mustInsert(t, g, &common.Entity{ID: "ent-1", Name: "Acme Corp", Type: common.EntityOrganization, ExternalID: "Q1", CreatedAt: day(1)})
	mustInsert(t, g, &common.Entity{ID: "ent-2", Name: "Zenith Inc", Type: common.EntityOrganization, ExternalID: "Q2", CreatedAt: day(2)})
	// Same external id on a different type is a different real-world thing.
	mustInsert(t, g, &common.Entity{ID: "ent-3", Name: "Acme Town", Type: common.EntityPlace, ExternalID: "Q1", CreatedAt: day(3)})

	report, err := g.ReconcileDuplicates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Merges != 0 {
		t.Fatalf("expected no merges, got %+v", report)
	}
	if g.Entities().Count() != 3 {
		t.Fatalf("entities lost: %d", g.Entities().Count())
	}
}

func TestRecomputeConnections(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	alice := &common.Entity{ID: "ent-1", Name: "Alice Jones", Aliases: []string{"Ally"}, Type: common.EntityPerson, CreatedAt: day(1), ConnectionCount: 99}
	bob := &common.Entity{ID: "ent-2", Name: "Bob Brown", Type: common.EntityPerson, CreatedAt: day(1)}
	idle := &common.Entity{ID: "ent-3", Name: "Nobody", Type: common.EntityPerson, CreatedAt: day(1), ConnectionCount: 7}
	mustInsert(t, g, alice)
	mustInsert(t, g, bob)
	mustInsert(t, g, idle)

	events := []*common.Event{
		{ID: "evt-1", Actor: "Ally", Action: "met", Target: "Bob Brown", DateReceived: day(2)},
		{ID: "evt-2", Actor: "Alice Jones", Action: "spoke", DateReceived: day(3)},
	}
	for _, event := range events {
		if err := g.Events().Save(ctx, event); err != nil {
			t.Fatal(err)
		}
	}

	if err := g.RecomputeConnections(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	got := g.Entities().ByID("ent-1")
	if got.ConnectionCount != 2 {
		t.Fatalf("expected Alice count 2, got %d", got.ConnectionCount)
	}
	if got.Connections[0].EventID != "evt-1" || got.Connections[0].Role != common.RoleActor {
		t.Fatalf("unexpected first connection: %+v", got.Connections[0])
	}
	if want := []string{"Bob Brown"}; !reflect.DeepEqual(got.Connections[0].RelatedEntityNames, want) {
		t.Fatalf("expected related %v, got %v", want, got.Connections[0].RelatedEntityNames)
	}

	if got := g.Entities().ByID("ent-2"); got.ConnectionCount != 1 || got.Connections[0].Role != common.RoleTarget {
		t.Fatalf("unexpected Bob state: %+v", got)
	}
	if got := g.Entities().ByID("ent-3"); got.ConnectionCount != 0 || len(got.Connections) != 0 {
		t.Fatalf("stale count survived recompute: %+v", got)
	}
}

func TestRecomputeConnectionsCountInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		g := newTestEngine(t)

		pool := make([]*common.Entity, 0, 8)
		for i := 0; i < 8; i++ {
			entity := &common.Entity{
				ID:        fmt.Sprintf("ent-%d", i),
				Name:      fmt.Sprintf("Subject %c", 'A'+i),
				Type:      common.EntityPerson,
				CreatedAt: day(1),
				// Stale counts must not survive the rebuild.
				ConnectionCount: rng.Intn(40),
			}
			if rng.Intn(2) == 0 {
				entity.Aliases = []string{fmt.Sprintf("Agent %c", 'A'+i)}
			}
			mustInsert(t, g, entity)
			pool = append(pool, entity)
		}

		// want counts every mention placed into an event field, so it is
		// computed from the generation itself rather than from the resolver
		// under test.
		want := make(map[string]int)
		mention := func() (*common.Entity, string) {
			entity := pool[rng.Intn(len(pool))]
			if len(entity.Aliases) > 0 && rng.Intn(2) == 0 {
				return entity, entity.Aliases[0]
			}
			return entity, entity.Name
		}

		for i := 0; i < 40; i++ {
			event := &common.Event{
				ID:           fmt.Sprintf("evt-%d", i),
				Action:       "met",
				DateReceived: day(2 + i%25),
			}

			actor, first := mention()
			actorNames := []string{first}
			want[actor.ID]++
			if rng.Intn(3) == 0 {
				other, name := mention()
				if !strings.EqualFold(name, first) {
					actorNames = append(actorNames, name)
					want[other.ID]++
				}
			}
			event.Actor = strings.Join(actorNames, ", ")

			switch rng.Intn(3) {
			case 0:
				target, name := mention()
				event.Target = name
				want[target.ID]++
			case 1:
				event.Target = fmt.Sprintf("Stranger %d", i)
			}

			if rng.Intn(4) == 0 {
				location, name := mention()
				event.Locations = []string{name}
				want[location.ID]++
			}

			if err := g.Events().Save(ctx, event); err != nil {
				t.Fatal(err)
			}
		}

		if err := g.RecomputeConnections(ctx); err != nil {
			t.Fatalf("round %d: recompute: %v", round, err)
		}

		for _, entity := range pool {
			got := g.Entities().ByID(entity.ID)
			if got.ConnectionCount != want[entity.ID] {
				t.Fatalf("round %d: %s count = %d, want %d", round, entity.Name, got.ConnectionCount, want[entity.ID])
			}
			if len(got.Connections) != got.ConnectionCount {
				t.Fatalf("round %d: %s count %d disagrees with %d connections", round, entity.Name, got.ConnectionCount, len(got.Connections))
			}
		}
	}
}

func TestCrossReferences(t *testing.T) {
	g := newTestEngine(t)
	ctx := context.Background()

	mustIngest(t, g, IncomingEvent{Actor: "Alice", Action: "met", Target: "Bob", Sentence: "s1", DateReceived: day(1)})
	mustIngest(t, g, IncomingEvent{Actor: "Alice", Action: "called", Target: "Bob", Sentence: "s2", DateReceived: day(3)})
	mustIngest(t, g, IncomingEvent{Actor: "Alice", Action: "met", Target: "Carol", Locations: []string{"Berlin"}, Sentence: "s3", DateReceived: day(2)})

	alice := g.Entities().Lookup("Alice")

	refs, err := g.CrossReferences(ctx, alice.ID, 10)
	if err != nil {
		t.Fatalf("crossref: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(refs), refs)
	}
	if refs[0].Name != "Bob" || refs[0].Count != 2 {
		t.Fatalf("expected Bob first with count 2, got %+v", refs[0])
	}
	if want := []string{"called", "met"}; !reflect.DeepEqual(refs[0].Actions, want) {
		t.Fatalf("expected actions %v, got %v", want, refs[0].Actions)
	}
	if !refs[0].LastSeen.Equal(day(3)) {
		t.Fatalf("expected last seen %v, got %v", day(3), refs[0].LastSeen)
	}

	topOne, err := g.CrossReferences(ctx, alice.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(topOne) != 1 || topOne[0].Name != "Bob" {
		t.Fatalf("expected only Bob, got %+v", topOne)
	}

	// Ingesting a new event involving Alice must invalidate the cached rows.
	mustIngest(t, g, IncomingEvent{Actor: "Alice", Action: "visited", Target: "Carol", Sentence: "s4", DateReceived: day(5)})
	refs, err = g.CrossReferences(ctx, alice.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range refs {
		if ref.Name == "Carol" && ref.Count != 2 {
			t.Fatalf("stale cache: Carol count %d", ref.Count)
		}
	}
}

func TestRewriteEventReferences(t *testing.T) {
	event := &common.Event{
		Actor:     "Cole",
		Target:    "Nicole",
		Locations: []string{"Cole Valley", "Coleman"},
		Sentence:  "Cole visited Cole Valley.",
	}

	rewritten, changed := RewriteEventReferences(event, "Cole", "Nicholas Cole")
	if !changed {
		t.Fatal("expected a change")
	}
	if rewritten.Actor != "Nicholas Cole" {
		t.Fatalf("actor: %q", rewritten.Actor)
	}
	if rewritten.Target != "Nicole" {
		t.Fatalf("target corrupted: %q", rewritten.Target)
	}
	if rewritten.Locations[0] != "Nicholas Cole Valley" || rewritten.Locations[1] != "Coleman" {
		t.Fatalf("locations: %v", rewritten.Locations)
	}
	if rewritten.Sentence != "Nicholas Cole visited Nicholas Cole Valley." {
		t.Fatalf("sentence: %q", rewritten.Sentence)
	}

	// The input is never mutated.
	if event.Actor != "Cole" || event.Locations[0] != "Cole Valley" {
		t.Fatalf("input event mutated: %+v", event)
	}

	if _, changed := RewriteEventReferences(event, "Dana", "Someone"); changed {
		t.Fatal("expected no change for absent name")
	}
}
