package docstore

import (
	"context"
	"errors"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	batch := store.NewBatch()
	batch.Create("entities", "ent-1", record{Name: "Acme Corp", Count: 2})
	batch.Create("entities", "ent-2", record{Name: "Acme Corporation", Count: 1})
	batch.Create("entities", "ent-3", record{Name: "Globex", Count: 3})
	if err := batch.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestMemoryStoreQueries(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	doc, err := store.GetByID(ctx, "entities", "ent-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "ent-1" {
		t.Fatalf("GetByID returned %s", doc.ID)
	}

	if _, err := store.GetByID(ctx, "entities", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID(missing) error = %v, want ErrNotFound", err)
	}

	docs, err := store.QueryByField(ctx, "entities", "name", "Globex")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "ent-3" {
		t.Fatalf("QueryByField = %v, want [ent-3]", docs)
	}

	// Numeric fields compare by their textual form, like jsonb ->>.
	docs, err = store.QueryByField(ctx, "entities", "count", "2")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "ent-1" {
		t.Fatalf("QueryByField(count) = %v, want [ent-1]", docs)
	}

	docs, err = store.QueryByPrefix(ctx, "entities", "name", "Acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "ent-1" || docs[1].ID != "ent-2" {
		t.Fatalf("QueryByPrefix = %v, want [ent-1 ent-2]", docs)
	}

	docs, err = store.List(ctx, "entities")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("List returned %d docs, want 3", len(docs))
	}
	if docs, _ := store.List(ctx, "events"); len(docs) != 0 {
		t.Fatalf("List of empty collection returned %d docs", len(docs))
	}
}

func TestMemoryBatchFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	batch := store.NewBatch()
	batch.Update("entities", "ent-1", record{Name: "Acme Corp", Count: 9})
	batch.Delete("entities", "ent-3")
	batch.Update("entities", "missing", record{Name: "ghost"})
	if batch.Len() != 3 {
		t.Fatalf("Len = %d, want 3", batch.Len())
	}

	err := batch.Commit(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Commit error = %v, want ErrNotFound", err)
	}

	// Nothing before the failing op may have been applied.
	doc, err := store.GetByID(ctx, "entities", "ent-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"name":"Acme Corp","count":2}` {
		t.Fatalf("ent-1 modified by failed batch: %s", doc.Data)
	}
	if _, err := store.GetByID(ctx, "entities", "ent-3"); err != nil {
		t.Fatalf("ent-3 deleted by failed batch: %v", err)
	}
}

func TestMemoryBatchCreateExistingFails(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	batch := store.NewBatch()
	batch.Update("entities", "ent-3", record{Name: "Globex Corp", Count: 3})
	batch.Create("entities", "ent-1", record{Name: "Acme Corp", Count: 0})
	if err := batch.Commit(ctx); !errors.Is(err, ErrExists) {
		t.Fatalf("Commit error = %v, want ErrExists", err)
	}

	// The failed create must not overwrite, and the earlier update must not
	// have been applied either.
	doc, err := store.GetByID(ctx, "entities", "ent-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"name":"Acme Corp","count":2}` {
		t.Fatalf("ent-1 overwritten by failed batch: %s", doc.Data)
	}
	doc, err = store.GetByID(ctx, "entities", "ent-3")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"name":"Globex","count":3}` {
		t.Fatalf("ent-3 modified by failed batch: %s", doc.Data)
	}

	// Delete-then-create of the same id within one batch stays legal.
	batch = store.NewBatch()
	batch.Delete("entities", "ent-2")
	batch.Create("entities", "ent-2", record{Name: "Acme GmbH", Count: 1})
	if err := batch.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	doc, err = store.GetByID(ctx, "entities", "ent-2")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"name":"Acme GmbH","count":1}` {
		t.Fatalf("ent-2 = %s, want the recreated document", doc.Data)
	}
}

func TestMemoryBatchStagedVisibility(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// An update may target a document created earlier in the same batch, and
	// a delete staged earlier makes later updates of the same id fail.
	batch := store.NewBatch()
	batch.Create("events", "evt-1", record{Name: "first"})
	batch.Update("events", "evt-1", record{Name: "second"})
	if err := batch.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	doc, err := store.GetByID(ctx, "events", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"name":"second","count":0}` {
		t.Fatalf("evt-1 = %s, want the updated document", doc.Data)
	}

	batch = store.NewBatch()
	batch.Delete("events", "evt-1")
	batch.Update("events", "evt-1", record{Name: "third"})
	if err := batch.Commit(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Commit after staged delete = %v, want ErrNotFound", err)
	}
}
