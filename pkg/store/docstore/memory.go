package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and single-process callers.
// It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return &Document{ID: id, Data: out}, nil
}

func (s *MemoryStore) QueryByField(ctx context.Context, collection, field, value string) ([]Document, error) {
	return s.scan(collection, func(doc []byte) bool {
		v, ok := fieldString(doc, field)
		return ok && v == value
	})
}

func (s *MemoryStore) QueryByPrefix(ctx context.Context, collection, field, prefix string) ([]Document, error) {
	return s.scan(collection, func(doc []byte) bool {
		v, ok := fieldString(doc, field)
		return ok && len(v) >= len(prefix) && v[:len(prefix)] == prefix
	})
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	return s.scan(collection, func([]byte) bool { return true })
}

func (s *MemoryStore) scan(collection string, match func([]byte) bool) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0)
	for id, data := range s.data[collection] {
		if !match(data) {
			continue
		}
		out := make([]byte, len(data))
		copy(out, data)
		docs = append(docs, Document{ID: id, Data: out})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// fieldString extracts a top-level field as its textual representation,
// matching the ->> semantics of a JSONB store.
func fieldString(doc []byte, field string) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return "", false
	}
	raw, ok := m[field]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return string(raw), true
}

type memoryOp struct {
	kind       string
	collection string
	id         string
	data       []byte
	err        error
}

type memoryBatch struct {
	store *MemoryStore
	ops   []memoryOp
}

func (s *MemoryStore) NewBatch() Batch {
	return &memoryBatch{store: s}
}

func (b *memoryBatch) Create(collection, id string, data any) {
	b.add("create", collection, id, data)
}

func (b *memoryBatch) Update(collection, id string, data any) {
	b.add("update", collection, id, data)
}

func (b *memoryBatch) Delete(collection, id string) {
	b.ops = append(b.ops, memoryOp{kind: "delete", collection: collection, id: id})
}

func (b *memoryBatch) add(kind, collection, id string, data any) {
	encoded, err := json.Marshal(data)
	b.ops = append(b.ops, memoryOp{
		kind:       kind,
		collection: collection,
		id:         id,
		data:       encoded,
		err:        err,
	})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

// Commit validates every operation before applying any, so a failed commit
// leaves the store untouched.
func (b *memoryBatch) Commit(ctx context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	staged := make(map[string]map[string]bool)
	exists := func(collection, id string) bool {
		if v, ok := staged[collection][id]; ok {
			return v
		}
		_, ok := b.store.data[collection][id]
		return ok
	}
	stage := func(collection, id string, present bool) {
		if staged[collection] == nil {
			staged[collection] = make(map[string]bool)
		}
		staged[collection][id] = present
	}

	for i, op := range b.ops {
		if op.err != nil {
			return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, op.err)
		}
		switch op.kind {
		case "create":
			if exists(op.collection, op.id) {
				return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, ErrExists)
			}
			stage(op.collection, op.id, true)
		case "update", "delete":
			if !exists(op.collection, op.id) {
				return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, ErrNotFound)
			}
			stage(op.collection, op.id, op.kind == "update")
		}
	}

	for _, op := range b.ops {
		if b.store.data[op.collection] == nil {
			b.store.data[op.collection] = make(map[string][]byte)
		}
		switch op.kind {
		case "create", "update":
			b.store.data[op.collection][op.id] = op.data
		case "delete":
			delete(b.store.data[op.collection], op.id)
		}
	}

	b.ops = nil
	return nil
}
