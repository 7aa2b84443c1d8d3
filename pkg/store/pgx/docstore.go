// Package pgx implements the docstore interface on PostgreSQL, storing each
// document as a JSONB row in the documents table.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/civigraph/atlas/pkg/store/docstore"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DocStore implements docstore.Store on a PostgreSQL connection or pool.
// Documents live in the documents table keyed by (collection, id) with the
// payload in a JSONB column, so field queries map directly onto ->> lookups.
type DocStore struct {
	conn pgxIConn
}

// NewDocStore creates a DocStore using an existing connection or pool.
func NewDocStore(conn pgxIConn) *DocStore {
	return &DocStore{conn: conn}
}

func (s *DocStore) GetByID(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var data []byte
	err := s.conn.QueryRow(
		ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

func (s *DocStore) QueryByField(ctx context.Context, collection, field, value string) ([]docstore.Document, error) {
	rows, err := s.conn.Query(
		ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data ->> $2 = $3 ORDER BY id`,
		collection, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
	}
	return collectDocuments(rows)
}

func (s *DocStore) QueryByPrefix(ctx context.Context, collection, field, prefix string) ([]docstore.Document, error) {
	rows, err := s.conn.Query(
		ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data ->> $2 LIKE $3 || '%' ORDER BY id`,
		collection, field, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s prefix: %w", collection, field, err)
	}
	return collectDocuments(rows)
}

func (s *DocStore) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	rows, err := s.conn.Query(
		ctx,
		`SELECT id, data FROM documents WHERE collection = $1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]docstore.Document, error) {
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var doc docstore.Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type pgxOp struct {
	kind       string
	collection string
	id         string
	data       []byte
	err        error
}

type pgxBatch struct {
	store *DocStore
	ops   []pgxOp
}

func (s *DocStore) NewBatch() docstore.Batch {
	return &pgxBatch{store: s}
}

func (b *pgxBatch) Create(collection, id string, data any) {
	b.add("create", collection, id, data)
}

func (b *pgxBatch) Update(collection, id string, data any) {
	b.add("update", collection, id, data)
}

func (b *pgxBatch) Delete(collection, id string) {
	b.ops = append(b.ops, pgxOp{kind: "delete", collection: collection, id: id})
}

func (b *pgxBatch) add(kind, collection, id string, data any) {
	encoded, err := json.Marshal(data)
	b.ops = append(b.ops, pgxOp{
		kind:       kind,
		collection: collection,
		id:         id,
		data:       encoded,
		err:        err,
	})
}

func (b *pgxBatch) Len() int {
	return len(b.ops)
}

// Commit applies all queued operations inside a single transaction.
// The transaction is rolled back on the first failing operation.
func (b *pgxBatch) Commit(ctx context.Context) error {
	for i, op := range b.ops {
		if op.err != nil {
			return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, op.err)
		}
	}

	trx, err := b.store.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		_ = trx.Rollback(ctx)
	}()

	for i, op := range b.ops {
		var tag pgconn.CommandTag
		var err error
		switch op.kind {
		case "create":
			tag, err = trx.Exec(
				ctx,
				`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
				op.collection, op.id, op.data,
			)
		case "update":
			tag, err = trx.Exec(
				ctx,
				`UPDATE documents SET data = $3 WHERE collection = $1 AND id = $2`,
				op.collection, op.id, op.data,
			)
		case "delete":
			tag, err = trx.Exec(
				ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`,
				op.collection, op.id,
			)
		}
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				err = docstore.ErrExists
			}
			return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, err)
		}
		if op.kind != "create" && tag.RowsAffected() == 0 {
			return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, docstore.ErrNotFound)
		}
	}

	if err := trx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	b.ops = nil
	return nil
}
