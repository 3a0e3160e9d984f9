/**
 * @description
 * This file implements the DocumentStore contract on PostgreSQL. Documents
 * live in a single `documents` table keyed by (collection, id) with the
 * record body in a JSONB column; selector queries compile to `doc->>`
 * predicates and bulk writes go through one pgx batch.
 *
 * @notes
 * - The IndexCache is the explicit index-handle cache keyed by
 *   (collection, fields): the first query over a field combination creates
 *   a matching expression index, later queries skip the round trip. The
 *   cache instance is owned by the store, no ambient global state.
 * - The store serializes concurrent writes to the same row itself
 *   (last-write-wins on the primary key); a conflict surfaces as a normal
 *   per-record failure upstream, never as special handling here.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and batch support.
 * - github.com/google/uuid: store id assignment.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`

// IndexCache remembers which expression indexes already exist, keyed by
// (collection, fields).
type IndexCache struct {
	mu    sync.Mutex
	ready map[string]bool
}

func NewIndexCache() *IndexCache {
	return &IndexCache{ready: make(map[string]bool)}
}

func indexKey(collection string, fields []string) string {
	return collection + ":" + strings.Join(fields, ",")
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PostgresStore is the pgx-backed DocumentStore implementation.
type PostgresStore struct {
	pool    *pgxpool.Pool
	indexes *IndexCache
}

// NewPostgresStore prepares the documents table and returns a store that
// owns its own index-handle cache.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, documentsSchema); err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &PostgresStore{pool: pool, indexes: NewIndexCache()}, nil
}

// ensureIndex creates the expression index for the field combination once
// per process. Collections are internal constants, so inlining the name in
// the partial-index predicate is safe.
func (s *PostgresStore) ensureIndex(ctx context.Context, collection string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	key := indexKey(collection, fields)

	s.indexes.mu.Lock()
	done := s.indexes.ready[key]
	s.indexes.mu.Unlock()
	if done {
		return nil
	}

	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = fmt.Sprintf("(doc->>'%s')", strings.ReplaceAll(f, "'", ""))
	}
	name := "idx_docs_" + sanitizeIdent(collection) + "_" + sanitizeIdent(strings.Join(fields, "_"))
	stmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON documents (%s) WHERE collection = '%s'",
		name, strings.Join(exprs, ", "), strings.ReplaceAll(collection, "'", ""),
	)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure index %s: %w", name, err)
	}

	s.indexes.mu.Lock()
	s.indexes.ready[key] = true
	s.indexes.mu.Unlock()
	return nil
}

func (s *PostgresStore) FetchAll(ctx context.Context, collection string) ([]Doc, error) {
	rows, err := s.pool.Query(ctx, "SELECT doc FROM documents WHERE collection = $1", collection)
	if err != nil {
		return nil, fmt.Errorf("fetch all %s: %w", collection, err)
	}
	defer rows.Close()
	return scanDocs(rows)
}

// selectorText renders a selector value as the text form `doc->>` yields.
func selectorText(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.Itoa(value)
	case bool:
		return strconv.FormatBool(value)
	default:
		raw, _ := json.Marshal(value)
		return string(raw)
	}
}

func (s *PostgresStore) Query(ctx context.Context, collection string, opts QueryOptions) ([]Doc, error) {
	indexFields := opts.Selector.Fields()
	if opts.SortBy != "" {
		indexFields = append(indexFields, opts.SortBy)
	}
	if err := s.ensureIndex(ctx, collection, indexFields); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT doc FROM documents WHERE collection = $1")
	args := []any{collection}

	for _, field := range opts.Selector.Fields() {
		if value, ok := opts.Selector.Eq[field]; ok {
			args = append(args, selectorText(value))
			fmt.Fprintf(&sb, " AND doc->>'%s' = $%d", strings.ReplaceAll(field, "'", ""), len(args))
		}
		if values, ok := opts.Selector.In[field]; ok {
			args = append(args, values)
			fmt.Fprintf(&sb, " AND doc->>'%s' = ANY($%d)", strings.ReplaceAll(field, "'", ""), len(args))
		}
	}
	if opts.SortBy != "" {
		direction := "ASC"
		if opts.Descending {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY doc->>'%s' %s", strings.ReplaceAll(opts.SortBy, "'", ""), direction)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc Doc) (Doc, error) {
	created := cloneDoc(doc)
	if created.ID() == "" {
		created[IDField] = uuid.NewString()
	}
	raw, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", collection, err)
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)",
		collection, created.ID(), raw,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s document: %w", collection, err)
	}
	return created, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection string, doc Doc) (Doc, error) {
	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("update %s document: missing %s", collection, IDField)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", collection, err)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE documents SET doc = $3, updated_at = now() WHERE collection = $1 AND id = $2",
		collection, id, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("update %s document %s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("update %s document %s: %w", collection, id, ErrNotFound)
	}
	return doc, nil
}

func (s *PostgresStore) BulkUpdate(ctx context.Context, collection string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, doc := range docs {
		persisted := cloneDoc(doc)
		if persisted.ID() == "" {
			persisted[IDField] = uuid.NewString()
		}
		raw, err := json.Marshal(persisted)
		if err != nil {
			return fmt.Errorf("encode %s document: %w", collection, err)
		}
		batch.Queue(
			`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
			collection, persisted.ID(), raw,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("bulk update %s: %w", collection, err)
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, doc Doc) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("delete %s document: missing %s", collection, IDField)
	}
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return fmt.Errorf("delete %s document %s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s document %s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func scanDocs(rows pgx.Rows) ([]Doc, error) {
	var docs []Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
