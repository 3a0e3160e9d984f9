/**
 * @description
 * This file defines the generic document-store contract the reconciliation
 * engine is built on, the `Doc` representation records travel in, and the
 * per-doctype configuration consumed by the upsert primitive.
 *
 * @notes
 * - The engine is protocol-agnostic over whatever the store client
 *   implements; the interface is the seam the Postgres-backed
 *   implementation plugs into, and tests substitute an in-memory stub.
 * - Identity, checked and user-owned fields are explicit per-doctype
 *   configuration rather than field-name lists scattered through the code.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// IDField is the document field holding the store's own stable identifier.
const IDField = "_id"

// Doc is one record as the document store sees it: a JSON object.
type Doc map[string]any

// ID returns the document's store id, empty when the document has not been
// persisted yet.
func (d Doc) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Selector describes an exact-match query. Eq constrains a field to one
// value, In constrains a field to a set of values.
type Selector struct {
	Eq map[string]any
	In map[string][]string
}

// Fields returns the constrained field names in deterministic order, used
// as the index key for the query.
func (s Selector) Fields() []string {
	fields := make([]string, 0, len(s.Eq)+len(s.In))
	for f := range s.Eq {
		fields = append(fields, f)
	}
	for f := range s.In {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// QueryOptions carries a selector plus ordering and limiting directives.
type QueryOptions struct {
	Selector   Selector
	SortBy     string
	Descending bool
	Limit      int
}

// DocumentStore is the generic store client the engine consumes. Collection
// names are domain identifiers (accounts, operations, groups); no wire
// protocol is implied.
type DocumentStore interface {
	FetchAll(ctx context.Context, collection string) ([]Doc, error)
	Query(ctx context.Context, collection string, opts QueryOptions) ([]Doc, error)
	Create(ctx context.Context, collection string, doc Doc) (Doc, error)
	Update(ctx context.Context, collection string, doc Doc) (Doc, error)
	BulkUpdate(ctx context.Context, collection string, docs []Doc) error
	Delete(ctx context.Context, collection string, doc Doc) error
}

// DoctypeConfig declares how the upsert primitive treats one collection.
type DoctypeConfig struct {
	// IdentityFields are the ordered fields whose values identify an
	// existing record. A candidate missing any identity value is created
	// unconditionally.
	IdentityFields []string
	// CheckedFields are compared between candidate and existing record; an
	// update is issued only when at least one differs.
	CheckedFields []string
	// UserOwnedFields are never overwritten by a fetch once set by the
	// user.
	UserOwnedFields []string
}

// Doctype binds a collection name to its configuration and a store client.
type Doctype struct {
	store DocumentStore
	name  string
	cfg   DoctypeConfig
}

func NewDoctype(store DocumentStore, name string, cfg DoctypeConfig) *Doctype {
	return &Doctype{store: store, name: name, cfg: cfg}
}

func (d *Doctype) Name() string { return d.name }

func (d *Doctype) FetchAll(ctx context.Context) ([]Doc, error) {
	return d.store.FetchAll(ctx, d.name)
}

func (d *Doctype) Query(ctx context.Context, opts QueryOptions) ([]Doc, error) {
	return d.store.Query(ctx, d.name, opts)
}

func (d *Doctype) Update(ctx context.Context, doc Doc) (Doc, error) {
	return d.store.Update(ctx, d.name, doc)
}

func (d *Doctype) BulkUpdate(ctx context.Context, docs []Doc) error {
	return d.store.BulkUpdate(ctx, d.name, docs)
}

func (d *Doctype) Delete(ctx context.Context, doc Doc) error {
	return d.store.Delete(ctx, d.name, doc)
}

// AccountsConfig returns the doctype configuration for bank accounts.
// Accounts are upserted by store id: the account reconciliator resolves
// identity by account number beforehand and carries the store id over, so a
// missing id means "genuinely new".
func AccountsConfig() DoctypeConfig {
	return DoctypeConfig{
		IdentityFields: []string{IDField},
		CheckedFields: []string{
			"balance", "comingBalance", "label", "type", "vendorId",
			"number", "institutionLabel", "iban", "currency",
		},
		UserOwnedFields: []string{"shortLabel"},
	}
}

// TransactionsConfig returns the doctype configuration for bank operations.
// The vendor id is the identity within one connector session.
func TransactionsConfig() DoctypeConfig {
	return DoctypeConfig{
		IdentityFields:  []string{"vendorId"},
		CheckedFields:   []string{"label", "originalBankLabel", "automaticCategoryId"},
		UserOwnedFields: []string{"shortLabel"},
	}
}

// GroupsConfig returns the doctype configuration for account groups. Groups
// are user-created; fetches never touch their label.
func GroupsConfig() DoctypeConfig {
	return DoctypeConfig{
		IdentityFields:  []string{IDField},
		CheckedFields:   []string{"accounts"},
		UserOwnedFields: []string{"label"},
	}
}

// ToDoc converts a domain value into its document representation through
// its JSON encoding, so the store sees exactly the wire shape.
func ToDoc(v any) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// FromDoc decodes a document back into a domain value.
func FromDoc(doc Doc, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// ToDocs converts a slice of domain values.
func ToDocs[T any](values []T) ([]Doc, error) {
	docs := make([]Doc, 0, len(values))
	for i, v := range values {
		doc, err := ToDoc(v)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FromDocs decodes a slice of documents into domain values.
func FromDocs[T any](docs []Doc) ([]T, error) {
	values := make([]T, len(docs))
	for i, doc := range docs {
		if err := FromDoc(doc, &values[i]); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return values, nil
}
