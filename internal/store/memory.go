/**
 * @description
 * In-memory DocumentStore used by tests and local development. It honors
 * the same query semantics as the Postgres-backed store: exact-match
 * selectors over the JSON text of field values, optional sorting and
 * limiting.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in a map guarded by one mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Doc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Doc)}
}

func (s *MemoryStore) collection(name string) map[string]Doc {
	if s.collections[name] == nil {
		s.collections[name] = make(map[string]Doc)
	}
	return s.collections[name]
}

func (s *MemoryStore) FetchAll(ctx context.Context, collection string) ([]Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Doc, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		docs = append(docs, cloneDoc(doc))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

func fieldText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (s *MemoryStore) Query(ctx context.Context, collection string, opts QueryOptions) ([]Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Doc
	for _, doc := range s.collections[collection] {
		if !matchesSelector(doc, opts.Selector) {
			continue
		}
		docs = append(docs, cloneDoc(doc))
	}

	if opts.SortBy != "" {
		sort.Slice(docs, func(i, j int) bool {
			a, b := fieldText(docs[i][opts.SortBy]), fieldText(docs[j][opts.SortBy])
			if opts.Descending {
				return a > b
			}
			return a < b
		})
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	}

	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func matchesSelector(doc Doc, sel Selector) bool {
	for field, want := range sel.Eq {
		if fieldText(doc[field]) != fieldText(want) {
			return false
		}
	}
	for field, values := range sel.In {
		got := fieldText(doc[field])
		found := false
		for _, want := range values {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Create(ctx context.Context, collection string, doc Doc) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneDoc(doc)
	if stored.ID() == "" {
		stored[IDField] = uuid.NewString()
	}
	s.collection(collection)[stored.ID()] = stored
	return cloneDoc(stored), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection string, doc Doc) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("update in %s: document has no id", collection)
	}
	if _, ok := s.collections[collection][id]; !ok {
		return nil, ErrNotFound
	}
	stored := cloneDoc(doc)
	s.collection(collection)[id] = stored
	return cloneDoc(stored), nil
}

// BulkUpdate upserts each document by id, mirroring the Postgres store's
// insert-or-replace semantics.
func (s *MemoryStore) BulkUpdate(ctx context.Context, collection string, docs []Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		stored := cloneDoc(doc)
		if stored.ID() == "" {
			stored[IDField] = uuid.NewString()
		}
		s.collection(collection)[stored.ID()] = stored
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, doc Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}
