/**
 * @description
 * This file implements the upsert primitive every other engine component
 * builds on ("create-or-update by selector"), and the bulk executor that
 * applies it to a list of records under a concurrency cap.
 *
 * @notes
 * - A candidate missing any identity value skips the lookup and is created
 *   unconditionally.
 * - Exactly one match triggers a field-by-field comparison of the checked
 *   attributes; the existing record is only rewritten when something
 *   actually changed, and user-owned fields are never overwritten by a
 *   fetch.
 * - More than one match is a data-modeling bug and fails that single upsert
 *   with a DuplicateIdentityError.
 *
 * @dependencies
 * - golang.org/x/sync/errgroup: bounds the number of in-flight upserts.
 */

package store

import (
	"context"
	"log"
	"reflect"

	"golang.org/x/sync/errgroup"
)

// DefaultBulkConcurrency caps the number of concurrent upserts one BulkSave
// call keeps in flight.
const DefaultBulkConcurrency = 30

// CreateOrUpdate looks up existing records whose identity-field values
// exactly match the candidate's and creates, updates or leaves the record
// untouched accordingly. The returned document is the persisted state.
func (d *Doctype) CreateOrUpdate(ctx context.Context, candidate Doc) (Doc, error) {
	selector := map[string]any{}
	for _, field := range d.cfg.IdentityFields {
		value, ok := candidate[field]
		if !ok || value == nil || value == "" {
			// Incomplete identity: nothing to match against.
			return d.store.Create(ctx, d.name, candidate)
		}
		selector[field] = value
	}

	matches, err := d.store.Query(ctx, d.name, QueryOptions{Selector: Selector{Eq: selector}})
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return d.store.Create(ctx, d.name, candidate)
	case 1:
		existing := matches[0]
		if !d.checkedFieldsDiffer(existing, candidate) {
			return existing, nil
		}
		return d.store.Update(ctx, d.name, d.mergeForUpdate(existing, candidate))
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID())
		}
		return nil, &DuplicateIdentityError{Collection: d.name, Selector: selector, MatchIDs: ids}
	}
}

// checkedFieldsDiffer reports whether any configured checked attribute
// differs between the existing record and the candidate. With no checked
// fields configured every match is treated as changed.
func (d *Doctype) checkedFieldsDiffer(existing, candidate Doc) bool {
	if len(d.cfg.CheckedFields) == 0 {
		return true
	}
	for _, field := range d.cfg.CheckedFields {
		if !reflect.DeepEqual(existing[field], candidate[field]) {
			return true
		}
	}
	return false
}

// mergeForUpdate overlays the candidate's fields onto the existing record,
// keeping the store id and every user-owned field as already persisted.
func (d *Doctype) mergeForUpdate(existing, candidate Doc) Doc {
	userOwned := make(map[string]bool, len(d.cfg.UserOwnedFields))
	for _, field := range d.cfg.UserOwnedFields {
		userOwned[field] = true
	}

	merged := make(Doc, len(existing)+len(candidate))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range candidate {
		if userOwned[k] {
			continue
		}
		merged[k] = v
	}
	merged[IDField] = existing.ID()
	return merged
}

// BulkSave applies CreateOrUpdate to each document, running at most
// `concurrency` upserts at a time (DefaultBulkConcurrency when <= 0).
// Results come back in input order regardless of completion order. A
// failure on one record is captured in its slot and reported in the error
// list; it does not cancel sibling upserts.
func (d *Doctype) BulkSave(ctx context.Context, docs []Doc, concurrency int) ([]Doc, []*RecordError) {
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}

	results := make([]Doc, len(docs))
	failures := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			saved, err := d.CreateOrUpdate(gctx, doc)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = saved
			return nil
		})
	}
	// Goroutines never return errors; Wait only fences completion.
	_ = g.Wait()

	var recordErrs []*RecordError
	for i, err := range failures {
		if err != nil {
			recordErrs = append(recordErrs, &RecordError{Index: i, Err: err})
		}
	}
	if len(recordErrs) > 0 {
		log.Printf("level=warn component=docstore msg=\"bulk save finished with failures\" collection=%s total=%d failed=%d",
			d.name, len(docs), len(recordErrs))
	}
	return results, recordErrs
}
