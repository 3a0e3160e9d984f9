/**
 * @description
 * This file defines the typed errors surfaced by the store layer.
 */

package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a document id does not resolve.
var ErrNotFound = errors.New("document not found")

// DuplicateIdentityError reports that an upsert selector matched more than
// one record. Identity fields are chosen so this cannot happen; seeing it
// means a reconciliation bug, not a recoverable runtime condition.
type DuplicateIdentityError struct {
	Collection string
	Selector   map[string]any
	MatchIDs   []string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf(
		"upsert selector matched %d documents in %s (selector=%v ids=%s)",
		len(e.MatchIDs), e.Collection, e.Selector, strings.Join(e.MatchIDs, ","),
	)
}

// RecordError attaches a bulk-save failure to the input slot it occurred
// at. It does not cancel sibling upserts.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
