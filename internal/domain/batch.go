/**
 * @description
 * This file defines the data transfer objects exchanged with the engine's
 * collaborators: the sync batch a collection job delivers, the result the
 * reconciliator returns, and the mutation plan the duplicate merger emits.
 */

package domain

import "time"

// SyncBatch is one delivery from an external collection job: the accounts
// and transactions fetched during a single konnector session against one
// institution.
type SyncBatch struct {
	ConnectorID  string        `json:"connector_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
	FetchedAt    time.Time     `json:"fetched_at,omitempty"`
}

// ReconcileResult reports what one reconciliation run persisted.
type ReconcileResult struct {
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`

	// NewAccounts counts accounts created during this run (no store id at
	// fetch time). TransactionErrors carries per-record save failures that
	// did not abort the batch.
	NewAccounts       int      `json:"new_accounts"`
	TransactionErrors []string `json:"transaction_errors,omitempty"`
}

// MergeMutation is the reviewable plan for merging one loser account into a
// winner. It is either displayed (dry run) or applied atomically per pair.
type MergeMutation struct {
	Winner Account `json:"winner"`
	Loser  Account `json:"loser"`

	// ToUpdate lists the records to rewrite: the loser's transactions dated
	// strictly after the winner's split date, reassigned to the winner, and
	// every group whose account list referenced the loser.
	ToUpdate struct {
		Transactions []Transaction `json:"transactions"`
		Groups       []Group       `json:"groups"`
	} `json:"to_update"`
	ToDelete struct {
		Accounts []Account `json:"accounts"`
	} `json:"to_delete"`
}

// ReviewCandidate is a duplicate pair found only by the fuzzy fallback
// matcher. It is surfaced for manual review and never auto-merged.
type ReviewCandidate struct {
	Account Account `json:"account"`
	Match   Account `json:"match"`
	Method  string  `json:"method"`
}

// MergeReport summarizes one duplicate-merger run.
type MergeReport struct {
	DryRun     bool              `json:"dry_run"`
	Merged     []MergeMutation   `json:"merged"`
	NeedReview []ReviewCandidate `json:"need_review,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
}
