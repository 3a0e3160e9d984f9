/**
 * @description
 * This file implements the transaction reconciliator. Fetched transactions
 * are partitioned into genuinely new records and resightings of stored
 * ones, and — when the batch comes from a freshly re-authenticated
 * connector session — a split-date safety cutoff discards "new"
 * transactions that merely re-issue vendor ids for history already stored.
 *
 * @notes
 * - The cutoff compares at day precision, strictly after. A transaction
 *   whose date cannot be parsed is conservatively treated as not-after any
 *   cutoff: it is dropped with a warning, never a hard failure.
 * - When the session is not new, no cutoff applies: the store's own vendor
 *   ids remain authoritative across ordinary syncs and every unseen vendor
 *   id is kept regardless of date.
 */

package recon

import (
	"log"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
)

// SplitDay computes the cutoff for a set of stored transactions: the
// maximum day among their dates. Empty input (or nothing parseable) yields
// an empty cutoff, which excludes nothing.
func SplitDay(stored []domain.Transaction) string {
	max := ""
	for _, tx := range stored {
		day, ok := domain.Day(tx.Date)
		if !ok {
			continue
		}
		if day > max {
			max = day
		}
	}
	return max
}

// ReconcileTransactions classifies the fetched transactions against the
// stored ones and returns the surviving new transactions followed by all
// updated ones, in that order. newSession enables the split-date cutoff.
func ReconcileTransactions(fetched, stored []domain.Transaction, newSession bool) []domain.Transaction {
	storedByVendorID := make(map[string]bool, len(stored))
	for _, tx := range stored {
		if tx.VendorID != "" {
			storedByVendorID[tx.VendorID] = true
		}
	}

	var newTxs, updatedTxs []domain.Transaction
	for _, tx := range fetched {
		if tx.VendorID == "" || !storedByVendorID[tx.VendorID] {
			newTxs = append(newTxs, tx)
		} else {
			updatedTxs = append(updatedTxs, tx)
		}
	}

	splitDay := SplitDay(stored)
	if newSession && splitDay != "" {
		log.Printf("level=info component=reconciliator msg=\"new connector session; discarding new transactions at or before cutoff\" split_day=%s", splitDay)
		kept := newTxs[:0]
		for _, tx := range newTxs {
			after, ok := domain.DayAfter(tx.Date, splitDay)
			if !ok {
				log.Printf("level=warn component=reconciliator msg=\"transaction date could not be parsed; excluded by cutoff\" vendor_id=%s date=%q", tx.VendorID, tx.Date)
				continue
			}
			if after {
				kept = append(kept, tx)
			}
		}
		newTxs = kept
	}

	log.Printf("level=info component=reconciliator msg=\"transaction reconciliation\" new=%d updated=%d split_day=%q new_session=%t",
		len(newTxs), len(updatedTxs), splitDay, newSession)

	return append(append([]domain.Transaction{}, newTxs...), updatedTxs...)
}
