/**
 * @description
 * Orphan transaction cleanup: a maintenance operation that deletes
 * transactions whose owning account no longer exists. Merging leaves the
 * loser's pre-split transactions behind on a deleted account id; this is
 * where they are reaped.
 */

package merge

import (
	"context"
	"fmt"
	"log"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

// DeleteOrphanTransactions removes every transaction whose account field
// does not resolve to a live account. Returns the number deleted;
// per-record failures are collected, not fatal.
func (m *Merger) DeleteOrphanTransactions(ctx context.Context) (int, []error) {
	accountDocs, err := m.accounts.FetchAll(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("fetch accounts: %w", err)}
	}
	live := make(map[string]bool, len(accountDocs))
	for _, doc := range accountDocs {
		live[doc.ID()] = true
	}

	txDocs, err := m.transactions.FetchAll(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("fetch transactions: %w", err)}
	}
	transactions, err := store.FromDocs[domain.Transaction](txDocs)
	if err != nil {
		return 0, []error{err}
	}

	var orphans []domain.Transaction
	for _, tx := range transactions {
		if !live[tx.Account] {
			orphans = append(orphans, tx)
		}
	}
	log.Printf("level=info component=merger msg=\"orphan scan\" transactions=%d orphans=%d",
		len(transactions), len(orphans))

	deleted := 0
	var errs []error
	for _, tx := range orphans {
		doc, encErr := store.ToDoc(tx)
		if encErr != nil {
			errs = append(errs, fmt.Errorf("encode transaction %s: %w", tx.StoreID, encErr))
			continue
		}
		if delErr := m.transactions.Delete(ctx, doc); delErr != nil {
			errs = append(errs, fmt.Errorf("delete transaction %s: %w", tx.StoreID, delErr))
			continue
		}
		deleted++
	}
	return deleted, errs
}
