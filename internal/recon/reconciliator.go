/**
 * @description
 * This file implements the reconciliation orchestrator. One call takes the
 * (accounts, transactions) pair a collection job fetched, matches the
 * accounts against the store, persists them, resolves the vendorId->storeId
 * mapping, reconciles the transactions and persists those too.
 *
 * @notes
 * - Failure semantics: any account save failure aborts before transaction
 *   work begins. A transaction that cannot be linked to a saved account
 *   aborts the whole batch (accounts already committed stay committed —
 *   fail forward, they are harmless on their own). Per-record transaction
 *   save failures are reported but do not roll anything back.
 * - Stored lookups are scoped: accounts by the fetched numbers,
 *   transactions by the in-scope account ids. Never a full-table scan.
 */

package recon

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

// Reconciliator sequences account matching, persistence, transaction
// linking and transaction persistence for one sync batch.
type Reconciliator struct {
	accounts     *store.Doctype
	transactions *store.Doctype
	concurrency  int

	// lookbackLimit caps how many stored transactions are loaded to compute
	// the split date. Zero means no cap.
	lookbackLimit int

	// onAccountsSaved, when set, observes the persisted accounts before any
	// transaction work starts.
	onAccountsSaved func([]domain.Account)
}

func NewReconciliator(accounts, transactions *store.Doctype, concurrency int) *Reconciliator {
	return &Reconciliator{
		accounts:     accounts,
		transactions: transactions,
		concurrency:  concurrency,
	}
}

// SetLookbackLimit caps the stored-transaction window used for the split
// date. The most recent stored transaction always falls inside any
// non-zero window because the lookup sorts by date descending.
func (r *Reconciliator) SetLookbackLimit(limit int) {
	if limit > 0 {
		r.lookbackLimit = limit
	}
}

// OnAccountsSaved registers a callback invoked after accounts persist.
func (r *Reconciliator) OnAccountsSaved(fn func([]domain.Account)) {
	r.onAccountsSaved = fn
}

// ReconcileAndSave runs the full reconciliation of one fetched batch and
// returns the persisted accounts and transactions.
func (r *Reconciliator) ReconcileAndSave(ctx context.Context, fetchedAccounts []domain.Account, fetchedTransactions []domain.Transaction) (*domain.ReconcileResult, error) {
	storedAccounts, err := r.storedAccountsByNumber(ctx, fetchedAccounts)
	if err != nil {
		return nil, err
	}

	matched := ReconcileAccounts(fetchedAccounts, storedAccounts)
	created := 0
	for _, acc := range matched {
		if acc.StoreID == "" {
			created++
		}
	}

	log.Printf("level=info component=reconciliator msg=\"saving accounts\" fetched=%d matched_existing=%d new=%d",
		len(fetchedAccounts), len(matched)-created, created)

	accountDocs, err := store.ToDocs(matched)
	if err != nil {
		return nil, fmt.Errorf("encode accounts: %w", err)
	}
	savedDocs, saveErrs := r.accounts.BulkSave(ctx, accountDocs, r.concurrency)
	if len(saveErrs) > 0 {
		// Transactions must never be attached to an account that failed to
		// save; abort before any transaction work.
		errs := make([]error, 0, len(saveErrs))
		for _, re := range saveErrs {
			errs = append(errs, re)
		}
		return nil, fmt.Errorf("account persistence failed, aborting batch: %w", errors.Join(errs...))
	}
	savedAccounts, err := store.FromDocs[domain.Account](savedDocs)
	if err != nil {
		return nil, fmt.Errorf("decode saved accounts: %w", err)
	}
	if r.onAccountsSaved != nil {
		r.onAccountsSaved(savedAccounts)
	}

	idMap := make(map[string]string, len(savedAccounts))
	for _, acc := range savedAccounts {
		idMap[acc.VendorID] = acc.StoreID
	}

	linked := make([]domain.Transaction, len(fetchedTransactions))
	for i, tx := range fetchedTransactions {
		storeID, ok := idMap[tx.VendorAccountID]
		if !ok || storeID == "" {
			return nil, &UnlinkedTransactionError{VendorID: tx.VendorID, VendorAccountID: tx.VendorAccountID}
		}
		tx.Account = storeID
		linked[i] = tx
	}

	storedTxs, err := r.mostRecentTransactions(ctx, storedAccounts)
	if err != nil {
		return nil, err
	}

	newSession := IsFromNewKonnectorSession(fetchedAccounts, storedAccounts)
	toSave := ReconcileTransactions(linked, storedTxs, newSession)

	txDocs, err := store.ToDocs(toSave)
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	savedTxDocs, txErrs := r.transactions.BulkSave(ctx, txDocs, r.concurrency)

	result := &domain.ReconcileResult{
		Accounts:    savedAccounts,
		NewAccounts: created,
	}
	for i, doc := range savedTxDocs {
		if doc == nil {
			continue
		}
		var tx domain.Transaction
		if err := store.FromDoc(doc, &tx); err != nil {
			return nil, fmt.Errorf("decode saved transaction %d: %w", i, err)
		}
		result.Transactions = append(result.Transactions, tx)
	}
	for _, re := range txErrs {
		result.TransactionErrors = append(result.TransactionErrors, re.Error())
	}

	log.Printf("level=info component=reconciliator msg=\"batch reconciled\" accounts_saved=%d transactions_saved=%d transaction_failures=%d",
		len(result.Accounts), len(result.Transactions), len(txErrs))
	return result, nil
}

// storedAccountsByNumber fetches the stored accounts restricted to the
// number values present in the fetched batch.
func (r *Reconciliator) storedAccountsByNumber(ctx context.Context, fetched []domain.Account) ([]domain.Account, error) {
	numbers := make([]string, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, acc := range fetched {
		if acc.Number == "" || seen[acc.Number] {
			continue
		}
		seen[acc.Number] = true
		numbers = append(numbers, acc.Number)
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	docs, err := r.accounts.Query(ctx, store.QueryOptions{
		Selector: store.Selector{In: map[string][]string{"number": numbers}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch stored accounts: %w", err)
	}
	return store.FromDocs[domain.Account](docs)
}

// mostRecentTransactions fetches the stored transactions for the in-scope
// accounts, most recent first.
func (r *Reconciliator) mostRecentTransactions(ctx context.Context, accounts []domain.Account) ([]domain.Transaction, error) {
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.StoreID != "" {
			ids = append(ids, acc.StoreID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := r.transactions.Query(ctx, store.QueryOptions{
		Selector:   store.Selector{In: map[string][]string{"account": ids}},
		SortBy:     "date",
		Descending: true,
		Limit:      r.lookbackLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch stored transactions: %w", err)
	}
	return store.FromDocs[domain.Transaction](docs)
}
