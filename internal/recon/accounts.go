/**
 * @description
 * This file implements the account reconciliator: a pure matching step that
 * pairs freshly-fetched accounts with stored accounts by their bank-assigned
 * number, and the new-session detector the transaction reconciliator relies
 * on. No I/O and no mutation happens here.
 */

package recon

import "github.com/ledgerbridge/reconciliation-service/internal/domain"

// ReconcileAccounts matches each fetched account against the stored
// accounts by number. On a match the stored account's store id is carried
// over so the subsequent upsert updates in place; otherwise the store id
// stays empty and the upsert creates.
func ReconcileAccounts(fetched, stored []domain.Account) []domain.Account {
	byNumber := make(map[string]domain.Account, len(stored))
	for _, acc := range stored {
		byNumber[acc.Number] = acc
	}

	matched := make([]domain.Account, len(fetched))
	for i, acc := range fetched {
		if existing, ok := byNumber[acc.Number]; ok {
			acc.StoreID = existing.StoreID
			// The user's own label survives a refetch.
			if acc.ShortLabel == "" {
				acc.ShortLabel = existing.ShortLabel
			}
		}
		matched[i] = acc
	}
	return matched
}

// IsFromNewKonnectorSession reports whether the collection job was
// re-authenticated since the stored accounts were written: some fetched
// account matches a stored one by number but carries a different vendor id.
// A new session reissues vendor ids for transactions already stored under
// the old ones, which the transaction reconciliator must guard against.
func IsFromNewKonnectorSession(fetched, stored []domain.Account) bool {
	byNumber := make(map[string]domain.Account, len(stored))
	for _, acc := range stored {
		byNumber[acc.Number] = acc
	}
	for _, acc := range fetched {
		existing, ok := byNumber[acc.Number]
		if ok && existing.VendorID != acc.VendorID {
			return true
		}
	}
	return false
}
