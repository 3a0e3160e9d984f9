/**
 * @description
 * This file defines the core banking domain models handled by the
 * reconciliation engine: bank accounts as reported by external collection
 * jobs, and the user-facing account groups that reference them.
 *
 * @notes
 * - The engine distinguishes two identifier spaces. `StoreID` is the
 *   document store's own stable identifier, assigned on first save.
 *   `VendorID` is issued by the collection job's session and is reissued
 *   whenever the job re-authenticates, so it must never be used as a
 *   long-lived key. The long-lived business key for an account is its
 *   bank-assigned `Number`.
 * - Monetary values are carried in the smallest currency unit as `int64`,
 *   which avoids floating-point inaccuracies with financial data.
 */

package domain

// Collection names used as domain identifiers in the document store.
const (
	AccountsCollection     = "bank.accounts"
	TransactionsCollection = "bank.operations"
	GroupsCollection       = "bank.groups"
)

// AccountTypeCreditCard marks accounts whose reported balance lags behind
// the coming balance.
const AccountTypeCreditCard = "CreditCard"

// Account represents one bank account as known to the store, or as freshly
// reported by a collection job (in which case StoreID is empty).
type Account struct {
	StoreID          string `json:"_id,omitempty"`
	VendorID         string `json:"vendorId"`
	Number           string `json:"number"`
	OriginalNumber   string `json:"originalNumber,omitempty"`
	IBAN             string `json:"iban,omitempty"`
	InstitutionLabel string `json:"institutionLabel"`
	Label            string `json:"label"`
	ShortLabel       string `json:"shortLabel,omitempty"`
	Type             string `json:"type"`
	Balance          int64  `json:"balance"`
	ComingBalance    *int64 `json:"comingBalance,omitempty"`
	Currency         string `json:"currency"`
}

// ReportedBalance returns the balance shown in operator-facing output.
// Credit cards report the coming balance when the bank provides one.
func (a Account) ReportedBalance() int64 {
	if a.Type == AccountTypeCreditCard && a.ComingBalance != nil {
		return *a.ComingBalance
	}
	return a.Balance
}

// Group is a user-facing named collection of account references. The
// duplicate merger rewrites references from a merged-away account to the
// surviving one.
type Group struct {
	StoreID  string   `json:"_id,omitempty"`
	Label    string   `json:"label"`
	Accounts []string `json:"accounts"`
}

// ReplaceAccountRef swaps every occurrence of oldID in the group's account
// list for newID and reports whether anything changed.
func (g *Group) ReplaceAccountRef(oldID, newID string) bool {
	changed := false
	for i, id := range g.Accounts {
		if id == oldID {
			g.Accounts[i] = newID
			changed = true
		}
	}
	return changed
}
