/**
 * @description
 * This file defines the transaction ("operation") domain model. A
 * transaction is one ledger entry tied to exactly one account.
 *
 * @notes
 * - `Account` holds the store id of the owning account. It is resolved by
 *   the reconciliation orchestrator from `VendorAccountID` and is never
 *   taken verbatim from a collection job.
 * - Dates travel as ISO-8601 strings because that is what collection jobs
 *   send; a date the engine cannot parse must degrade to a warning, not a
 *   decoding failure. Day precision is what every cutoff comparison uses.
 */

package domain

import "time"

// Transaction is one ledger entry as stored, or as freshly fetched by a
// collection job (StoreID and Account empty until reconciled).
type Transaction struct {
	StoreID             string `json:"_id,omitempty"`
	VendorID            string `json:"vendorId"`
	VendorAccountID     string `json:"vendorAccountId"`
	Account             string `json:"account,omitempty"`
	Date                string `json:"date"`
	RealisationDate     string `json:"realisationDate,omitempty"`
	Amount              int64  `json:"amount"`
	Label               string `json:"label"`
	ShortLabel          string `json:"shortLabel,omitempty"`
	OriginalBankLabel   string `json:"originalBankLabel,omitempty"`
	AutomaticCategoryID string `json:"automaticCategoryId,omitempty"`
	Currency            string `json:"currency"`
}

// EffectiveDate is the date used when ranking transactions during a merge:
// the realisation date when the bank reports one, the booking date
// otherwise.
func (t Transaction) EffectiveDate() string {
	if t.RealisationDate != "" {
		return t.RealisationDate
	}
	return t.Date
}

// Day truncates an ISO-8601 date string to day precision (YYYY-MM-DD) and
// reports whether the result is a parseable calendar day. Callers decide
// what a false result means; the reconciler treats it as "not after any
// cutoff".
func Day(date string) (string, bool) {
	if len(date) < 10 {
		return "", false
	}
	day := date[:10]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return "", false
	}
	return day, true
}

// DayAfter reports whether date falls strictly after the minDay cutoff,
// comparing at day precision. An empty cutoff never excludes anything. The
// second return value is false when the date could not be parsed, in which
// case the first is always false.
func DayAfter(date, minDay string) (after bool, ok bool) {
	if minDay == "" {
		return true, true
	}
	day, ok := Day(date)
	if !ok {
		return false, false
	}
	return day > minDay, true
}
