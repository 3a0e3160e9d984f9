/**
 * @description
 * Typed errors raised by the reconciliation orchestrator.
 */

package recon

import "fmt"

// UnlinkedTransactionError reports a fetched transaction whose vendor
// account id has no entry in the vendorId->storeId map built from the
// persisted accounts. A transaction must never be saved without a
// resolvable owning account, so this aborts the whole batch.
type UnlinkedTransactionError struct {
	VendorID        string
	VendorAccountID string
}

func (e *UnlinkedTransactionError) Error() string {
	return fmt.Sprintf(
		"transaction %s cannot be linked: no saved account for vendor account id %q",
		e.VendorID, e.VendorAccountID,
	)
}
