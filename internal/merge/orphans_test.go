package merge

import (
	"context"
	"testing"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
)

func TestDeleteOrphanTransactions(t *testing.T) {
	m, mem := newTestMerger(t)

	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-a", Number: "123"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t1", VendorID: "v1", Account: "acc-a", Date: "2023-06-15"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t2", VendorID: "v2", Account: "acc-gone", Date: "2023-05-01"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t3", VendorID: "v3", Account: "acc-gone", Date: "2023-05-02"})

	deleted, errs := m.DeleteOrphanTransactions(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, _ := mem.FetchAll(context.Background(), domain.TransactionsCollection)
	if len(remaining) != 1 || remaining[0].ID() != "t1" {
		t.Errorf("remaining transactions = %v, want only t1", remaining)
	}
}

func TestDeleteOrphanTransactionsNothingToDo(t *testing.T) {
	m, mem := newTestMerger(t)

	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-a", Number: "123"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t1", VendorID: "v1", Account: "acc-a", Date: "2023-06-15"})

	deleted, errs := m.DeleteOrphanTransactions(context.Background())
	if deleted != 0 || len(errs) != 0 {
		t.Errorf("got (%d, %v), want (0, none)", deleted, errs)
	}
}
