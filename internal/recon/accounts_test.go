package recon

import (
	"testing"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
)

func TestReconcileAccountsCarriesStoreID(t *testing.T) {
	stored := []domain.Account{
		{StoreID: "acc-1", Number: "123", VendorID: "old-7", ShortLabel: "Joint account"},
	}
	fetched := []domain.Account{
		{Number: "123", VendorID: "new-9", Label: "COMPTE COURANT"},
		{Number: "456", VendorID: "new-10", Label: "LIVRET A"},
	}

	matched := ReconcileAccounts(fetched, stored)
	if len(matched) != 2 {
		t.Fatalf("got %d accounts, want 2", len(matched))
	}
	if matched[0].StoreID != "acc-1" {
		t.Errorf("matched[0].StoreID = %q, want acc-1", matched[0].StoreID)
	}
	if matched[0].VendorID != "new-9" {
		t.Errorf("matched[0].VendorID = %q, want the fresh vendor id", matched[0].VendorID)
	}
	if matched[0].ShortLabel != "Joint account" {
		t.Errorf("matched[0].ShortLabel = %q, want the stored user label", matched[0].ShortLabel)
	}
	if matched[1].StoreID != "" {
		t.Errorf("matched[1].StoreID = %q, want empty for an unknown number", matched[1].StoreID)
	}
}

func TestIsFromNewKonnectorSession(t *testing.T) {
	tests := []struct {
		name    string
		fetched []domain.Account
		stored  []domain.Account
		want    bool
	}{
		{
			name:    "same vendor ids",
			fetched: []domain.Account{{Number: "123", VendorID: "v1"}},
			stored:  []domain.Account{{Number: "123", VendorID: "v1"}},
			want:    false,
		},
		{
			name:    "reissued vendor id",
			fetched: []domain.Account{{Number: "123", VendorID: "v2"}},
			stored:  []domain.Account{{Number: "123", VendorID: "v1"}},
			want:    true,
		},
		{
			name:    "no overlap by number",
			fetched: []domain.Account{{Number: "456", VendorID: "v2"}},
			stored:  []domain.Account{{Number: "123", VendorID: "v1"}},
			want:    false,
		},
		{
			name:    "nothing stored yet",
			fetched: []domain.Account{{Number: "123", VendorID: "v1"}},
			stored:  nil,
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFromNewKonnectorSession(tt.fetched, tt.stored); got != tt.want {
				t.Errorf("IsFromNewKonnectorSession() = %t, want %t", got, tt.want)
			}
		})
	}
}
