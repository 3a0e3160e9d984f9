package merge

import (
	"context"
	"testing"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

func newTestMerger(t *testing.T) (*Merger, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	accounts := store.NewDoctype(mem, domain.AccountsCollection, store.AccountsConfig())
	transactions := store.NewDoctype(mem, domain.TransactionsCollection, store.TransactionsConfig())
	groups := store.NewDoctype(mem, domain.GroupsCollection, store.GroupsConfig())
	return NewMerger(accounts, transactions, groups, &LabelFuzzyMatcher{}), mem
}

func seed[T any](t *testing.T, mem *store.MemoryStore, collection string, v T) {
	t.Helper()
	doc, err := store.ToDoc(v)
	if err != nil {
		t.Fatalf("encode %s: %v", collection, err)
	}
	if _, err := mem.Create(context.Background(), collection, doc); err != nil {
		t.Fatalf("seed %s: %v", collection, err)
	}
}

func TestMatchOnePriority(t *testing.T) {
	tests := []struct {
		name       string
		account    domain.Account
		candidate  domain.Account
		wantMethod string
	}{
		{
			name:       "original number beats iban",
			account:    domain.Account{StoreID: "a", OriginalNumber: "111", IBAN: "FR76 1111"},
			candidate:  domain.Account{StoreID: "b", OriginalNumber: "111", IBAN: "FR7611 11"},
			wantMethod: MethodOriginalNumber,
		},
		{
			name:       "iban normalized",
			account:    domain.Account{StoreID: "a", IBAN: "fr76 3000 6000"},
			candidate:  domain.Account{StoreID: "b", IBAN: "FR7630006000"},
			wantMethod: MethodIBAN,
		},
		{
			name:       "number",
			account:    domain.Account{StoreID: "a", Number: "123"},
			candidate:  domain.Account{StoreID: "b", Number: "123"},
			wantMethod: MethodNumber,
		},
		{
			name:       "vendor id",
			account:    domain.Account{StoreID: "a", VendorID: "v1"},
			candidate:  domain.Account{StoreID: "b", VendorID: "v1"},
			wantMethod: MethodVendorID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := MatchOne(tt.account, []domain.Account{tt.candidate}, nil)
			if match == nil {
				t.Fatal("expected a match")
			}
			if match.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", match.Method, tt.wantMethod)
			}
			if !IsStrictMethod(match.Method) {
				t.Errorf("method %q should be strict", match.Method)
			}
		})
	}
}

func TestMatchOneNoMatch(t *testing.T) {
	account := domain.Account{StoreID: "a", Number: "123", IBAN: "FR761"}
	candidates := []domain.Account{{StoreID: "b", Number: "456", IBAN: "FR762"}}
	if match := MatchOne(account, candidates, nil); match != nil {
		t.Errorf("expected no match, got %+v", match)
	}
}

func TestLabelFuzzyMatcherIsNotStrict(t *testing.T) {
	matcher := &LabelFuzzyMatcher{MaxDistance: 3}
	account := domain.Account{StoreID: "a", Label: "Compte Couran", InstitutionLabel: "Big Bank"}
	candidates := []domain.Account{
		{StoreID: "b", Label: "Compte Courant", InstitutionLabel: "Big Bank"},
		{StoreID: "c", Label: "Compte Courant", InstitutionLabel: "Other Bank"},
	}

	match := MatchOne(account, candidates, matcher)
	if match == nil {
		t.Fatal("expected a fuzzy match")
	}
	if match.Method != MethodFuzzyLabel {
		t.Fatalf("Method = %q, want %q", match.Method, MethodFuzzyLabel)
	}
	if IsStrictMethod(match.Method) {
		t.Error("fuzzy match must never qualify for automatic merge")
	}
	if match.Other.StoreID != "b" {
		t.Errorf("matched %q, want the same-institution candidate", match.Other.StoreID)
	}
}

func TestWinnerLoser(t *testing.T) {
	a := domain.Account{StoreID: "acc-a"}
	b := domain.Account{StoreID: "acc-b"}
	txs := func(accountID string, n int) []domain.Transaction {
		out := make([]domain.Transaction, n)
		for i := range out {
			out[i] = domain.Transaction{Account: accountID}
		}
		return out
	}

	tests := []struct {
		name       string
		txByAcc    map[string][]domain.Transaction
		wantWinner string
	}{
		{"more transactions wins", map[string][]domain.Transaction{"acc-a": txs("acc-a", 3), "acc-b": txs("acc-b", 10)}, "acc-b"},
		{"first wins when ahead", map[string][]domain.Transaction{"acc-a": txs("acc-a", 10), "acc-b": txs("acc-b", 3)}, "acc-a"},
		{"tie breaks on smaller id", map[string][]domain.Transaction{"acc-a": txs("acc-a", 5), "acc-b": txs("acc-b", 5)}, "acc-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w1, l1 := WinnerLoser(a, b, tt.txByAcc)
			w2, l2 := WinnerLoser(b, a, tt.txByAcc)
			if w1.StoreID != tt.wantWinner || w2.StoreID != tt.wantWinner {
				t.Errorf("winner = %q/%q, want %q regardless of argument order", w1.StoreID, w2.StoreID, tt.wantWinner)
			}
			if l1.StoreID == tt.wantWinner || l2.StoreID == tt.wantWinner {
				t.Error("loser must not be the winner")
			}
		})
	}
}

func TestBuildMergeMutation(t *testing.T) {
	winner := domain.Account{StoreID: "acc-w", Label: "CHECKING"}
	loser := domain.Account{StoreID: "acc-l", Label: "CHECKING"}

	txByAccount := map[string][]domain.Transaction{
		"acc-w": {
			{StoreID: "t1", Account: "acc-w", Date: "2023-06-15"},
			{StoreID: "t2", Account: "acc-w", Date: "2023-04-01"},
		},
		"acc-l": {
			// Before the winner's split day: duplicate history, left behind.
			{StoreID: "t3", Account: "acc-l", Date: "2023-05-01"},
			// Strictly after: missed by the winner, reassigned.
			{StoreID: "t4", Account: "acc-l", Date: "2023-07-01"},
			// Same day as the cutoff: not strictly after, left behind.
			{StoreID: "t5", Account: "acc-l", Date: "2023-06-15"},
			// Unparseable: warned about, left behind.
			{StoreID: "t6", Account: "acc-l", Date: "unknown"},
		},
	}
	groupsByAccount := map[string][]domain.Group{
		"acc-l": {{StoreID: "g1", Label: "My banks", Accounts: []string{"acc-l", "acc-x"}}},
	}

	mutation := BuildMergeMutation(winner, loser, txByAccount, groupsByAccount)

	if len(mutation.ToUpdate.Transactions) != 1 {
		t.Fatalf("got %d transactions to reassign, want 1", len(mutation.ToUpdate.Transactions))
	}
	moved := mutation.ToUpdate.Transactions[0]
	if moved.StoreID != "t4" {
		t.Errorf("reassigned %q, want t4", moved.StoreID)
	}
	if moved.Account != "acc-w" {
		t.Errorf("reassigned transaction points at %q, want the winner", moved.Account)
	}

	if len(mutation.ToUpdate.Groups) != 1 {
		t.Fatalf("got %d groups to rewrite, want 1", len(mutation.ToUpdate.Groups))
	}
	group := mutation.ToUpdate.Groups[0]
	if group.Accounts[0] != "acc-w" || group.Accounts[1] != "acc-x" {
		t.Errorf("group accounts = %v, want the loser replaced", group.Accounts)
	}

	if len(mutation.ToDelete.Accounts) != 1 || mutation.ToDelete.Accounts[0].StoreID != "acc-l" {
		t.Errorf("ToDelete = %+v, want only the loser", mutation.ToDelete.Accounts)
	}
}

func TestBuildMergeMutationWinnerWithoutHistory(t *testing.T) {
	winner := domain.Account{StoreID: "acc-w"}
	loser := domain.Account{StoreID: "acc-l"}
	txByAccount := map[string][]domain.Transaction{
		"acc-l": {{StoreID: "t1", Account: "acc-l", Date: "2020-01-01"}},
	}

	// Empty cutoff: everything parseable moves over.
	mutation := BuildMergeMutation(winner, loser, txByAccount, nil)
	if len(mutation.ToUpdate.Transactions) != 1 {
		t.Errorf("got %d reassigned transactions, want 1", len(mutation.ToUpdate.Transactions))
	}
}

func TestMergerRunDryRunTouchesNothing(t *testing.T) {
	m, mem := newTestMerger(t)

	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-a", Number: "123", Label: "CHECKING", InstitutionLabel: "Big Bank"})
	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-b", Number: "123", Label: "CHECKING", InstitutionLabel: "Big Bank"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t1", VendorID: "v1", Account: "acc-a", Date: "2023-06-15"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t2", VendorID: "v2", Account: "acc-b", Date: "2023-07-01"})

	report, err := m.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.DryRun {
		t.Error("report not marked as dry run")
	}
	if len(report.Merged) != 1 {
		t.Fatalf("got %d planned merges, want 1", len(report.Merged))
	}

	accounts, _ := mem.FetchAll(context.Background(), domain.AccountsCollection)
	if len(accounts) != 2 {
		t.Errorf("dry run deleted accounts: %d left, want 2", len(accounts))
	}
}

func TestMergerRunExecute(t *testing.T) {
	m, mem := newTestMerger(t)

	// acc-a holds one transaction, acc-b none: acc-a wins.
	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-a", Number: "123", Label: "CHECKING", InstitutionLabel: "Big Bank"})
	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-b", Number: "123", Label: "CHECKING", InstitutionLabel: "Big Bank"})
	seed(t, mem, domain.TransactionsCollection, domain.Transaction{StoreID: "t1", VendorID: "v1", Account: "acc-a", Date: "2023-06-15"})
	seed(t, mem, domain.GroupsCollection, domain.Group{StoreID: "g1", Label: "All", Accounts: []string{"acc-b"}})

	report, err := m.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Merged) != 1 {
		t.Fatalf("got %d merges, want 1", len(report.Merged))
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected pair errors: %v", report.Errors)
	}

	accounts, _ := mem.FetchAll(context.Background(), domain.AccountsCollection)
	if len(accounts) != 1 || accounts[0].ID() != "acc-a" {
		t.Errorf("surviving accounts = %v, want only acc-a", accounts)
	}

	groupDocs, _ := mem.FetchAll(context.Background(), domain.GroupsCollection)
	groups, err := store.FromDocs[domain.Group](groupDocs)
	if err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Accounts) != 1 || groups[0].Accounts[0] != "acc-a" {
		t.Errorf("groups = %+v, want the reference rewritten to acc-a", groups)
	}
}

func TestMergerRunFuzzyOnlyPairsNeedReview(t *testing.T) {
	m, mem := newTestMerger(t)

	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-a", Number: "123", Label: "Compte Courant", InstitutionLabel: "Big Bank"})
	seed(t, mem, domain.AccountsCollection, domain.Account{StoreID: "acc-b", Number: "456", Label: "Compte Couran", InstitutionLabel: "Big Bank"})

	report, err := m.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Merged) != 0 {
		t.Errorf("got %d merges, want 0 (fuzzy never auto-merges)", len(report.Merged))
	}
	if len(report.NeedReview) != 1 {
		t.Fatalf("got %d review candidates, want 1", len(report.NeedReview))
	}
	if report.NeedReview[0].Method != MethodFuzzyLabel {
		t.Errorf("review method = %q, want %q", report.NeedReview[0].Method, MethodFuzzyLabel)
	}

	accounts, _ := mem.FetchAll(context.Background(), domain.AccountsCollection)
	if len(accounts) != 2 {
		t.Errorf("accounts mutated by a review-only run: %d left, want 2", len(accounts))
	}
}
