package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ledgerbridge/reconciliation-service/internal/app"
	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/merge"
	"github.com/ledgerbridge/reconciliation-service/internal/recon"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

func newTestHandlers(t *testing.T) (*ReconciliationHandlers, *app.Service) {
	t.Helper()
	mem := store.NewMemoryStore()
	accounts := store.NewDoctype(mem, domain.AccountsCollection, store.AccountsConfig())
	transactions := store.NewDoctype(mem, domain.TransactionsCollection, store.TransactionsConfig())
	groups := store.NewDoctype(mem, domain.GroupsCollection, store.GroupsConfig())

	reconciliator := recon.NewReconciliator(accounts, transactions, 4)
	merger := merge.NewMerger(accounts, transactions, groups, &merge.LabelFuzzyMatcher{})
	service := app.NewService(reconciliator, merger, nil)
	return NewReconciliationHandlers(service), service
}

func batchBody(t *testing.T, batch domain.SyncBatch) *strings.Reader {
	t.Helper()
	raw, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	return strings.NewReader(string(raw))
}

func validBatch() domain.SyncBatch {
	return domain.SyncBatch{
		ConnectorID: "bank-connector",
		Accounts: []domain.Account{
			{VendorID: "va-1", Number: "123", Label: "CHECKING", InstitutionLabel: "Big Bank"},
		},
		Transactions: []domain.Transaction{
			{VendorID: "vt-1", VendorAccountID: "va-1", Date: "2023-06-15", Amount: -450, Label: "COFFEE"},
		},
	}
}

func TestReconcileBatchHandler(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", batchBody(t, validBatch()))
	rec := httptest.NewRecorder()
	h.ReconcileBatchHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccountsSaved     int `json:"accounts_saved"`
		NewAccounts       int `json:"new_accounts"`
		TransactionsSaved int `json:"transactions_saved"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccountsSaved != 1 || resp.NewAccounts != 1 || resp.TransactionsSaved != 1 {
		t.Errorf("response = %+v, want one account and one transaction saved", resp)
	}
}

func TestReconcileBatchHandlerBadBody(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", strings.NewReader("{oops"))
	rec := httptest.NewRecorder()
	h.ReconcileBatchHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReconcileBatchHandlerEmptyBatch(t *testing.T) {
	h, _ := newTestHandlers(t)

	batch := validBatch()
	batch.Accounts = nil
	req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", batchBody(t, batch))
	rec := httptest.NewRecorder()
	h.ReconcileBatchHandler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestReconcileBatchHandlerUnlinkedTransaction(t *testing.T) {
	h, _ := newTestHandlers(t)

	batch := validBatch()
	batch.Transactions[0].VendorAccountID = "va-unknown"
	req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", batchBody(t, batch))
	rec := httptest.NewRecorder()
	h.ReconcileBatchHandler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for a structural failure", rec.Code)
	}
}

type rejectingGuard struct{}

func (rejectingGuard) ClaimBatch(ctx context.Context, fingerprint string) (bool, error) {
	return false, nil
}

func TestReconcileBatchHandlerDuplicateDelivery(t *testing.T) {
	h, service := newTestHandlers(t)
	service.SetIdempotencyGuard(rejectingGuard{})

	req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", batchBody(t, validBatch()))
	rec := httptest.NewRecorder()
	h.ReconcileBatchHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestMergeDuplicatesHandlerDefaultsToDryRun(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/maintenance/merge-duplicates", nil)
	rec := httptest.NewRecorder()
	h.MergeDuplicatesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report domain.MergeReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.DryRun {
		t.Error("merge without dry_run parameter must default to a dry run")
	}
}

func TestMergeDuplicatesHandlerRejectsBadDryRun(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/maintenance/merge-duplicates?dry_run=maybe", nil)
	rec := httptest.NewRecorder()
	h.MergeDuplicatesHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteOrphansHandler(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/maintenance/delete-orphans", nil)
	rec := httptest.NewRecorder()
	h.DeleteOrphansHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Deleted != 0 {
		t.Errorf("deleted = %d, want 0 on an empty store", resp.Deleted)
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name        string
		requiredKey string
		providedKey string
		wantStatus  int
	}{
		{"open when unconfigured", "", "", http.StatusNoContent},
		{"matching key", "secret", "secret", http.StatusNoContent},
		{"missing key", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync/reconcile", nil)
			if tt.providedKey != "" {
				req.Header.Set("X-Internal-API-Key", tt.providedKey)
			}
			rec := httptest.NewRecorder()
			InternalAuthMiddleware(tt.requiredKey)(next).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthEndpointIsOpen(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := ReconciliationRoutes(h, "secret", "https://example.com/jwks")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without any credentials", rec.Code)
	}
}

func TestMaintenanceRequiresOperatorToken(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := ReconciliationRoutes(h, "secret", "https://example.com/jwks")

	req := httptest.NewRequest(http.MethodPost, "/maintenance/merge-duplicates", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without an Authorization header", rec.Code)
	}
}
