/**
 * @description
 * This file contains the HTTP handlers for the reconciliation-service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and write the HTTP response. They act as the bridge between the web layer
 * and the reconciliation logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/recon, internal/store: For
 *   service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ledgerbridge/reconciliation-service/internal/app"
	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/recon"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

// ReconciliationHandlers holds the application service that handlers use.
type ReconciliationHandlers struct {
	service *app.Service
}

func NewReconciliationHandlers(service *app.Service) *ReconciliationHandlers {
	return &ReconciliationHandlers{service: service}
}

// reconcileResponse is sent back to the collection job after a batch has
// been reconciled synchronously over HTTP.
type reconcileResponse struct {
	AccountsSaved     int      `json:"accounts_saved"`
	NewAccounts       int      `json:"new_accounts"`
	TransactionsSaved int      `json:"transactions_saved"`
	RecordErrors      []string `json:"record_errors,omitempty"`
}

type deleteOrphansResponse struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// ReconcileBatchHandler ingests one sync batch over HTTP. It is the
// synchronous twin of the AMQP consumer, used by collection jobs that want
// the result inline.
func (h *ReconciliationHandlers) ReconcileBatchHandler(w http.ResponseWriter, r *http.Request) {
	var batch domain.SyncBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ReconcileSyncBatch(r.Context(), batch)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reconcile outcome=failed connector_id=%s err=%v", batch.ConnectorID, err)
		switch {
		case errors.Is(err, app.ErrEmptyBatch):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrDuplicateDelivery):
			h.writeError(w, http.StatusConflict, err.Error())
		case isStructuralError(err):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, reconcileResponse{
		AccountsSaved:     len(result.Accounts),
		NewAccounts:       result.NewAccounts,
		TransactionsSaved: len(result.Transactions),
		RecordErrors:      result.TransactionErrors,
	})
}

// MergeDuplicatesHandler runs the duplicate account detector. The dry_run
// query parameter defaults to true so an accidental call never mutates.
func (h *ReconciliationHandlers) MergeDuplicatesHandler(w http.ResponseWriter, r *http.Request) {
	dryRun := true
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		dryRun = parsed
	}

	operatorID, _ := GetOperatorID(r.Context())
	log.Printf("level=info component=api endpoint=merge_duplicates dry_run=%t operator_id=%s", dryRun, operatorID)

	report, err := h.service.MergeDuplicateAccounts(r.Context(), dryRun)
	if err != nil {
		log.Printf("level=error component=api endpoint=merge_duplicates outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// DeleteOrphansHandler reaps transactions whose account no longer exists.
func (h *ReconciliationHandlers) DeleteOrphansHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, _ := GetOperatorID(r.Context())
	log.Printf("level=info component=api endpoint=delete_orphans operator_id=%s", operatorID)

	deleted, errs := h.service.DeleteOrphanTransactions(r.Context())
	resp := deleteOrphansResponse{Deleted: deleted}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// isStructuralError reports whether a reconciliation failure is caused by
// the payload rather than the infrastructure.
func isStructuralError(err error) bool {
	var unlinked *recon.UnlinkedTransactionError
	if errors.As(err, &unlinked) {
		return true
	}
	var duplicate *store.DuplicateIdentityError
	return errors.As(err, &duplicate)
}

// writeJSON is a helper for writing JSON responses.
func (h *ReconciliationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ReconciliationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
