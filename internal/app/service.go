/**
 * @description
 * This file implements the application service tying the engine together:
 * it receives sync batches from collection jobs (via AMQP or HTTP), guards
 * against exact re-deliveries, runs the reconciliation orchestrator,
 * publishes result events, and exposes the maintenance operations
 * (duplicate merging, orphan cleanup).
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/merge"
	"github.com/ledgerbridge/reconciliation-service/internal/recon"
	"github.com/ledgerbridge/reconciliation-service/pkg/rabbitmq"
)

// EventsExchange is the topic exchange reconciliation result events are
// published to.
const EventsExchange = "reconciliation.events"

// ErrDuplicateDelivery marks a sync batch whose exact payload was already
// processed within the idempotency window.
var ErrDuplicateDelivery = errors.New("sync batch already processed")

// ErrEmptyBatch marks a malformed delivery with no accounts to reconcile.
var ErrEmptyBatch = errors.New("sync batch has no accounts")

// IdempotencyGuard decides whether a batch fingerprint is fresh.
type IdempotencyGuard interface {
	ClaimBatch(ctx context.Context, fingerprint string) (bool, error)
}

// Service is the engine's application layer.
type Service struct {
	reconciliator  *recon.Reconciliator
	merger         *merge.Merger
	publisher      rabbitmq.Publisher
	idempotency    IdempotencyGuard
	eventsExchange string
}

func NewService(reconciliator *recon.Reconciliator, merger *merge.Merger, publisher rabbitmq.Publisher) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		reconciliator:  reconciliator,
		merger:         merger,
		publisher:      publisher,
		eventsExchange: EventsExchange,
	}
}

// SetEventsExchange overrides the exchange result events are published to.
func (s *Service) SetEventsExchange(exchange string) {
	if exchange != "" {
		s.eventsExchange = exchange
	}
}

// SetIdempotencyGuard installs the re-delivery guard. Without one, every
// delivery is reconciled (which is safe, just wasteful).
func (s *Service) SetIdempotencyGuard(guard IdempotencyGuard) {
	s.idempotency = guard
}

// BatchFingerprint derives a stable fingerprint for one sync batch from
// the connector id and the fetched payload. The fetch timestamp is
// excluded so a re-delivery of identical content hashes identically.
func BatchFingerprint(batch domain.SyncBatch) string {
	h := sha256.New()
	h.Write([]byte(batch.ConnectorID))
	h.Write([]byte{0})
	h.Write([]byte(batch.SessionID))
	h.Write([]byte{0})
	accounts, _ := json.Marshal(batch.Accounts)
	h.Write(accounts)
	transactions, _ := json.Marshal(batch.Transactions)
	h.Write(transactions)
	return hex.EncodeToString(h.Sum(nil))
}

// ReconcileSyncBatch runs one batch through the orchestrator. Duplicate
// deliveries return ErrDuplicateDelivery; structural failures are published
// as failure events and returned.
func (s *Service) ReconcileSyncBatch(ctx context.Context, batch domain.SyncBatch) (*domain.ReconcileResult, error) {
	if len(batch.Accounts) == 0 {
		return nil, fmt.Errorf("connector %q: %w", batch.ConnectorID, ErrEmptyBatch)
	}

	fingerprint := BatchFingerprint(batch)
	if s.idempotency != nil {
		fresh, err := s.idempotency.ClaimBatch(ctx, fingerprint)
		if err != nil {
			log.Printf("level=warn component=service msg=\"idempotency guard unavailable; proceeding\" connector_id=%s err=%v", batch.ConnectorID, err)
		} else if !fresh {
			log.Printf("level=info component=service msg=\"duplicate batch delivery skipped\" connector_id=%s fingerprint=%s", batch.ConnectorID, fingerprint[:12])
			return nil, ErrDuplicateDelivery
		}
	}

	log.Printf("level=info component=service msg=\"reconciling sync batch\" connector_id=%s accounts=%d transactions=%d",
		batch.ConnectorID, len(batch.Accounts), len(batch.Transactions))

	result, err := s.reconciliator.ReconcileAndSave(ctx, batch.Accounts, batch.Transactions)
	if err != nil {
		s.publishEvent(ctx, "reconciliation.failed", rabbitmq.ReconcileEvent{
			ConnectorID: batch.ConnectorID,
			SessionID:   batch.SessionID,
			Error:       err.Error(),
			Timestamp:   time.Now().UTC(),
		})
		return nil, err
	}

	log.Printf("level=info component=service msg=\"batch reconciled\" connector_id=%s created_accounts=%d saved_transactions=%d record_failures=%d",
		batch.ConnectorID, result.NewAccounts, len(result.Transactions), len(result.TransactionErrors))

	s.publishEvent(ctx, "reconciliation.completed", rabbitmq.ReconcileEvent{
		ConnectorID:       batch.ConnectorID,
		SessionID:         batch.SessionID,
		AccountsSaved:     len(result.Accounts),
		NewAccounts:       result.NewAccounts,
		TransactionsSaved: len(result.Transactions),
		RecordFailures:    len(result.TransactionErrors),
		Timestamp:         time.Now().UTC(),
	})
	return result, nil
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, event rabbitmq.ReconcileEvent) {
	if err := s.publisher.Publish(ctx, s.eventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"result event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// MergeDuplicateAccounts runs the duplicate detector & merger.
func (s *Service) MergeDuplicateAccounts(ctx context.Context, dryRun bool) (*domain.MergeReport, error) {
	return s.merger.Run(ctx, dryRun)
}

// DeleteOrphanTransactions reaps transactions left behind on deleted
// accounts.
func (s *Service) DeleteOrphanTransactions(ctx context.Context) (int, []error) {
	return s.merger.DeleteOrphanTransactions(ctx)
}
