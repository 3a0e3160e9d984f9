/**
 * @description
 * AMQP intake for sync batches: collection jobs publish the accounts and
 * transactions they fetched; this consumer decodes the payload and hands
 * it to the service.
 *
 * @notes
 * - Structural failures (unlinked transaction, duplicate identity) are
 *   acknowledged and not retried: retrying cannot fix a data-modeling bug,
 *   and the failure event has already been published for the operator.
 * - Anything else is treated as transient and requeued.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/recon"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

// SyncBatchRoutingKey is the routing key collection jobs publish fetched
// batches under.
const SyncBatchRoutingKey = "sync.batch.fetched"

const batchHandleTimeout = 2 * time.Minute

// SyncBatchConsumer adapts the service to the AMQP handler signature.
type SyncBatchConsumer struct {
	service *Service
}

func (s *Service) SyncBatchConsumer() *SyncBatchConsumer {
	return &SyncBatchConsumer{service: s}
}

// HandleMessage processes one delivery. The return value drives ack (true)
// versus requeue (false).
func (c *SyncBatchConsumer) HandleMessage(body []byte) bool {
	var batch domain.SyncBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		log.Printf("level=error component=sync_consumer msg=\"undecodable batch payload; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchHandleTimeout)
	defer cancel()

	_, err := c.service.ReconcileSyncBatch(ctx, batch)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrDuplicateDelivery):
		return true
	case errors.Is(err, ErrEmptyBatch):
		log.Printf("level=error component=sync_consumer msg=\"batch without accounts; dropping\" connector_id=%s", batch.ConnectorID)
		return true
	case isStructural(err):
		log.Printf("level=error component=sync_consumer msg=\"structural reconciliation failure; not retrying\" connector_id=%s err=%v", batch.ConnectorID, err)
		return true
	default:
		log.Printf("level=warn component=sync_consumer msg=\"transient reconciliation failure; re-queuing\" connector_id=%s err=%v", batch.ConnectorID, err)
		return false
	}
}

// isStructural reports whether the failure indicates a data-modeling
// problem rather than a transient store condition.
func isStructural(err error) bool {
	var unlinked *recon.UnlinkedTransactionError
	if errors.As(err, &unlinked) {
		return true
	}
	var duplicate *store.DuplicateIdentityError
	return errors.As(err, &duplicate)
}
