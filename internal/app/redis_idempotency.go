package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBatchIdempotencyGuard short-circuits exact re-deliveries of a sync
// batch using a fingerprint key with SET NX and a TTL. It is best effort:
// reconciliation itself is idempotent through the upsert primitive, so a
// Redis outage degrades to plain re-reconciliation, never to data loss.
type RedisBatchIdempotencyGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisBatchIdempotencyGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisBatchIdempotencyGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "reconciliation:batch"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisBatchIdempotencyGuard{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// ClaimBatch reports whether this fingerprint is seen for the first time
// within the TTL window. Errors are returned so the caller can decide to
// proceed anyway.
func (g *RedisBatchIdempotencyGuard) ClaimBatch(ctx context.Context, fingerprint string) (bool, error) {
	if g == nil || g.client == nil || strings.TrimSpace(fingerprint) == "" {
		return true, nil
	}
	key := g.prefix + ":" + fingerprint
	return g.client.SetNX(ctx, key, "1", g.ttl).Result()
}
