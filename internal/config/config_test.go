package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.SyncBatchQueue != "reconciliation_service.sync_batches" {
		t.Errorf("SyncBatchQueue = %q, want default queue", cfg.SyncBatchQueue)
	}
	if cfg.EventsExchange != "reconciliation.events" {
		t.Errorf("EventsExchange = %q, want reconciliation.events", cfg.EventsExchange)
	}
	if cfg.BulkUpsertConcurrency != 30 {
		t.Errorf("BulkUpsertConcurrency = %d, want 30", cfg.BulkUpsertConcurrency)
	}
	if cfg.BatchIdempotencyTTLMin != 1440 {
		t.Errorf("BatchIdempotencyTTLMin = %d, want 1440", cfg.BatchIdempotencyTTLMin)
	}
	if cfg.RedisIdempotencyPrefix != "reconciliation:batch" {
		t.Errorf("RedisIdempotencyPrefix = %q, want reconciliation:batch", cfg.RedisIdempotencyPrefix)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")
	t.Setenv("PORT", "9090")
	t.Setenv("BULK_UPSERT_CONCURRENCY", "10")
	t.Setenv("INTERNAL_API_KEY", "s3cret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want the PORT override", cfg.ServerPort)
	}
	if cfg.BulkUpsertConcurrency != 10 {
		t.Errorf("BulkUpsertConcurrency = %d, want 10", cfg.BulkUpsertConcurrency)
	}
	if cfg.InternalAPIKey != "s3cret" {
		t.Errorf("InternalAPIKey = %q, want s3cret", cfg.InternalAPIKey)
	}
}

func TestLoadConfigCoercesInvalidNumbers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")
	t.Setenv("BULK_UPSERT_CONCURRENCY", "-5")
	t.Setenv("BATCH_IDEMPOTENCY_TTL_MINUTES", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BulkUpsertConcurrency != 30 {
		t.Errorf("BulkUpsertConcurrency = %d, want the default after coercion", cfg.BulkUpsertConcurrency)
	}
	if cfg.BatchIdempotencyTTLMin != 1440 {
		t.Errorf("BatchIdempotencyTTLMin = %d, want the default after coercion", cfg.BatchIdempotencyTTLMin)
	}
}
