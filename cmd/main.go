/**
 * @description
 * This is the main entry point for the reconciliation-service. It is
 * responsible for initializing all components of the service, including
 * configuration, database connection, document store, message brokers, the
 * reconciliation engine, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/merge,
 *   internal/recon, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerbridge/reconciliation-service/internal/api"
	"github.com/ledgerbridge/reconciliation-service/internal/app"
	"github.com/ledgerbridge/reconciliation-service/internal/config"
	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/merge"
	"github.com/ledgerbridge/reconciliation-service/internal/recon"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
	rmrabbit "github.com/ledgerbridge/reconciliation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting reconciliation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Bulk upserts fan out concurrently, so the pool needs headroom above
	// the configured upsert concurrency.
	poolConfig.MaxConns = int32(cfg.BulkUpsertConcurrency * 2)
	if poolConfig.MaxConns < 20 {
		poolConfig.MaxConns = 20
	}
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the document store (ensures the documents table exists).
	docStore, err := store.NewPostgresStore(context.Background(), dbpool)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"document store init failed\" err=%v", err)
	}

	accounts := store.NewDoctype(docStore, domain.AccountsCollection, store.AccountsConfig())
	transactions := store.NewDoctype(docStore, domain.TransactionsCollection, store.TransactionsConfig())
	groups := store.NewDoctype(docStore, domain.GroupsCollection, store.GroupsConfig())

	reconciliator := recon.NewReconciliator(accounts, transactions, cfg.BulkUpsertConcurrency)
	reconciliator.SetLookbackLimit(cfg.MostRecentTxLookbackLimit)
	merger := merge.NewMerger(accounts, transactions, groups, &merge.LabelFuzzyMatcher{
		MaxDistance: cfg.FuzzyMatchMaxDistance,
	})

	// Initialize the RabbitMQ producer to publish result events.
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = nil
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var service *app.Service
	if rabbitProducer != nil {
		service = app.NewService(reconciliator, merger, rabbitProducer)
	} else {
		service = app.NewService(reconciliator, merger, nil)
	}
	service.SetEventsExchange(cfg.EventsExchange)

	// Redis backs the batch idempotency guard. It is optional: without it
	// every delivery is reconciled, which the upsert primitive tolerates.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; batch idempotency guard disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; batch idempotency guard disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; batch idempotency guard disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	if redisClient != nil {
		service.SetIdempotencyGuard(app.NewRedisBatchIdempotencyGuard(
			redisClient,
			cfg.RedisIdempotencyPrefix,
			time.Duration(cfg.BatchIdempotencyTTLMin)*time.Minute,
		))
	}

	// Initialize the API handlers.
	handlers := api.NewReconciliationHandlers(service)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.ReconciliationRoutes(handlers, cfg.InternalAPIKey, cfg.OperatorJWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the sync batch consumer: bind the queue to the batch routing
	// key and ensure graceful shutdown.
	batchConsumer := service.SyncBatchConsumer()

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	batchBindings := map[string]func([]byte) bool{
		app.SyncBatchRoutingKey: batchConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings("sync.events", cfg.SyncBatchQueue, batchBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"sync batch consumer start failed\" err=%v", err)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
