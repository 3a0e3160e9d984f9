/**
 * @description
 * Operator CLI for the duplicate account merger. It connects straight to
 * the document store and runs the same detection and merge pipeline the
 * maintenance endpoint exposes, defaulting to a dry run so the operator
 * can inspect the plan before executing it.
 */

package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerbridge/reconciliation-service/internal/config"
	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/merge"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "display the merge plan without mutating anything")
	deleteOrphans := flag.Bool("delete-orphans", false, "also delete transactions whose account no longer exists")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=mergeaccounts msg=\"config load failed\" err=%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=mergeaccounts msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=mergeaccounts msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()

	docStore, err := store.NewPostgresStore(ctx, dbpool)
	if err != nil {
		log.Fatalf("level=fatal component=mergeaccounts msg=\"document store init failed\" err=%v", err)
	}

	accounts := store.NewDoctype(docStore, domain.AccountsCollection, store.AccountsConfig())
	transactions := store.NewDoctype(docStore, domain.TransactionsCollection, store.TransactionsConfig())
	groups := store.NewDoctype(docStore, domain.GroupsCollection, store.GroupsConfig())

	merger := merge.NewMerger(accounts, transactions, groups, &merge.LabelFuzzyMatcher{
		MaxDistance: cfg.FuzzyMatchMaxDistance,
	})

	report, err := merger.Run(ctx, *dryRun)
	if err != nil {
		log.Fatalf("level=fatal component=mergeaccounts msg=\"merge run failed\" err=%v", err)
	}

	log.Printf("level=info component=mergeaccounts msg=\"merge run finished\" dry_run=%t merged=%d need_review=%d errors=%d",
		report.DryRun, len(report.Merged), len(report.NeedReview), len(report.Errors))
	for _, pairErr := range report.Errors {
		log.Printf("level=error component=mergeaccounts msg=\"pair failed\" err=%s", pairErr)
	}

	if *deleteOrphans {
		if *dryRun {
			log.Println("level=info component=mergeaccounts msg=\"skipping orphan cleanup in dry run\"")
			return
		}
		deleted, errs := merger.DeleteOrphanTransactions(ctx)
		log.Printf("level=info component=mergeaccounts msg=\"orphan cleanup finished\" deleted=%d errors=%d", deleted, len(errs))
		for _, err := range errs {
			log.Printf("level=error component=mergeaccounts msg=\"orphan delete failed\" err=%v", err)
		}
	}
}
