package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
)

func main() {
	if app.InTestMode() {
		return
	}
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StorageDriver != app.DriverPostgres {
		fmt.Println("→ STORAGE_DRIVER is not postgres; the in-memory store seeds itself at startup")
		os.Exit(0)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	for _, name := range applied {
		fmt.Println("  applied", name)
	}

	services, err := app.NewServices(cfg, app.Dependencies{Pool: pool, Logger: app.NewLogger(cfg)})
	if err != nil {
		log.Fatalf("wire services: %v", err)
	}

	fmt.Println("→ Seeding chart of accounts...")
	created, err := services.Ledger.SeedChart(ctx, accounting.DefaultChart, "seed")
	if err != nil {
		log.Fatalf("seed chart: %v", err)
	}
	fmt.Printf("  %d account(s) created\n", created)

	fmt.Println("→ Seeding account mappings...")
	repo := mappings.NewRepository(pool)
	configured := cfg.AccountMappings()
	for _, key := range mappings.Keys {
		number := configured[key]
		if number == "" {
			number = mappings.Defaults[key]
		}
		if _, err := services.Ledger.GetAccountByNumber(ctx, number); err != nil {
			log.Fatalf("mapping %s -> %s: %v", key, number, err)
		}
		if err := repo.Upsert(ctx, key, number); err != nil {
			log.Fatalf("upsert mapping %s: %v", key, err)
		}
		fmt.Printf("  %-15s %s\n", key, number)
	}

	stored, err := repo.List(ctx)
	if err != nil {
		log.Fatalf("list mappings: %v", err)
	}
	fmt.Printf("✓ Seed complete at %s (%d mapping(s))\n", time.Now().Format(time.RFC3339), len(stored))
}
