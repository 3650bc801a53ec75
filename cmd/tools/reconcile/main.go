package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/wallet"
)

// End-of-day audit tool for one pharmacy: prints the register cut (every sale
// of the day with its running total) and rewrites any wallet balance that has
// drifted from its entry ledger.
func main() {
	var (
		pharmacyFlag  = flag.String("pharmacy", "", "pharmacy UUID for the register cut")
		dayFlag       = flag.String("day", "", "day to cut, YYYY-MM-DD (default today)")
		customersFlag = flag.String("customers", "", "comma separated customer UUIDs to reconcile wallets for")
	)
	flag.Parse()

	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	queries := repo.New(pool)

	if *pharmacyFlag != "" {
		pharmacyID, err := uuid.Parse(*pharmacyFlag)
		if err != nil {
			log.Fatalf("invalid -pharmacy: %v", err)
		}
		day := time.Now()
		if *dayFlag != "" {
			if day, err = time.Parse("2006-01-02", *dayFlag); err != nil {
				log.Fatalf("invalid -day: %v", err)
			}
		}
		registerCut(ctx, queries, pharmacyID, day)
	}

	if *customersFlag != "" {
		reconcileWallets(ctx, queries, strings.Split(*customersFlag, ","))
	}

	if *pharmacyFlag == "" && *customersFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
}

func registerCut(ctx context.Context, q *repo.Queries, pharmacyID uuid.UUID, day time.Time) {
	sales, err := q.ListSalesByDay(ctx, pharmacyID, day)
	if err != nil {
		log.Fatalf("list sales: %v", err)
	}
	total := money.Zero
	for _, s := range sales {
		total = total.Add(s.Total)
		log.Printf("%s  %s  %s", s.CreatedAt.Format("15:04:05"), s.Folio, money.FormatMXN(s.Total))
	}
	log.Printf("cut %s: %d sales, %s", day.Format("2006-01-02"), len(sales), money.FormatMXN(total))
}

func reconcileWallets(ctx context.Context, q *repo.Queries, ids []string) {
	ledger := wallet.Ledger{}
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			log.Fatalf("invalid customer id %q: %v", raw, err)
		}
		derived, err := ledger.Reconcile(ctx, q, id)
		if err != nil {
			log.Fatalf("reconcile %s: %v", id, err)
		}
		log.Printf("wallet %s reconciled to %s", id, money.FormatMXN(derived))
	}
}
