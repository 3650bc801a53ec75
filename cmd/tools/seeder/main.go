package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Seeds a development database with a pharmacy, a small catalog with every
// promotion kind, and two customers with wallet balances.
func main() {
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

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	const pharmacyID = "7b1f4a9e-0d2c-4f7a-9a41-1c59f1b2a001"

	seedProducts(ctx, pool)
	seedInventory(ctx, pool, pharmacyID)
	seedCustomers(ctx, pool, pharmacyID)

	log.Println("seeding completed")
}

type seedProduct struct {
	id       string
	name     string
	category string
	price    string
	senior   bool
}

var products = []seedProduct{
	{"c1a7e2d4-1111-4f00-9000-000000000001", "Paracetamol 500mg 10 tabletas", "Analgésicos", "35.00", true},
	{"c1a7e2d4-1111-4f00-9000-000000000002", "Omeprazol 20mg 14 cápsulas", "Gastrointestinal", "89.50", true},
	{"c1a7e2d4-1111-4f00-9000-000000000003", "Vitamina C 1g 30 tabletas", "Vitaminas", "120.00", true},
	{"c1a7e2d4-1111-4f00-9000-000000000004", "Jabón neutro 150g", "Higiene", "28.00", true},
	{"c1a7e2d4-1111-4f00-9000-000000000005", "Recarga telefónica", "Recargas", "100.00", false},
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) {
	const product = `INSERT INTO products (id, name, category, base_price, senior_eligible)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
	for _, p := range products {
		if _, err := pool.Exec(ctx, product, p.id, p.name, p.category, p.price, p.senior); err != nil {
			log.Fatalf("seed product %s: %v", p.name, err)
		}
	}

	const promo = `INSERT INTO product_promotions
(product_id, kind, weekday, pct, required_count, starts_on, ends_on, wallet_eligible)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING`
	type promoRow struct {
		productID      string
		kind           string
		weekday        *int
		pct            *string
		requiredCount  *int
		startsOn       *string
		endsOn         *string
		walletEligible bool
	}
	tuesday := 2
	tenPct := "10.00"
	fifteenPct := "15.00"
	three := 3
	seasonStart := "2026-12-01"
	seasonEnd := "2026-12-31"
	rows := []promoRow{
		{products[0].id, "day", &tuesday, &tenPct, nil, nil, nil, true},
		{products[1].id, "seasonal", nil, &fifteenPct, nil, &seasonStart, &seasonEnd, true},
		{products[2].id, "quantity", nil, nil, &three, nil, nil, false},
	}
	for _, r := range rows {
		if _, err := pool.Exec(ctx, promo,
			r.productID, r.kind, r.weekday, r.pct, r.requiredCount, r.startsOn, r.endsOn, r.walletEligible); err != nil {
			log.Fatalf("seed promotion for %s: %v", r.productID, err)
		}
	}
}

func seedInventory(ctx context.Context, pool *pgxpool.Pool, pharmacyID string) {
	const sql = `INSERT INTO inventory (pharmacy_id, product_id, on_hand)
VALUES ($1, $2, $3)
ON CONFLICT (pharmacy_id, product_id) DO UPDATE SET on_hand = EXCLUDED.on_hand`
	for _, p := range products {
		if _, err := pool.Exec(ctx, sql, pharmacyID, p.id, 50); err != nil {
			log.Fatalf("seed inventory for %s: %v", p.name, err)
		}
	}
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, pharmacyID string) {
	const customer = `INSERT INTO customers (id, name, phone)
VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	const account = `INSERT INTO wallet_accounts (customer_id, balance, version)
VALUES ($1, $2, 0) ON CONFLICT (customer_id) DO NOTHING`
	const entry = `INSERT INTO wallet_entries (id, customer_id, delta, motive, pharmacy_id)
VALUES (gen_random_uuid(), $1, $2, 'ajuste-manual', $3)
ON CONFLICT DO NOTHING`

	type seedCustomer struct {
		id      string
		name    string
		phone   string
		balance string
	}
	customers := []seedCustomer{
		{"d4b8f6a2-2222-4f00-9000-000000000001", "María González", "5512345678", "25.00"},
		{"d4b8f6a2-2222-4f00-9000-000000000002", "José Hernández", "5587654321", "0.00"},
	}
	for _, c := range customers {
		if _, err := pool.Exec(ctx, customer, c.id, c.name, c.phone); err != nil {
			log.Fatalf("seed customer %s: %v", c.name, err)
		}
		if _, err := pool.Exec(ctx, account, c.id, c.balance); err != nil {
			log.Fatalf("seed wallet account for %s: %v", c.name, err)
		}
		if c.balance != "0.00" {
			if _, err := pool.Exec(ctx, entry, c.id, c.balance, pharmacyID); err != nil {
				log.Fatalf("seed wallet entry for %s: %v", c.name, err)
			}
		}
	}
}
