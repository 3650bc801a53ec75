package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farmanova/backend-pos/internal/money"
)

// WalletAccount is the cached balance row. Balance is reconciled in the same
// transaction as every ledger append; the ledger remains the source of truth.
type WalletAccount struct {
	CustomerID uuid.UUID
	Balance    money.Amount
	Version    int64
}

// WalletEntry is one immutable ledger row.
type WalletEntry struct {
	ID         uuid.UUID    `json:"id"`
	CustomerID uuid.UUID    `json:"customerId"`
	Delta      money.Amount `json:"delta"`
	Motive     string       `json:"motive"`
	PharmacyID uuid.UUID    `json:"pharmacyId"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// GetWalletAccount loads the balance row for a customer.
func (q *Queries) GetWalletAccount(ctx context.Context, customerID uuid.UUID) (WalletAccount, error) {
	const sql = `SELECT customer_id, balance::text, version FROM wallet_accounts WHERE customer_id = $1`
	var (
		a       WalletAccount
		balance string
	)
	if err := q.db.QueryRow(ctx, sql, customerID).Scan(&a.CustomerID, &balance, &a.Version); err != nil {
		return WalletAccount{}, mapNoRows(err)
	}
	var err error
	a.Balance, err = money.FromString(balance)
	if err != nil {
		return WalletAccount{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	return a, nil
}

// EnsureWalletAccount creates the zero-balance row if the customer has none.
func (q *Queries) EnsureWalletAccount(ctx context.Context, customerID uuid.UUID) error {
	const sql = `INSERT INTO wallet_accounts (customer_id, balance, version)
VALUES ($1, 0, 0) ON CONFLICT (customer_id) DO NOTHING`
	_, err := q.db.Exec(ctx, sql, customerID)
	return err
}

// UpdateWalletBalance applies the new balance guarded by the optimistic
// version. Returns false when another writer got there first.
func (q *Queries) UpdateWalletBalance(ctx context.Context, customerID uuid.UUID, balance money.Amount, expectedVersion int64) (bool, error) {
	const sql = `UPDATE wallet_accounts SET balance = $2, version = version + 1
WHERE customer_id = $1 AND version = $3`
	tag, err := q.db.Exec(ctx, sql, customerID, balance.StringFixed(2), expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertWalletEntry appends one immutable ledger entry.
func (q *Queries) InsertWalletEntry(ctx context.Context, e WalletEntry) (WalletEntry, error) {
	const sql = `INSERT INTO wallet_entries (id, customer_id, delta, motive, pharmacy_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := q.db.QueryRow(ctx, sql, e.ID, e.CustomerID, e.Delta.StringFixed(2), e.Motive, e.PharmacyID, e.CreatedAt).Scan(&e.CreatedAt); err != nil {
		return WalletEntry{}, err
	}
	return e, nil
}

// ListWalletEntries returns the newest ledger entries for a customer.
func (q *Queries) ListWalletEntries(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]WalletEntry, error) {
	const sql = `SELECT id, customer_id, delta::text, motive, pharmacy_id, created_at
FROM wallet_entries WHERE customer_id = $1
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, sql, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WalletEntry
	for rows.Next() {
		var (
			e     WalletEntry
			delta string
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &delta, &e.Motive, &e.PharmacyID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Delta, err = money.FromString(delta)
		if err != nil {
			return nil, fmt.Errorf("parse wallet delta: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SumWalletEntries derives the balance from the ledger, used to reconcile the
// cached balance row.
func (q *Queries) SumWalletEntries(ctx context.Context, customerID uuid.UUID) (money.Amount, error) {
	const sql = `SELECT COALESCE(SUM(delta), 0)::text FROM wallet_entries WHERE customer_id = $1`
	var sum string
	if err := q.db.QueryRow(ctx, sql, customerID).Scan(&sum); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return money.Zero, err
	}
	if sum == "" {
		return money.Zero, nil
	}
	return money.FromString(sum)
}
