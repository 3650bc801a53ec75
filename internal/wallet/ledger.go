// Package wallet implements the customer store-credit ledger. The ledger is
// append-only and the cached balance row is reconciled in the same database
// transaction as every append, so the two can never diverge.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
)

var (
	// ErrInvalidAmount is returned for zero or negative credit/debit requests.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
	// ErrConcurrencyConflict is returned when the optimistic version check
	// keeps failing after the configured retries.
	ErrConcurrencyConflict = errors.New("wallet: concurrent balance update")
)

// Ledger entry motives written by the engine.
const (
	MotiveSaleAccrual      = "venta-monedero"
	MotiveSalePayment      = "pago-monedero"
	MotiveRefund           = "devolucion-reembolso"
	MotiveAccrualReversal  = "devolucion-reverso"
	MotiveManualAdjustment = "ajuste-manual"
)

// Ledger performs serialized wallet mutations. Callers run Credit and Debit
// inside the transaction that also persists the sale or reversal; a failed
// commit rolls the ledger append back with everything else.
type Ledger struct {
	// MaxRetries bounds optimistic-version retries before giving up.
	MaxRetries int
}

func (l Ledger) retries() int {
	if l.MaxRetries <= 0 {
		return 3
	}
	return l.MaxRetries
}

// Balance returns the cached balance for a customer, zero when the customer
// has no account yet.
func (l Ledger) Balance(ctx context.Context, s Store, customerID uuid.UUID) (money.Amount, error) {
	account, err := s.GetWalletAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return money.Zero, nil
		}
		return money.Zero, err
	}
	return account.Balance, nil
}

// Credit appends a positive ledger entry and raises the cached balance.
func (l Ledger) Credit(ctx context.Context, s Store, customerID uuid.UUID, amount money.Amount, motive string, pharmacyID uuid.UUID) (repo.WalletEntry, error) {
	if amount.Sign() <= 0 {
		return repo.WalletEntry{}, ErrInvalidAmount
	}
	amount = money.Round2(amount)
	if err := s.EnsureWalletAccount(ctx, customerID); err != nil {
		return repo.WalletEntry{}, err
	}
	for attempt := 0; attempt < l.retries(); attempt++ {
		account, err := s.GetWalletAccount(ctx, customerID)
		if err != nil {
			return repo.WalletEntry{}, err
		}
		ok, err := s.UpdateWalletBalance(ctx, customerID, account.Balance.Add(amount), account.Version)
		if err != nil {
			return repo.WalletEntry{}, err
		}
		if !ok {
			continue
		}
		return s.InsertWalletEntry(ctx, repo.WalletEntry{
			CustomerID: customerID,
			Delta:      amount,
			Motive:     motive,
			PharmacyID: pharmacyID,
		})
	}
	return repo.WalletEntry{}, fmt.Errorf("%w: credit for %s", ErrConcurrencyConflict, customerID)
}

// Debit lowers the balance by at most the requested amount. The applied debit
// is clamped to the current balance so it can never go negative, and the
// clamped amount is returned so downstream refund totals stay consistent.
// A request against a zero balance applies nothing and appends nothing.
func (l Ledger) Debit(ctx context.Context, s Store, customerID uuid.UUID, requested money.Amount, motive string, pharmacyID uuid.UUID) (money.Amount, error) {
	if requested.Sign() <= 0 {
		return money.Zero, ErrInvalidAmount
	}
	requested = money.Round2(requested)
	for attempt := 0; attempt < l.retries(); attempt++ {
		account, err := s.GetWalletAccount(ctx, customerID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return money.Zero, nil
			}
			return money.Zero, err
		}
		applied := money.Min(requested, account.Balance)
		if applied.Sign() <= 0 {
			return money.Zero, nil
		}
		ok, err := s.UpdateWalletBalance(ctx, customerID, account.Balance.Sub(applied), account.Version)
		if err != nil {
			return money.Zero, err
		}
		if !ok {
			continue
		}
		if _, err := s.InsertWalletEntry(ctx, repo.WalletEntry{
			CustomerID: customerID,
			Delta:      applied.Neg(),
			Motive:     motive,
			PharmacyID: pharmacyID,
		}); err != nil {
			return money.Zero, err
		}
		return applied, nil
	}
	return money.Zero, fmt.Errorf("%w: debit for %s", ErrConcurrencyConflict, customerID)
}

// Reconcile recomputes the balance from the ledger and rewrites the cached
// row when they disagree. Exposed for the audit tooling.
func (l Ledger) Reconcile(ctx context.Context, s Store, customerID uuid.UUID) (money.Amount, error) {
	derived, err := s.SumWalletEntries(ctx, customerID)
	if err != nil {
		return money.Zero, err
	}
	account, err := s.GetWalletAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return derived, nil
		}
		return money.Zero, err
	}
	if account.Balance.Equal(derived) {
		return derived, nil
	}
	if _, err := s.UpdateWalletBalance(ctx, customerID, derived, account.Version); err != nil {
		return money.Zero, err
	}
	return derived, nil
}
