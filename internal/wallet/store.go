package wallet

import (
	"context"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
)

// Store is the slice of the repository the ledger needs. *repo.Queries
// satisfies it; tests use an in-memory implementation.
type Store interface {
	GetWalletAccount(ctx context.Context, customerID uuid.UUID) (repo.WalletAccount, error)
	EnsureWalletAccount(ctx context.Context, customerID uuid.UUID) error
	UpdateWalletBalance(ctx context.Context, customerID uuid.UUID, balance money.Amount, expectedVersion int64) (bool, error)
	InsertWalletEntry(ctx context.Context, e repo.WalletEntry) (repo.WalletEntry, error)
	SumWalletEntries(ctx context.Context, customerID uuid.UUID) (money.Amount, error)
}

var _ Store = (*repo.Queries)(nil)
