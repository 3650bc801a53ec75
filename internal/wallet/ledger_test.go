package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
)

// memStore mimics the wallet tables in memory, including the optimistic
// version check. failNextUpdates forces version mismatches on the next N
// updates to exercise the retry loop.
type memStore struct {
	accounts        map[uuid.UUID]repo.WalletAccount
	entries         []repo.WalletEntry
	failNextUpdates int
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[uuid.UUID]repo.WalletAccount)}
}

func (m *memStore) GetWalletAccount(_ context.Context, id uuid.UUID) (repo.WalletAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return repo.WalletAccount{}, repo.ErrNotFound
	}
	return a, nil
}

func (m *memStore) EnsureWalletAccount(_ context.Context, id uuid.UUID) error {
	if _, ok := m.accounts[id]; !ok {
		m.accounts[id] = repo.WalletAccount{CustomerID: id, Balance: money.Zero}
	}
	return nil
}

func (m *memStore) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance money.Amount, expectedVersion int64) (bool, error) {
	a, ok := m.accounts[id]
	if !ok {
		return false, nil
	}
	if m.failNextUpdates > 0 {
		// Simulate a concurrent writer bumping the version first.
		m.failNextUpdates--
		a.Version++
		m.accounts[id] = a
	}
	if a.Version != expectedVersion {
		return false, nil
	}
	a.Balance = balance
	a.Version++
	m.accounts[id] = a
	return true, nil
}

func (m *memStore) InsertWalletEntry(_ context.Context, e repo.WalletEntry) (repo.WalletEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memStore) SumWalletEntries(_ context.Context, id uuid.UUID) (money.Amount, error) {
	sum := money.Zero
	for _, e := range m.entries {
		if e.CustomerID == id {
			sum = sum.Add(e.Delta)
		}
	}
	return sum, nil
}

func TestLedgerCreditThenDebit(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	pharmacy := uuid.New()
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, store, customer, money.MustFromString("10.50"), MotiveSaleAccrual, pharmacy); err != nil {
		t.Fatal(err)
	}
	balance, err := ledger.Balance(ctx, store, customer)
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(money.MustFromString("10.50")) {
		t.Fatalf("expected 10.50, got %s", balance)
	}

	applied, err := ledger.Debit(ctx, store, customer, money.MustFromString("4.00"), MotiveSalePayment, pharmacy)
	if err != nil {
		t.Fatal(err)
	}
	if !applied.Equal(money.MustFromString("4.00")) {
		t.Fatalf("expected full debit, got %s", applied)
	}
}

func TestLedgerDebitClampedToBalance(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, store, customer, money.MustFromString("5.00"), MotiveSaleAccrual, uuid.New()); err != nil {
		t.Fatal(err)
	}
	applied, err := ledger.Debit(ctx, store, customer, money.MustFromString("9.99"), MotiveAccrualReversal, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if !applied.Equal(money.MustFromString("5.00")) {
		t.Fatalf("debit must clamp to balance, applied %s", applied)
	}
	balance, _ := ledger.Balance(ctx, store, customer)
	if balance.Sign() != 0 {
		t.Fatalf("balance must be zero after clamped debit, got %s", balance)
	}
}

func TestLedgerBalanceNeverNegative(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	ctx := context.Background()

	ops := []struct {
		credit bool
		amount string
	}{
		{true, "3.00"}, {false, "1.50"}, {false, "10.00"},
		{true, "0.25"}, {false, "0.30"}, {false, "100"},
	}
	for _, op := range ops {
		if op.credit {
			if _, err := ledger.Credit(ctx, store, customer, money.MustFromString(op.amount), MotiveManualAdjustment, uuid.New()); err != nil {
				t.Fatal(err)
			}
		} else {
			if _, err := ledger.Debit(ctx, store, customer, money.MustFromString(op.amount), MotiveManualAdjustment, uuid.New()); err != nil {
				t.Fatal(err)
			}
		}
		balance, err := ledger.Balance(ctx, store, customer)
		if err != nil {
			t.Fatal(err)
		}
		if balance.Sign() < 0 {
			t.Fatalf("balance went negative: %s", balance)
		}
	}
}

func TestLedgerDebitUnknownCustomerAppliesNothing(t *testing.T) {
	store := newMemStore()
	applied, err := Ledger{}.Debit(context.Background(), store, uuid.New(), money.MustFromString("5"), MotiveRefund, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if applied.Sign() != 0 {
		t.Fatalf("expected zero applied, got %s", applied)
	}
	if len(store.entries) != 0 {
		t.Fatal("no entry may be appended for a zero debit")
	}
}

func TestLedgerRetriesOnVersionConflict(t *testing.T) {
	store := newMemStore()
	store.failNextUpdates = 1
	ledger := Ledger{MaxRetries: 3}
	customer := uuid.New()
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, store, customer, money.MustFromString("1.00"), MotiveSaleAccrual, uuid.New()); err != nil {
		t.Fatalf("credit should survive a transient conflict: %v", err)
	}
}

func TestLedgerConflictExhaustion(t *testing.T) {
	store := newMemStore()
	store.failNextUpdates = 10
	ledger := Ledger{MaxRetries: 2}
	customer := uuid.New()

	_, err := ledger.Credit(context.Background(), store, customer, money.MustFromString("1.00"), MotiveSaleAccrual, uuid.New())
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
}

func TestLedgerInvalidAmounts(t *testing.T) {
	store := newMemStore()
	if _, err := (Ledger{}).Credit(context.Background(), store, uuid.New(), money.Zero, MotiveSaleAccrual, uuid.New()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := (Ledger{}).Debit(context.Background(), store, uuid.New(), money.MustFromString("-1"), MotiveRefund, uuid.New()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestLedgerBalanceMatchesEntrySum(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	ctx := context.Background()

	for _, amount := range []string{"2.00", "3.33", "0.01"} {
		if _, err := ledger.Credit(ctx, store, customer, money.MustFromString(amount), MotiveSaleAccrual, uuid.New()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ledger.Debit(ctx, store, customer, money.MustFromString("1.34"), MotiveSalePayment, uuid.New()); err != nil {
		t.Fatal(err)
	}
	derived, err := store.SumWalletEntries(ctx, customer)
	if err != nil {
		t.Fatal(err)
	}
	balance, _ := ledger.Balance(ctx, store, customer)
	if !balance.Equal(derived) {
		t.Fatalf("cached balance %s diverged from ledger sum %s", balance, derived)
	}
}

func TestLedgerReconcileRewritesDrift(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, store, customer, money.MustFromString("30.00"), MotiveSaleAccrual, uuid.New()); err != nil {
		t.Fatal(err)
	}
	// Corrupt the cached balance; the entry ledger stays authoritative.
	a := store.accounts[customer]
	a.Balance = money.MustFromString("99.00")
	store.accounts[customer] = a

	derived, err := ledger.Reconcile(ctx, store, customer)
	if err != nil {
		t.Fatal(err)
	}
	if !derived.Equal(money.MustFromString("30.00")) {
		t.Fatalf("derived = %s, want 30.00", derived)
	}
	if got := store.accounts[customer].Balance; !got.Equal(derived) {
		t.Fatalf("cached balance = %s, want %s", got, derived)
	}
}

func TestLedgerReconcileAgreement(t *testing.T) {
	store := newMemStore()
	ledger := Ledger{}
	customer := uuid.New()
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, store, customer, money.MustFromString("12.50"), MotiveSaleAccrual, uuid.New()); err != nil {
		t.Fatal(err)
	}
	version := store.accounts[customer].Version
	derived, err := ledger.Reconcile(ctx, store, customer)
	if err != nil {
		t.Fatal(err)
	}
	if !derived.Equal(money.MustFromString("12.50")) {
		t.Fatalf("derived = %s, want 12.50", derived)
	}
	if store.accounts[customer].Version != version {
		t.Fatal("an agreeing balance must not be rewritten")
	}
}
