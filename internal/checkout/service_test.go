package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/sale"
	"github.com/farmanova/backend-pos/internal/settlement"
	"github.com/farmanova/backend-pos/internal/wallet"
)

// tuesday is a fixed clock so day-of-week promotions are deterministic.
var tuesday = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	products  map[uuid.UUID]repo.Product
	promos    map[uuid.UUID][]repo.PromotionRow
	stock     map[uuid.UUID]int
	customers map[uuid.UUID]repo.Customer
	accounts  map[uuid.UUID]repo.WalletAccount
	entries   map[uuid.UUID][]repo.WalletEntry
	sales     map[string]sale.Transaction
	events    []repo.DomainEvent

	duplicateFolios int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  map[uuid.UUID]repo.Product{},
		promos:    map[uuid.UUID][]repo.PromotionRow{},
		stock:     map[uuid.UUID]int{},
		customers: map[uuid.UUID]repo.Customer{},
		accounts:  map[uuid.UUID]repo.WalletAccount{},
		entries:   map[uuid.UUID][]repo.WalletEntry{},
		sales:     map[string]sale.Transaction{},
	}
}

func (f *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (repo.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return repo.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPromotions(_ context.Context, id uuid.UUID) ([]repo.PromotionRow, error) {
	return f.promos[id], nil
}

func (f *fakeStore) GetAvailableStock(_ context.Context, _, id uuid.UUID) (int, error) {
	return f.stock[id], nil
}

func (f *fakeStore) DepleteStock(_ context.Context, _, id uuid.UUID, qty int) error {
	if f.stock[id] < qty {
		return repo.ErrInsufficientStock
	}
	f.stock[id] -= qty
	return nil
}

func (f *fakeStore) GetCustomer(_ context.Context, id uuid.UUID) (repo.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return repo.Customer{}, repo.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) InsertSale(_ context.Context, t sale.Transaction) error {
	if f.duplicateFolios > 0 {
		f.duplicateFolios--
		return repo.ErrDuplicateFolio
	}
	if _, exists := f.sales[t.Folio]; exists {
		return repo.ErrDuplicateFolio
	}
	f.sales[t.Folio] = t
	return nil
}

func (f *fakeStore) GetSaleByFolio(_ context.Context, folio string) (sale.Transaction, error) {
	t, ok := f.sales[folio]
	if !ok {
		return sale.Transaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (repo.DomainEvent, error) {
	e := repo.DomainEvent{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload, CreatedAt: time.Now()}
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeStore) GetWalletAccount(_ context.Context, customerID uuid.UUID) (repo.WalletAccount, error) {
	a, ok := f.accounts[customerID]
	if !ok {
		return repo.WalletAccount{}, repo.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) EnsureWalletAccount(_ context.Context, customerID uuid.UUID) error {
	if _, ok := f.accounts[customerID]; !ok {
		f.accounts[customerID] = repo.WalletAccount{CustomerID: customerID, Balance: money.Zero}
	}
	return nil
}

func (f *fakeStore) UpdateWalletBalance(_ context.Context, customerID uuid.UUID, balance money.Amount, expectedVersion int64) (bool, error) {
	a, ok := f.accounts[customerID]
	if !ok || a.Version != expectedVersion {
		return false, nil
	}
	a.Balance = balance
	a.Version++
	f.accounts[customerID] = a
	return true, nil
}

func (f *fakeStore) InsertWalletEntry(_ context.Context, e repo.WalletEntry) (repo.WalletEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.entries[e.CustomerID] = append(f.entries[e.CustomerID], e)
	return e, nil
}

func (f *fakeStore) SumWalletEntries(_ context.Context, customerID uuid.UUID) (money.Amount, error) {
	sum := money.Zero
	for _, e := range f.entries[customerID] {
		sum = sum.Add(e.Delta)
	}
	return sum, nil
}

// fakeRunner has no rollback; tests assert on ordering instead, relying on the
// real runner's transaction for atomicity.
type fakeRunner struct{ store *fakeStore }

func (r fakeRunner) RunTx(_ context.Context, fn func(Store) error) error {
	return fn(r.store)
}

func newService(store *fakeStore) *Service {
	return &Service{
		Runner: fakeRunner{store},
		Q:      store,
		Ledger: wallet.Ledger{},
		Now:    func() time.Time { return tuesday },
	}
}

func seedDiscounted(store *fakeStore) uuid.UUID {
	id := uuid.New()
	pct := money.MustFromString("10")
	wd := int(time.Tuesday)
	store.products[id] = repo.Product{ID: id, Name: "Paracetamol 500mg", Category: "Analgésicos", BasePrice: money.MustFromString("100.00")}
	store.promos[id] = []repo.PromotionRow{{ID: uuid.New(), ProductID: id, Kind: "day", Weekday: &wd, Pct: &pct, WalletEligible: true}}
	store.stock[id] = 10
	return id
}

func TestCreateCashSale(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	customerID := uuid.New()
	store.customers[customerID] = repo.Customer{ID: customerID, Name: "Marta Ruiz"}
	svc := newService(store)

	out, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		CustomerID: &customerID,
		Lines:      []LineInput{{ProductID: productID, Qty: 2}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("200.00")},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sale.ValidFolio(out.Folio) {
		t.Fatalf("folio %q malformed", out.Folio)
	}
	if got := out.Total.StringFixed(2); got != "180.00" {
		t.Fatalf("total = %s, want 180.00", got)
	}
	if got := out.Change.StringFixed(2); got != "20.00" {
		t.Fatalf("change = %s, want 20.00", got)
	}
	// Recorded cash is net of change.
	if got := out.Tenders[0].Amount.StringFixed(2); out.Tenders[0].Method != settlement.MethodCash || got != "180.00" {
		t.Fatalf("tender = %+v", out.Tenders[0])
	}
	if got := out.WalletAccrualTotal.StringFixed(2); got != "3.60" {
		t.Fatalf("accrual total = %s, want 3.60", got)
	}
	if got := store.accounts[customerID].Balance.StringFixed(2); got != "3.60" {
		t.Fatalf("wallet balance = %s, want 3.60", got)
	}
	if store.stock[productID] != 8 {
		t.Fatalf("stock = %d, want 8", store.stock[productID])
	}
	if len(store.events) != 1 || store.events[0].Topic != "sale.completed" {
		t.Fatalf("events = %+v", store.events)
	}
	if _, ok := store.sales[out.Folio]; !ok {
		t.Fatal("sale not persisted")
	}
}

func TestCreateWalletTender(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	customerID := uuid.New()
	store.customers[customerID] = repo.Customer{ID: customerID, Name: "Marta Ruiz"}
	svc := newService(store)
	if _, err := svc.Ledger.Credit(context.Background(), store, customerID, money.MustFromString("50.00"), wallet.MotiveManualAdjustment, uuid.New()); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	out, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		CustomerID: &customerID,
		Lines:      []LineInput{{ProductID: productID, Qty: 2}},
		Tenders: settlement.Tenders{
			Wallet: money.MustFromString("50.00"),
			Cash:   money.MustFromString("130.00"),
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := out.Change.StringFixed(2); got != "0.00" {
		t.Fatalf("change = %s, want 0.00", got)
	}
	// 50 seeded, minus 50 paid, plus 3.60 accrued on the ticket.
	if got := store.accounts[customerID].Balance.StringFixed(2); got != "3.60" {
		t.Fatalf("balance = %s, want 3.60", got)
	}
	if got := out.WalletTender().StringFixed(2); got != "50.00" {
		t.Fatalf("wallet tender = %s, want 50.00", got)
	}
	if len(store.entries[customerID]) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(store.entries[customerID]))
	}
}

func TestCreateQuantityPromotion(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	rc := 3
	store.products[id] = repo.Product{ID: id, Name: "Suero Oral 500ml", Category: "Hidratación", BasePrice: money.MustFromString("30.00")}
	store.promos[id] = []repo.PromotionRow{{ID: uuid.New(), ProductID: id, Kind: "quantity", RequiredCount: &rc}}
	store.stock[id] = 10
	svc := newService(store)

	out, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		Lines:      []LineInput{{ProductID: id, Qty: 3}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("90.00")},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(out.Lines) != 2 || !out.Lines[1].IsFreeUnit || out.Lines[1].Qty != 1 {
		t.Fatalf("lines = %+v", out.Lines)
	}
	if got := out.Total.StringFixed(2); got != "90.00" {
		t.Fatalf("total = %s, want 90.00", got)
	}
	if out.WalletAccrualTotal.Sign() != 0 {
		t.Fatalf("quantity promotion accrued %s", out.WalletAccrualTotal)
	}
	// 3 paid plus 1 free leave the shelf.
	if store.stock[id] != 6 {
		t.Fatalf("stock = %d, want 6", store.stock[id])
	}
}

func TestCreateInsufficientStock(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	store.stock[productID] = 1
	svc := newService(store)

	_, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		Lines:      []LineInput{{ProductID: productID, Qty: 2}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("500.00")},
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "INSUFFICIENT_STOCK" {
		t.Fatalf("err = %v, want INSUFFICIENT_STOCK", err)
	}
	if store.stock[productID] != 1 {
		t.Fatalf("stock mutated to %d on rejection", store.stock[productID])
	}
	if len(store.sales) != 0 {
		t.Fatal("sale persisted on rejection")
	}
}

func TestCreateSettlementRejectionBeforeMutation(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	svc := newService(store)

	_, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		Lines:      []LineInput{{ProductID: productID, Qty: 2}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("100.00")},
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "INSUFFICIENT_PAYMENT" {
		t.Fatalf("err = %v, want INSUFFICIENT_PAYMENT", err)
	}
	// Settlement runs before depletion, so the shelf is untouched even
	// without a rollback in the fake runner.
	if store.stock[productID] != 10 {
		t.Fatalf("stock = %d, want 10", store.stock[productID])
	}
}

func TestCreateAnonymousWalletTenderRejected(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	svc := newService(store)

	_, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		Lines:      []LineInput{{ProductID: productID, Qty: 1}},
		Tenders:    settlement.Tenders{Wallet: money.MustFromString("10.00"), Cash: money.MustFromString("80.00")},
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "WALLET_INSUFFICIENT" {
		t.Fatalf("err = %v, want WALLET_INSUFFICIENT", err)
	}
}

func TestCreateUnknownCustomer(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	svc := newService(store)
	ghost := uuid.New()

	_, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		CustomerID: &ghost,
		Lines:      []LineInput{{ProductID: productID, Qty: 1}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("90.00")},
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestCreateRetriesFolioCollision(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	store.duplicateFolios = 2
	svc := newService(store)

	out, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		Lines:      []LineInput{{ProductID: productID, Qty: 1}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("90.00")},
	})
	if err != nil {
		t.Fatalf("Create after collisions: %v", err)
	}
	if _, ok := store.sales[out.Folio]; !ok {
		t.Fatal("sale not persisted after retries")
	}
}

func TestPreviewMatchesCommit(t *testing.T) {
	store := newFakeStore()
	productID := seedDiscounted(store)
	customerID := uuid.New()
	store.customers[customerID] = repo.Customer{ID: customerID, Name: "Marta Ruiz"}
	svc := newService(store)

	lines, totals, err := svc.Preview(context.Background(), PreviewRequest{
		PharmacyID: uuid.New(),
		ProductID:  productID,
		Qty:        2,
		CustomerID: &customerID,
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	out, err := svc.Create(context.Background(), Request{
		PharmacyID: uuid.New(),
		CustomerID: &customerID,
		Lines:      []LineInput{{ProductID: productID, Qty: 2}},
		Tenders:    settlement.Tenders{Cash: money.MustFromString("180.00")},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !lines[0].UnitPriceFinal.Equal(out.Lines[0].UnitPriceFinal) {
		t.Fatalf("preview %s, committed %s", lines[0].UnitPriceFinal, out.Lines[0].UnitPriceFinal)
	}
	if !totals.Total.Equal(out.Total) {
		t.Fatalf("preview total %s, committed %s", totals.Total, out.Total)
	}
}

func TestGetSaleValidation(t *testing.T) {
	svc := newService(newFakeStore())
	_, err := svc.GetSale(context.Background(), "not-a-folio")
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "BAD_REQUEST" {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
	_, err = svc.GetSale(context.Background(), "V20260825-ABCDEF")
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}
