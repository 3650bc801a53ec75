package customer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/wallet"
)

type memStore struct {
	customers map[uuid.UUID]repo.Customer
	byPhone   map[string]uuid.UUID
	accounts  map[uuid.UUID]repo.WalletAccount
	entries   map[uuid.UUID][]repo.WalletEntry
}

func newMemStore() *memStore {
	return &memStore{
		customers: map[uuid.UUID]repo.Customer{},
		byPhone:   map[string]uuid.UUID{},
		accounts:  map[uuid.UUID]repo.WalletAccount{},
		entries:   map[uuid.UUID][]repo.WalletEntry{},
	}
}

func (m *memStore) GetCustomer(_ context.Context, id uuid.UUID) (repo.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return repo.Customer{}, repo.ErrNotFound
	}
	return c, nil
}

func (m *memStore) FindCustomerByPhone(_ context.Context, phone string) (repo.Customer, error) {
	id, ok := m.byPhone[phone]
	if !ok {
		return repo.Customer{}, repo.ErrNotFound
	}
	return m.customers[id], nil
}

func (m *memStore) CreateCustomer(_ context.Context, c repo.Customer) (repo.Customer, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.customers[c.ID] = c
	if c.Phone != "" {
		m.byPhone[c.Phone] = c.ID
	}
	return c, nil
}

func (m *memStore) GetWalletAccount(_ context.Context, customerID uuid.UUID) (repo.WalletAccount, error) {
	a, ok := m.accounts[customerID]
	if !ok {
		return repo.WalletAccount{}, repo.ErrNotFound
	}
	return a, nil
}

func (m *memStore) EnsureWalletAccount(_ context.Context, customerID uuid.UUID) error {
	if _, ok := m.accounts[customerID]; !ok {
		m.accounts[customerID] = repo.WalletAccount{CustomerID: customerID, Balance: money.Zero}
	}
	return nil
}

func (m *memStore) UpdateWalletBalance(_ context.Context, customerID uuid.UUID, balance money.Amount, expectedVersion int64) (bool, error) {
	a, ok := m.accounts[customerID]
	if !ok || a.Version != expectedVersion {
		return false, nil
	}
	a.Balance = balance
	a.Version++
	m.accounts[customerID] = a
	return true, nil
}

func (m *memStore) InsertWalletEntry(_ context.Context, e repo.WalletEntry) (repo.WalletEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries[e.CustomerID] = append(m.entries[e.CustomerID], e)
	return e, nil
}

func (m *memStore) SumWalletEntries(_ context.Context, customerID uuid.UUID) (money.Amount, error) {
	sum := money.Zero
	for _, e := range m.entries[customerID] {
		sum = sum.Add(e.Delta)
	}
	return sum, nil
}

func (m *memStore) ListWalletEntries(_ context.Context, customerID uuid.UUID, limit, offset int) ([]repo.WalletEntry, error) {
	all := m.entries[customerID]
	// Newest first.
	out := make([]repo.WalletEntry, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func TestGetIncludesWalletBalance(t *testing.T) {
	store := newMemStore()
	c, _ := store.CreateCustomer(context.Background(), repo.Customer{Name: "Marta Ruiz", Phone: "5512345678"})
	ledger := wallet.Ledger{}
	if _, err := ledger.Credit(context.Background(), store, c.ID, money.MustFromString("12.50"), wallet.MotiveSaleAccrual, uuid.New()); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	svc, err := NewService(store, ledger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	profile, err := svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := profile.WalletBalance.StringFixed(2); got != "12.50" {
		t.Fatalf("balance = %s, want 12.50", got)
	}
}

func TestGetUnknownCustomer(t *testing.T) {
	svc, _ := NewService(newMemStore(), wallet.Ledger{})
	_, err := svc.Get(context.Background(), uuid.New())
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestLookupByPhone(t *testing.T) {
	store := newMemStore()
	c, _ := store.CreateCustomer(context.Background(), repo.Customer{Name: "Marta Ruiz", Phone: "5512345678"})
	svc, _ := NewService(store, wallet.Ledger{})

	profile, err := svc.LookupByPhone(context.Background(), "5512345678")
	if err != nil {
		t.Fatalf("LookupByPhone: %v", err)
	}
	if profile.ID != c.ID {
		t.Fatalf("resolved %s, want %s", profile.ID, c.ID)
	}
	if profile.WalletBalance.Sign() != 0 {
		t.Fatalf("fresh customer balance = %s", profile.WalletBalance)
	}

	if _, err := svc.LookupByPhone(context.Background(), "  "); err == nil {
		t.Fatal("blank phone accepted")
	}
}

func TestWalletEntriesPaged(t *testing.T) {
	store := newMemStore()
	c, _ := store.CreateCustomer(context.Background(), repo.Customer{Name: "Marta Ruiz"})
	ledger := wallet.Ledger{}
	for range [5]struct{}{} {
		if _, err := ledger.Credit(context.Background(), store, c.ID, money.MustFromString("1.00"), wallet.MotiveSaleAccrual, uuid.New()); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
	svc, _ := NewService(store, ledger)
	entries, err := svc.WalletEntries(context.Background(), c.ID, 3, 0)
	if err != nil {
		t.Fatalf("WalletEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("page size = %d, want 3", len(entries))
	}
}

func TestCreateEndpointValidation(t *testing.T) {
	svc, _ := NewService(newMemStore(), wallet.Ledger{})
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/customers", h.Create)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`{"name":"M"}`))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`{"name":"Marta Ruiz","phone":"5512345678"}`))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data Profile `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.ID == uuid.Nil || body.Data.Name != "Marta Ruiz" {
		t.Fatalf("profile = %+v", body.Data)
	}
}
