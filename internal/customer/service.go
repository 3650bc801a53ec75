// Package customer manages the register's customer records and their wallet
// view. Customers are optional on sales; they become mandatory the moment a
// transaction touches the wallet.
package customer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/wallet"
)

// Store is the repository slice this package needs.
type Store interface {
	wallet.Store
	GetCustomer(ctx context.Context, id uuid.UUID) (repo.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (repo.Customer, error)
	CreateCustomer(ctx context.Context, c repo.Customer) (repo.Customer, error)
	ListWalletEntries(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]repo.WalletEntry, error)
}

var _ Store = (*repo.Queries)(nil)

// Profile is a customer with their current wallet balance.
type Profile struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone,omitempty"`
	WalletBalance money.Amount `json:"walletBalance"`
}

// Service resolves customers and their wallet state.
type Service struct {
	store  Store
	ledger wallet.Ledger
}

// NewService constructs a Service.
func NewService(store Store, ledger wallet.Ledger) (*Service, error) {
	if store == nil {
		return nil, errors.New("customer: store is required")
	}
	return &Service{store: store, ledger: ledger}, nil
}

// Get loads a customer with their wallet balance.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Profile, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Profile{}, notFound(err)
		}
		return Profile{}, fmt.Errorf("get customer: %w", err)
	}
	return s.profile(ctx, c)
}

// LookupByPhone resolves a customer from the phone number the cashier typed.
func (s *Service) LookupByPhone(ctx context.Context, phone string) (Profile, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Profile{}, &common.AppError{Code: "BAD_REQUEST", Message: "phone is required", HTTPStatus: http.StatusBadRequest}
	}
	c, err := s.store.FindCustomerByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Profile{}, notFound(err)
		}
		return Profile{}, fmt.Errorf("find customer by phone: %w", err)
	}
	return s.profile(ctx, c)
}

// Create registers a new customer.
func (s *Service) Create(ctx context.Context, name, phone string) (Profile, error) {
	c, err := s.store.CreateCustomer(ctx, repo.Customer{Name: strings.TrimSpace(name), Phone: strings.TrimSpace(phone)})
	if err != nil {
		return Profile{}, fmt.Errorf("create customer: %w", err)
	}
	return Profile{ID: c.ID, Name: c.Name, Phone: c.Phone, WalletBalance: money.Zero}, nil
}

// WalletEntries returns a page of the customer's ledger, newest first.
func (s *Service) WalletEntries(ctx context.Context, id uuid.UUID, limit, offset int) ([]repo.WalletEntry, error) {
	if _, err := s.store.GetCustomer(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, notFound(err)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.ListWalletEntries(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}
	return entries, nil
}

func (s *Service) profile(ctx context.Context, c repo.Customer) (Profile, error) {
	balance, err := s.ledger.Balance(ctx, s.store, c.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("wallet balance: %w", err)
	}
	return Profile{ID: c.ID, Name: c.Name, Phone: c.Phone, WalletBalance: balance}, nil
}

func notFound(err error) *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "customer not found", HTTPStatus: http.StatusNotFound, Err: err}
}
