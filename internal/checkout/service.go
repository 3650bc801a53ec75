// Package checkout orchestrates the sale commit: pricing, stock depletion,
// settlement, wallet movements, folio assignment and the persisted sale all
// succeed or fail together in one database transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmanova/backend-pos/internal/cart"
	"github.com/farmanova/backend-pos/internal/catalog"
	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/events"
	"github.com/farmanova/backend-pos/internal/lock"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/obs"
	"github.com/farmanova/backend-pos/internal/pricing"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/sale"
	"github.com/farmanova/backend-pos/internal/settlement"
	"github.com/farmanova/backend-pos/internal/wallet"
)

const folioAttempts = 3

// Store is the repository slice one checkout transaction touches.
type Store interface {
	wallet.Store
	GetProduct(ctx context.Context, id uuid.UUID) (repo.Product, error)
	ListPromotions(ctx context.Context, productID uuid.UUID) ([]repo.PromotionRow, error)
	GetAvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error)
	DepleteStock(ctx context.Context, pharmacyID, productID uuid.UUID, quantity int) error
	GetCustomer(ctx context.Context, id uuid.UUID) (repo.Customer, error)
	InsertSale(ctx context.Context, t sale.Transaction) error
	GetSaleByFolio(ctx context.Context, folio string) (sale.Transaction, error)
	InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (repo.DomainEvent, error)
}

var _ Store = (*repo.Queries)(nil)

// TxRunner runs fn against a transactional Store; fn's effects commit only if
// it returns nil.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(Store) error) error
}

// PgxRunner is the production TxRunner backed by a pgx pool.
type PgxRunner struct {
	Pool *pgxpool.Pool
	Q    *repo.Queries
}

// RunTx implements TxRunner.
func (r PgxRunner) RunTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(r.Q.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LineInput selects one product and quantity for the ticket.
type LineInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Qty       int       `json:"qty" validate:"gt=0"`
}

// Request is one checkout proposal from the register.
type Request struct {
	PharmacyID      uuid.UUID          `json:"pharmacyId" validate:"required"`
	CustomerID      *uuid.UUID         `json:"customerId,omitempty"`
	SeniorConfirmed bool               `json:"seniorConfirmed"`
	Lines           []LineInput        `json:"lines" validate:"required,min=1,dive"`
	Tenders         settlement.Tenders `json:"tenders"`
}

// Service commits sales. All monetary work is delegated to the pure engine
// packages; this layer owns transaction scope and ordering.
type Service struct {
	Runner    TxRunner
	Q         Store
	Ledger    wallet.Ledger
	Notifiers []events.Notifier
	Locks     *lock.Locker
	LockTTL   time.Duration
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create prices the lines, settles the tenders, moves the wallet, and
// persists the sale. Nothing is written on any rejection.
func (s *Service) Create(ctx context.Context, in Request) (sale.Transaction, error) {
	if s == nil || s.Runner == nil {
		return sale.Transaction{}, errors.New("checkout service not configured")
	}
	if len(in.Lines) == 0 {
		return sale.Transaction{}, &common.AppError{Code: "BAD_REQUEST", Message: "at least one line is required", HTTPStatus: http.StatusBadRequest}
	}
	if in.PharmacyID == uuid.Nil {
		return sale.Transaction{}, &common.AppError{Code: "BAD_REQUEST", Message: "pharmacyId is required", HTTPStatus: http.StatusBadRequest}
	}

	// Wallet-touching checkouts for one customer are serialized across
	// registers; the optimistic version on the balance row remains the
	// backstop when the lock is not configured.
	if in.CustomerID != nil && s.Locks != nil {
		var out sale.Transaction
		err := s.Locks.WithLock(ctx, "pos:wallet:"+in.CustomerID.String(), s.LockTTL, func(ctx context.Context) error {
			var err error
			out, err = s.create(ctx, in)
			return err
		})
		return out, err
	}
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in Request) (sale.Transaction, error) {
	var out sale.Transaction
	err := s.Runner.RunTx(ctx, func(q Store) error {
		now := s.now()
		customerKnown := false
		if in.CustomerID != nil {
			if _, err := q.GetCustomer(ctx, *in.CustomerID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return &common.AppError{Code: "NOT_FOUND", Message: "customer not found", HTTPStatus: http.StatusNotFound, Err: err}
				}
				return fmt.Errorf("get customer: %w", err)
			}
			customerKnown = true
		}

		tracker := cart.NewTracker(in.PharmacyID, stockChecker{q})
		for _, l := range in.Lines {
			priced, err := s.priceLine(ctx, q, l.ProductID, l.Qty, now, customerKnown, in.SeniorConfirmed)
			if err != nil {
				return err
			}
			if err := tracker.SetQuantity(ctx, priced, l.Qty); err != nil {
				if errors.Is(err, cart.ErrInsufficientStock) {
					return &common.AppError{Code: "INSUFFICIENT_STOCK", Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
				}
				return err
			}
		}
		lines := tracker.Lines()
		totals := tracker.Totals()

		walletBalance := money.Zero
		if customerKnown {
			var err error
			walletBalance, err = s.Ledger.Balance(ctx, q, *in.CustomerID)
			if err != nil {
				return fmt.Errorf("wallet balance: %w", err)
			}
		}
		settled, err := settlement.Settle(totals.Total, in.Tenders, walletBalance)
		if err != nil {
			return mapSettlementErr(err)
		}

		// All validations passed; mutations begin here.
		for _, l := range lines {
			if l.IsFreeUnit {
				continue
			}
			need := l.Qty + cart.FreeUnits(l.Qty, l.RequiredCount)
			if err := q.DepleteStock(ctx, in.PharmacyID, l.ProductID, need); err != nil {
				if errors.Is(err, repo.ErrInsufficientStock) {
					return &common.AppError{Code: "INSUFFICIENT_STOCK", Message: "stock changed during checkout", HTTPStatus: http.StatusConflict, Err: err}
				}
				return fmt.Errorf("deplete stock: %w", err)
			}
		}

		if settled.Tenders.Wallet.Sign() > 0 {
			applied, err := s.Ledger.Debit(ctx, q, *in.CustomerID, settled.Tenders.Wallet, wallet.MotiveSalePayment, in.PharmacyID)
			if err != nil {
				return mapWalletErr(err)
			}
			if !applied.Equal(settled.Tenders.Wallet) {
				// The balance moved between Settle and Debit.
				return &common.AppError{Code: "TRANSACTION_ABORTED", Message: "wallet balance changed during checkout", HTTPStatus: http.StatusConflict}
			}
			countWallet("debit", wallet.MotiveSalePayment)
		}
		if customerKnown && totals.AccrualTotal.Sign() > 0 {
			if _, err := s.Ledger.Credit(ctx, q, *in.CustomerID, totals.AccrualTotal, wallet.MotiveSaleAccrual, in.PharmacyID); err != nil {
				return mapWalletErr(err)
			}
			countWallet("credit", wallet.MotiveSaleAccrual)
		}

		t := sale.Transaction{
			ID:                 uuid.New(),
			PharmacyID:         in.PharmacyID,
			CustomerID:         in.CustomerID,
			Lines:              lines,
			Total:              totals.Total,
			DiscountTotal:      totals.DiscountTotal,
			WalletAccrualTotal: totals.AccrualTotal,
			Change:             settled.Change,
			CreatedAt:          now.UTC(),
		}
		t.Tenders = tenderList(settled.Tenders)

		if err := s.insertWithFolio(ctx, q, &t, now); err != nil {
			return err
		}

		bus := events.Bus{Store: q, Notifiers: s.Notifiers}
		if _, err := bus.Emit(ctx, events.TopicSaleCompleted, t.ID, map[string]any{
			"folio":      t.Folio,
			"pharmacyId": t.PharmacyID.String(),
			"total":      t.Total.StringFixed(2),
		}); err != nil {
			return fmt.Errorf("emit sale event: %w", err)
		}

		out = t
		return nil
	})
	if err != nil {
		if obs.SalesTotal != nil {
			obs.SalesTotal.WithLabelValues("rejected").Inc()
		}
		return sale.Transaction{}, err
	}
	if obs.SalesTotal != nil {
		obs.SalesTotal.WithLabelValues("completed").Inc()
		obs.SaleAmount.Observe(out.Total.InexactFloat64())
	}
	return out, nil
}

// insertWithFolio draws folios until the uniqueness constraint accepts one.
func (s *Service) insertWithFolio(ctx context.Context, q Store, t *sale.Transaction, now time.Time) error {
	for attempt := 0; attempt < folioAttempts; attempt++ {
		t.Folio = sale.NewFolio(sale.FolioPrefixSale, now)
		err := q.InsertSale(ctx, *t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrDuplicateFolio) {
			return fmt.Errorf("insert sale: %w", err)
		}
		if obs.FolioRetries != nil {
			obs.FolioRetries.Inc()
		}
	}
	return fmt.Errorf("insert sale: folio collisions exhausted after %d attempts", folioAttempts)
}

func (s *Service) priceLine(ctx context.Context, q Store, productID uuid.UUID, qty int, now time.Time, customerKnown, seniorConfirmed bool) (cart.Line, error) {
	product, err := q.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return cart.Line{}, &common.AppError{Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound, Err: err, Details: map[string]any{"productId": productID.String()}}
		}
		return cart.Line{}, fmt.Errorf("get product: %w", err)
	}
	promos, err := q.ListPromotions(ctx, productID)
	if err != nil {
		return cart.Line{}, fmt.Errorf("list promotions: %w", err)
	}
	rules, err := catalog.BuildRuleSet(promos)
	if err != nil {
		return cart.Line{}, &common.AppError{Code: "VALIDATION_ERROR", Message: "product has malformed promotion rules", HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	}
	return pricing.PriceCartLine(pricing.LineRequest{
		ProductID:       product.ID,
		Name:            product.Name,
		BasePrice:       product.BasePrice,
		Category:        product.Category,
		SeniorEligible:  product.SeniorEligible,
		Rules:           rules,
		Date:            now,
		Qty:             qty,
		CustomerKnown:   customerKnown,
		SeniorConfirmed: seniorConfirmed,
	}), nil
}

// PreviewRequest prices one line without committing anything.
type PreviewRequest struct {
	PharmacyID      uuid.UUID  `json:"pharmacyId" validate:"required"`
	ProductID       uuid.UUID  `json:"productId" validate:"required"`
	Qty             int        `json:"qty" validate:"gt=0"`
	CustomerID      *uuid.UUID `json:"customerId,omitempty"`
	SeniorConfirmed bool       `json:"seniorConfirmed"`
}

// Preview is the live line pricing the register shows while scanning. It uses
// the same pricing path as Create, so the preview can never drift from the
// committed ticket.
func (s *Service) Preview(ctx context.Context, in PreviewRequest) ([]cart.Line, cart.Totals, error) {
	now := s.now()
	customerKnown := in.CustomerID != nil
	priced, err := s.priceLine(ctx, s.Q, in.ProductID, in.Qty, now, customerKnown, in.SeniorConfirmed)
	if err != nil {
		return nil, cart.Totals{}, err
	}
	tracker := cart.NewTracker(in.PharmacyID, stockChecker{s.Q})
	if err := tracker.SetQuantity(ctx, priced, in.Qty); err != nil {
		if errors.Is(err, cart.ErrInsufficientStock) {
			return nil, cart.Totals{}, &common.AppError{Code: "INSUFFICIENT_STOCK", Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
		}
		return nil, cart.Totals{}, err
	}
	return tracker.Lines(), tracker.Totals(), nil
}

// GetSale loads a persisted sale by folio.
func (s *Service) GetSale(ctx context.Context, folio string) (sale.Transaction, error) {
	if !sale.ValidFolio(folio) {
		return sale.Transaction{}, &common.AppError{Code: "BAD_REQUEST", Message: "malformed folio", HTTPStatus: http.StatusBadRequest}
	}
	t, err := s.Q.GetSaleByFolio(ctx, folio)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return sale.Transaction{}, &common.AppError{Code: "NOT_FOUND", Message: "sale not found", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return sale.Transaction{}, fmt.Errorf("get sale: %w", err)
	}
	return t, nil
}

type stockChecker struct{ q Store }

func (s stockChecker) AvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error) {
	return s.q.GetAvailableStock(ctx, pharmacyID, productID)
}

func tenderList(t settlement.Tenders) []sale.Tender {
	var out []sale.Tender
	if t.Cash.Sign() > 0 {
		out = append(out, sale.Tender{Method: settlement.MethodCash, Amount: t.Cash})
	}
	if t.Card.Sign() > 0 {
		out = append(out, sale.Tender{Method: settlement.MethodCard, Amount: t.Card})
	}
	if t.Transfer.Sign() > 0 {
		out = append(out, sale.Tender{Method: settlement.MethodTransfer, Amount: t.Transfer})
	}
	if t.Wallet.Sign() > 0 {
		out = append(out, sale.Tender{Method: settlement.MethodWallet, Amount: t.Wallet})
	}
	return out
}

func mapSettlementErr(err error) error {
	code := ""
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, settlement.ErrInsufficientWalletBalance):
		code = "WALLET_INSUFFICIENT"
	case errors.Is(err, settlement.ErrDigitalExceedsTotal):
		code = "DIGITAL_EXCEEDS_TOTAL"
	case errors.Is(err, settlement.ErrCashOverpay):
		code = "CASH_OVERPAY"
	case errors.Is(err, settlement.ErrInsufficientPayment):
		code = "INSUFFICIENT_PAYMENT"
	case errors.Is(err, settlement.ErrNegativeTender):
		code = "NEGATIVE_TENDER"
		status = http.StatusBadRequest
	default:
		return err
	}
	if obs.SettlementRejections != nil {
		obs.SettlementRejections.WithLabelValues(code).Inc()
	}
	return &common.AppError{Code: code, Message: err.Error(), HTTPStatus: status, Err: err}
}

func mapWalletErr(err error) error {
	if errors.Is(err, wallet.ErrConcurrencyConflict) {
		return &common.AppError{Code: "TRANSACTION_ABORTED", Message: "concurrent wallet update, retry the checkout", HTTPStatus: http.StatusConflict, Err: err}
	}
	return err
}

func countWallet(direction, motive string) {
	if obs.WalletMovements != nil {
		obs.WalletMovements.WithLabelValues(direction, motive).Inc()
	}
}
