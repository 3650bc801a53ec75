// Package returns commits reversals: partial returns and full cancellations.
// The monetary split comes from the reversal engine; this layer owns the
// transaction that restores stock, moves the wallet back, and persists the
// reversal record.
package returns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/events"
	"github.com/farmanova/backend-pos/internal/lock"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/obs"
	"github.com/farmanova/backend-pos/internal/repo"
	"github.com/farmanova/backend-pos/internal/reversal"
	"github.com/farmanova/backend-pos/internal/sale"
	"github.com/farmanova/backend-pos/internal/wallet"
)

// Store is the repository slice one reversal transaction touches.
type Store interface {
	wallet.Store
	GetSaleByFolio(ctx context.Context, folio string) (sale.Transaction, error)
	SumReturnedQty(ctx context.Context, saleID, productID uuid.UUID) (int, error)
	InsertReversal(ctx context.Context, r sale.Reversal) error
	RestoreStock(ctx context.Context, pharmacyID, productID uuid.UUID, quantity int) error
	MarkSaleCancelled(ctx context.Context, saleID uuid.UUID) error
	GetCustomer(ctx context.Context, id uuid.UUID) (repo.Customer, error)
	InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (repo.DomainEvent, error)
}

var _ Store = (*repo.Queries)(nil)

// TxRunner runs fn against a transactional Store.
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

// Request selects sale units for return. CustomerID attaches a customer when
// the original sale was anonymous and the refund touches the wallet.
type Request struct {
	Items      []reversal.Item `json:"items" validate:"required,min=1,dive"`
	CustomerID *uuid.UUID      `json:"customerId,omitempty"`
}

// Receipt is the committed reversal plus its refund breakdown.
type Receipt struct {
	Reversal sale.Reversal `json:"reversal"`
	// RefundCash and RefundWallet reconstruct the refund total exactly.
	RefundCash   money.Amount `json:"refundCash"`
	RefundWallet money.Amount `json:"refundWallet"`
	// AccrualClawedBack is the wallet debit actually applied, clamped to the
	// customer's balance at commit time.
	AccrualClawedBack money.Amount `json:"accrualClawedBack"`
}

// Service commits returns and cancellations.
type Service struct {
	Runner    TxRunner
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

// Return reverses the selected units of a sale.
func (s *Service) Return(ctx context.Context, folio string, in Request) (Receipt, error) {
	if len(in.Items) == 0 {
		return Receipt{}, &common.AppError{Code: "BAD_REQUEST", Message: "at least one item is required", HTTPStatus: http.StatusBadRequest}
	}
	return s.commit(ctx, folio, sale.KindReturn, in.Items, in.CustomerID)
}

// Cancel reverses every unit of a sale that has not already been returned and
// flags the sale as cancelled.
func (s *Service) Cancel(ctx context.Context, folio string, customerID *uuid.UUID) (Receipt, error) {
	return s.commit(ctx, folio, sale.KindCancellation, nil, customerID)
}

func (s *Service) commit(ctx context.Context, folio string, kind sale.ReversalKind, items []reversal.Item, customerID *uuid.UUID) (Receipt, error) {
	if s == nil || s.Runner == nil {
		return Receipt{}, errors.New("returns service not configured")
	}
	if !sale.ValidFolio(folio) {
		return Receipt{}, &common.AppError{Code: "BAD_REQUEST", Message: "malformed folio", HTTPStatus: http.StatusBadRequest}
	}
	run := func(ctx context.Context) (Receipt, error) {
		var out Receipt
		err := s.Runner.RunTx(ctx, func(q Store) error {
			var err error
			out, err = s.commitTx(ctx, q, folio, kind, items, customerID)
			return err
		})
		return out, err
	}
	if customerID != nil && s.Locks != nil {
		var out Receipt
		err := s.Locks.WithLock(ctx, "pos:wallet:"+customerID.String(), s.LockTTL, func(ctx context.Context) error {
			var err error
			out, err = run(ctx)
			return err
		})
		return out, err
	}
	return run(ctx)
}

func (s *Service) commitTx(ctx context.Context, q Store, folio string, kind sale.ReversalKind, items []reversal.Item, customerID *uuid.UUID) (Receipt, error) {
	t, err := q.GetSaleByFolio(ctx, folio)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Receipt{}, &common.AppError{Code: "NOT_FOUND", Message: "sale not found", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return Receipt{}, fmt.Errorf("get sale: %w", err)
	}
	if t.Cancelled {
		return Receipt{}, &common.AppError{Code: "SALE_CANCELLED", Message: "sale is already cancelled", HTTPStatus: http.StatusConflict}
	}

	if kind == sale.KindCancellation {
		items, err = s.remainingItems(ctx, q, t)
		if err != nil {
			return Receipt{}, err
		}
		if len(items) == 0 {
			return Receipt{}, &common.AppError{Code: "NOTHING_TO_CANCEL", Message: "every unit of the sale has already been returned", HTTPStatus: http.StatusConflict}
		}
	} else {
		for i := range items {
			returned, err := q.SumReturnedQty(ctx, t.ID, items[i].ProductID)
			if err != nil {
				return Receipt{}, fmt.Errorf("sum returned qty: %w", err)
			}
			items[i].AlreadyReturned = returned
		}
	}

	res, err := reversal.Compute(t, items)
	if err != nil {
		return Receipt{}, mapComputeErr(err)
	}

	refundCustomer := t.CustomerID
	if refundCustomer == nil {
		refundCustomer = customerID
	}
	if res.RequiresCustomer() {
		if refundCustomer == nil {
			return Receipt{}, &common.AppError{
				Code:       "CUSTOMER_REQUIRED",
				Message:    "wallet refunds require a customer record",
				HTTPStatus: http.StatusUnprocessableEntity,
			}
		}
		if _, err := q.GetCustomer(ctx, *refundCustomer); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return Receipt{}, &common.AppError{Code: "NOT_FOUND", Message: "customer not found", HTTPStatus: http.StatusNotFound, Err: err}
			}
			return Receipt{}, fmt.Errorf("get customer: %w", err)
		}
	}

	clawedBack := money.Zero
	if res.AccrualReversal.Sign() > 0 {
		clawedBack, err = s.Ledger.Debit(ctx, q, *refundCustomer, res.AccrualReversal, wallet.MotiveAccrualReversal, t.PharmacyID)
		if err != nil {
			return Receipt{}, mapWalletErr(err)
		}
	}
	if res.RefundWallet.Sign() > 0 {
		if _, err := s.Ledger.Credit(ctx, q, *refundCustomer, res.RefundWallet, wallet.MotiveRefund, t.PharmacyID); err != nil {
			return Receipt{}, mapWalletErr(err)
		}
	}

	for _, l := range res.Lines {
		if err := q.RestoreStock(ctx, t.PharmacyID, l.ProductID, l.Qty+l.RetractedFreeUnits); err != nil {
			return Receipt{}, fmt.Errorf("restore stock: %w", err)
		}
	}

	now := s.now()
	rev := sale.Reversal{
		ID:             uuid.New(),
		Kind:           kind,
		SaleID:         t.ID,
		Lines:          res.Lines,
		RefundCash:     res.RefundCash,
		RefundWallet:   res.RefundWallet,
		WalletReversal: clawedBack,
		CreatedAt:      now.UTC(),
	}
	prefix := sale.FolioPrefixReturn
	topic := events.TopicSaleReturned
	if kind == sale.KindCancellation {
		prefix = sale.FolioPrefixCancellation
		topic = events.TopicSaleCancelled
		if err := q.MarkSaleCancelled(ctx, t.ID); err != nil {
			return Receipt{}, fmt.Errorf("mark cancelled: %w", err)
		}
	}
	if err := s.insertWithFolio(ctx, q, &rev, prefix, now); err != nil {
		return Receipt{}, err
	}

	bus := events.Bus{Store: q, Notifiers: s.Notifiers}
	if _, err := bus.Emit(ctx, topic, t.ID, map[string]any{
		"saleFolio":     t.Folio,
		"reversalFolio": rev.Folio,
		"refundTotal":   res.RefundTotal.StringFixed(2),
	}); err != nil {
		return Receipt{}, fmt.Errorf("emit reversal event: %w", err)
	}
	if obs.ReversalsTotal != nil {
		obs.ReversalsTotal.WithLabelValues(string(kind)).Inc()
	}

	return Receipt{
		Reversal:          rev,
		RefundCash:        res.RefundCash,
		RefundWallet:      res.RefundWallet,
		AccrualClawedBack: clawedBack,
	}, nil
}

// remainingItems builds the full-cancellation selection: every paid line with
// units that earlier returns have not already taken back.
func (s *Service) remainingItems(ctx context.Context, q Store, t sale.Transaction) ([]reversal.Item, error) {
	var items []reversal.Item
	for _, l := range t.Lines {
		if l.IsFreeUnit {
			continue
		}
		returned, err := q.SumReturnedQty(ctx, t.ID, l.ProductID)
		if err != nil {
			return nil, fmt.Errorf("sum returned qty: %w", err)
		}
		if remaining := l.Qty - returned; remaining > 0 {
			items = append(items, reversal.Item{ProductID: l.ProductID, Qty: remaining, AlreadyReturned: returned})
		}
	}
	return items, nil
}

const folioAttempts = 3

func (s *Service) insertWithFolio(ctx context.Context, q Store, rev *sale.Reversal, prefix string, now time.Time) error {
	for attempt := 0; attempt < folioAttempts; attempt++ {
		rev.Folio = sale.NewFolio(prefix, now)
		err := q.InsertReversal(ctx, *rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrDuplicateFolio) {
			return fmt.Errorf("insert reversal: %w", err)
		}
		if obs.FolioRetries != nil {
			obs.FolioRetries.Inc()
		}
	}
	return fmt.Errorf("insert reversal: folio collisions exhausted after %d attempts", folioAttempts)
}

func mapComputeErr(err error) error {
	switch {
	case errors.Is(err, reversal.ErrLineNotInSale):
		return &common.AppError{Code: "LINE_NOT_IN_SALE", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, reversal.ErrQtyExceedsSold):
		return &common.AppError{Code: "QTY_EXCEEDS_SOLD", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, reversal.ErrFreeLineNotRefundable):
		return &common.AppError{Code: "FREE_UNIT_NOT_REFUNDABLE", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, reversal.ErrNothingReturned):
		return &common.AppError{Code: "BAD_REQUEST", Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	case errors.Is(err, reversal.ErrDuplicateProduct):
		return &common.AppError{Code: "BAD_REQUEST", Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	default:
		return err
	}
}

func mapWalletErr(err error) error {
	if errors.Is(err, wallet.ErrConcurrencyConflict) {
		return &common.AppError{Code: "TRANSACTION_ABORTED", Message: "concurrent wallet update, retry the reversal", HTTPStatus: http.StatusConflict, Err: err}
	}
	return err
}
