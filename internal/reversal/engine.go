// Package reversal computes the monetary effects of returns and
// cancellations: the proportional refund split across tenders, the wallet
// accrual to take back, and the promotional free units retracted together
// with the paid units. The engine is pure; persistence and the ledger debit
// happen in the returns service.
package reversal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmanova/backend-pos/internal/cart"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/sale"
)

var (
	// ErrLineNotInSale is returned when a returned product is not on the sale.
	ErrLineNotInSale = errors.New("reversal: product not on sale")
	// ErrQtyExceedsSold is returned when more units are returned than sold.
	ErrQtyExceedsSold = errors.New("reversal: returned quantity exceeds sold quantity")
	// ErrFreeLineNotRefundable is returned when a free unit is selected for
	// refund; free units are retracted alongside their paid units instead.
	ErrFreeLineNotRefundable = errors.New("reversal: free units are not individually refundable")
	// ErrNothingReturned is returned for an empty selection.
	ErrNothingReturned = errors.New("reversal: no lines selected")
	// ErrDuplicateProduct is returned when the selection lists the same
	// product more than once. Prior-reversal history is tracked per product,
	// so a split selection would count each entry against the full sold
	// quantity and refund more units than were sold.
	ErrDuplicateProduct = errors.New("reversal: product selected more than once")
)

// Item selects units of one product for return.
type Item struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Qty       int       `json:"qty" validate:"gt=0"`
	// AlreadyReturned is how many units earlier reversals of the same sale
	// took back; the service fills it from the reversal history.
	AlreadyReturned int `json:"-"`
}

// Result is the computed effect of the reversal, before the ledger clamps
// the accrual debit.
type Result struct {
	Lines        []sale.ReversalLine `json:"lines"`
	RefundTotal  money.Amount        `json:"refundTotal"`
	RefundWallet money.Amount        `json:"refundWallet"`
	RefundCash   money.Amount        `json:"refundCash"`
	// AccrualReversal is the wallet credit earned on the returned units. The
	// ledger may clamp the applied debit below this; the clamped figure is
	// what reaches the ticket.
	AccrualReversal money.Amount `json:"accrualReversal"`
}

// RequiresCustomer reports whether committing this reversal needs a customer
// record: any wallet-touching component demands one.
func (r Result) RequiresCustomer() bool {
	return r.RefundWallet.Sign() > 0 || r.AccrualReversal.Sign() > 0
}

// Compute derives the refund split for returning the selected items of a sale.
//
// The refund is split between wallet and cash in the same proportion the sale
// was paid: a sale paid 60% from the wallet refunds 60% of every returned
// line back to the wallet.
func Compute(t sale.Transaction, items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNothingReturned
	}
	res := Result{
		RefundTotal:     money.Zero,
		RefundWallet:    money.Zero,
		RefundCash:      money.Zero,
		AccrualReversal: money.Zero,
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ProductID]; dup {
			return Result{}, fmt.Errorf("%w: %s", ErrDuplicateProduct, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		line, ok := t.Line(item.ProductID)
		if !ok {
			if isFreeOnly(t, item.ProductID) {
				return Result{}, fmt.Errorf("%w: %s", ErrFreeLineNotRefundable, item.ProductID)
			}
			return Result{}, fmt.Errorf("%w: %s", ErrLineNotInSale, item.ProductID)
		}
		if item.Qty <= 0 || item.Qty+item.AlreadyReturned > line.Qty {
			return Result{}, fmt.Errorf("%w: %s sold %d, already returned %d, requested %d",
				ErrQtyExceedsSold, item.ProductID, line.Qty, item.AlreadyReturned, item.Qty)
		}

		qty := decimal.NewFromInt(int64(item.Qty))
		res.RefundTotal = res.RefundTotal.Add(line.UnitPriceFinal.Mul(qty))
		res.AccrualReversal = res.AccrualReversal.Add(line.WalletAccrualPerUnit.Mul(qty))

		res.Lines = append(res.Lines, sale.ReversalLine{
			ProductID:          item.ProductID,
			Qty:                item.Qty,
			UnitPriceFinal:     line.UnitPriceFinal,
			RetractedFreeUnits: retractedFreeUnits(line, item),
		})
	}

	share := walletShare(t)
	res.RefundWallet = money.Round2(res.RefundTotal.Mul(share))
	res.RefundCash = res.RefundTotal.Sub(res.RefundWallet)
	res.AccrualReversal = money.Round2(res.AccrualReversal)
	return res, nil
}

// walletShare is walletTenderAtSale / totalPaidAtSale, zero when the wallet
// was not used.
func walletShare(t sale.Transaction) decimal.Decimal {
	wallet := t.WalletTender()
	if wallet.Sign() <= 0 {
		return decimal.Zero
	}
	paid := t.TenderTotal()
	if paid.Sign() <= 0 {
		return decimal.Zero
	}
	return wallet.Div(paid)
}

// retractedFreeUnits recomputes the free units the remaining paid quantity
// still earns and returns the difference, accounting for units retracted by
// earlier reversals of the same sale.
func retractedFreeUnits(line cart.Line, item Item) int {
	if line.RequiredCount < 2 {
		return 0
	}
	grantedAtSale := cart.FreeUnits(line.Qty, line.RequiredCount)
	afterPrior := cart.FreeUnits(line.Qty-item.AlreadyReturned, line.RequiredCount)
	afterThis := cart.FreeUnits(line.Qty-item.AlreadyReturned-item.Qty, line.RequiredCount)
	retracted := afterPrior - afterThis
	if retracted < 0 {
		retracted = 0
	}
	if retracted > grantedAtSale {
		retracted = grantedAtSale
	}
	return retracted
}

func isFreeOnly(t sale.Transaction, productID uuid.UUID) bool {
	for _, l := range t.Lines {
		if l.ProductID == productID && l.IsFreeUnit {
			return true
		}
	}
	return false
}
