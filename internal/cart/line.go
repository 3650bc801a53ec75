package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmanova/backend-pos/internal/money"
)

// Line is one cart position. Paid lines are created on first scan and mutated
// on quantity changes; free lines are owned by the Tracker and mirror their
// paid counterpart.
type Line struct {
	ProductID            uuid.UUID    `json:"productId"`
	Name                 string       `json:"name"`
	Qty                  int          `json:"qty"`
	UnitPriceOriginal    money.Amount `json:"unitPriceOriginal"`
	UnitPriceFinal       money.Amount `json:"unitPriceFinal"`
	DiscountLabel        string       `json:"discountLabel,omitempty"`
	WalletAccrualPerUnit money.Amount `json:"walletAccrualPerUnit"`
	IsFreeUnit           bool         `json:"isFreeUnit"`
	// RequiredCount is N for lines under an N-for-(N-1) promotion, zero otherwise.
	RequiredCount int `json:"requiredCount,omitempty"`
}

// Subtotal is qty times the final unit price.
func (l Line) Subtotal() money.Amount {
	return l.UnitPriceFinal.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// DiscountAmount is what the line saved versus the original price, including
// the full original price of free units.
func (l Line) DiscountAmount() money.Amount {
	perUnit := l.UnitPriceOriginal.Sub(l.UnitPriceFinal)
	return perUnit.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// AccrualAmount is the wallet credit the line earns.
func (l Line) AccrualAmount() money.Amount {
	return l.WalletAccrualPerUnit.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Totals aggregates a set of lines into ticket totals.
type Totals struct {
	Total         money.Amount `json:"total"`
	DiscountTotal money.Amount `json:"discountTotal"`
	AccrualTotal  money.Amount `json:"walletAccrualTotal"`
}

// Sum computes ticket totals over lines, free lines included.
func Sum(lines []Line) Totals {
	t := Totals{Total: money.Zero, DiscountTotal: money.Zero, AccrualTotal: money.Zero}
	for _, l := range lines {
		t.Total = t.Total.Add(l.Subtotal())
		t.DiscountTotal = t.DiscountTotal.Add(l.DiscountAmount())
		t.AccrualTotal = t.AccrualTotal.Add(l.AccrualAmount())
	}
	return t
}

// FreeUnits returns how many free units a paid quantity earns under an
// N-for-(N-1) promotion: floor(qty / (N-1)).
func FreeUnits(qty, requiredCount int) int {
	if requiredCount < 2 || qty <= 0 {
		return 0
	}
	return qty / (requiredCount - 1)
}
