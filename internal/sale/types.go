// Package sale holds the persisted transaction shapes of the register: sales,
// returns and cancellations. Records are immutable once written; corrections
// happen through reversal transactions, never through mutation.
package sale

import (
	"time"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/cart"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/settlement"
)

// Tender is one recorded payment on a sale.
type Tender struct {
	Method settlement.Method `json:"method"`
	Amount money.Amount      `json:"amount"`
}

// Transaction is a completed sale.
type Transaction struct {
	ID                 uuid.UUID    `json:"id"`
	Folio              string       `json:"folio"`
	PharmacyID         uuid.UUID    `json:"pharmacyId"`
	CustomerID         *uuid.UUID   `json:"customerId,omitempty"`
	Lines              []cart.Line  `json:"lines"`
	Tenders            []Tender     `json:"tenders"`
	Total              money.Amount `json:"total"`
	DiscountTotal      money.Amount `json:"discountTotal"`
	WalletAccrualTotal money.Amount `json:"walletAccrualTotal"`
	Change             money.Amount `json:"change"`
	Cancelled          bool         `json:"cancelled"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// WalletTender returns the wallet amount paid on the sale, zero if none.
func (t Transaction) WalletTender() money.Amount {
	for _, tender := range t.Tenders {
		if tender.Method == settlement.MethodWallet {
			return tender.Amount
		}
	}
	return money.Zero
}

// TenderTotal returns the sum of all recorded tenders.
func (t Transaction) TenderTotal() money.Amount {
	sum := money.Zero
	for _, tender := range t.Tenders {
		sum = sum.Add(tender.Amount)
	}
	return sum
}

// Line returns the paid line for a product.
func (t Transaction) Line(productID uuid.UUID) (cart.Line, bool) {
	for _, l := range t.Lines {
		if l.ProductID == productID && !l.IsFreeUnit {
			return l, true
		}
	}
	return cart.Line{}, false
}

// ReversalKind distinguishes returns from cancellations.
type ReversalKind string

const (
	KindReturn       ReversalKind = "return"
	KindCancellation ReversalKind = "cancellation"
)

// ReversalLine records one returned position.
type ReversalLine struct {
	ProductID      uuid.UUID    `json:"productId"`
	Qty            int          `json:"qty"`
	UnitPriceFinal money.Amount `json:"unitPriceFinal"`
	// RetractedFreeUnits is how many promotional free units the return takes
	// back together with the paid units.
	RetractedFreeUnits int `json:"retractedFreeUnits,omitempty"`
}

// Reversal is a persisted return or cancellation referencing its sale.
type Reversal struct {
	ID             uuid.UUID      `json:"id"`
	Kind           ReversalKind   `json:"kind"`
	Folio          string         `json:"folio"`
	SaleID         uuid.UUID      `json:"saleId"`
	Lines          []ReversalLine `json:"lines"`
	RefundCash     money.Amount   `json:"refundCash"`
	RefundWallet   money.Amount   `json:"refundWallet"`
	WalletReversal money.Amount   `json:"walletReversal"`
	CreatedAt      time.Time      `json:"createdAt"`
}
