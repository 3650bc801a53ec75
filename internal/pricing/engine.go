package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmanova/backend-pos/internal/cart"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/promo"
)

var (
	hundred      = decimal.NewFromInt(100)
	seniorFactor = decimal.RequireFromString("0.95")
	accrualRate  = decimal.RequireFromString("0.02")
)

// Unit applies a resolved promotion to a base price and returns the final
// unit price plus the wallet accrual per unit.
//
// Rounding happens half away from zero to two places after every pass, never
// collapsed into a single combined percentage: historical tickets were
// produced by the two-step sequence and cent parity with them is required.
func Unit(basePrice money.Amount, eff promo.Effective) (unitPriceFinal, walletAccrualPerUnit money.Amount) {
	final := basePrice
	if !eff.IsQuantity {
		if eff.Pct.Sign() > 0 {
			final = money.Round2(basePrice.Mul(hundred.Sub(eff.Pct)).Div(hundred))
		}
		if eff.SeniorApplied {
			final = money.Round2(final.Mul(seniorFactor))
		}
	}
	accrual := money.Zero
	if eff.WalletEligible {
		// Accrual is computed after all discount passes.
		accrual = money.Round2(final.Mul(accrualRate))
	}
	return final, accrual
}

// LineRequest is everything needed to price one cart line. The same request
// shape serves the live preview endpoint and the checkout commit path, so the
// two can never drift apart.
type LineRequest struct {
	ProductID       uuid.UUID
	Name            string
	BasePrice       money.Amount
	Category        string
	SeniorEligible  bool
	Rules           promo.RuleSet
	Date            time.Time
	Qty             int
	CustomerKnown   bool
	SeniorConfirmed bool
}

// PriceCartLine resolves the promotion for a product and produces the priced
// paid line. Free units are not part of the result; the cart tracker derives
// them from RequiredCount.
func PriceCartLine(req LineRequest) cart.Line {
	eff, ok := promo.Resolve(promo.Input{
		Category:        req.Category,
		SeniorEligible:  req.SeniorEligible,
		Rules:           req.Rules,
		Date:            req.Date,
		CustomerKnown:   req.CustomerKnown,
		SeniorConfirmed: req.SeniorConfirmed,
	})
	line := cart.Line{
		ProductID:            req.ProductID,
		Name:                 req.Name,
		Qty:                  req.Qty,
		UnitPriceOriginal:    money.Round2(req.BasePrice),
		UnitPriceFinal:       money.Round2(req.BasePrice),
		WalletAccrualPerUnit: money.Zero,
	}
	if !ok {
		return line
	}
	line.DiscountLabel = eff.Label
	if eff.IsQuantity {
		line.RequiredCount = eff.RequiredCount
		return line
	}
	line.UnitPriceFinal, line.WalletAccrualPerUnit = Unit(line.UnitPriceOriginal, eff)
	return line
}
