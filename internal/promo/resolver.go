package promo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmanova/backend-pos/internal/money"
)

var (
	seniorPct    = decimal.NewFromInt(5)
	seniorCutoff = decimal.NewFromInt(25)
)

// Effective is the single promotion shape that governs one cart line after
// precedence has been applied.
type Effective struct {
	// Pct is the day or seasonal percentage. Zero when the line is governed
	// by a quantity promotion or by the senior discount alone.
	Pct money.Amount
	// Label appears on the ticket next to the line.
	Label string
	// WalletEligible allows the 2% cashback accrual on the final unit price.
	WalletEligible bool
	// IsQuantity marks an N-for-(N-1) promotion; pricing leaves the unit
	// price untouched and the cart injects free units instead.
	IsQuantity bool
	// RequiredCount is N for quantity promotions, zero otherwise.
	RequiredCount int
	// SeniorApplied requests the additional 5% multiplicative pass.
	SeniorApplied bool
}

// Input carries everything the resolver needs for one product on one date.
// It is immutable for the duration of a pricing call.
type Input struct {
	Category       string
	SeniorEligible bool
	Rules          RuleSet
	Date           time.Time
	// CustomerKnown gates wallet accrual; anonymous sales never accrue.
	CustomerKnown bool
	// SeniorConfirmed is the cashier's once-per-checkout INAPAM confirmation.
	SeniorConfirmed bool
}

// Resolve selects the promotion governing a product today. The second return
// is false when no promotion applies.
//
// Precedence is fixed: excluded categories first, then quantity rules, then
// the greater of day-of-week versus seasonal (seasonal wins ties), then the
// senior discount which stacks only below 25% and stands alone at 5% when
// nothing else applies.
func Resolve(in Input) (Effective, bool) {
	if CategoryExcluded(in.Category) {
		return Effective{}, false
	}

	if q := in.Rules.Quantity; q != nil && q.RequiredCount >= 2 && windowContains(q.Start, q.End, in.Date) {
		return Effective{
			Label:         fmt.Sprintf("%dx%d-Gratis", q.RequiredCount, q.RequiredCount-1),
			IsQuantity:    true,
			RequiredCount: q.RequiredCount,
			// Wallet accrual is disabled for quantity promotions regardless
			// of customer or rule flags.
			WalletEligible: false,
		}, true
	}

	var (
		pct            money.Amount
		label          string
		walletEligible bool
	)
	if d, ok := in.Rules.Days[in.Date.Weekday()]; ok && windowContains(d.Start, d.End, in.Date) && d.Pct.Sign() > 0 {
		pct = d.Pct
		label = fmt.Sprintf("%s -%s%%", weekdayES(in.Date.Weekday()), d.Pct.String())
		walletEligible = d.WalletEligible
	}
	// Seasonal is evaluated after day-of-week and overwrites on >=, so an
	// exact tie goes to the seasonal rule.
	if s := in.Rules.Seasonal; s != nil && windowContains(s.Start, s.End, in.Date) && s.Pct.Sign() > 0 && s.Pct.GreaterThanOrEqual(pct) {
		pct = s.Pct
		label = fmt.Sprintf("Temporada -%s%%", s.Pct.String())
		walletEligible = s.WalletEligible
	}

	senior := in.SeniorConfirmed && in.SeniorEligible

	if pct.Sign() == 0 {
		if !senior {
			return Effective{}, false
		}
		// Senior discount alone: flat 5%, wallet forced on for known customers.
		return Effective{
			Label:          fmt.Sprintf("INAPAM -%s%%", seniorPct.String()),
			WalletEligible: in.CustomerKnown,
			SeniorApplied:  true,
		}, true
	}

	eff := Effective{
		Pct:            pct,
		Label:          label,
		WalletEligible: walletEligible && in.CustomerKnown,
	}
	if senior && pct.LessThan(seniorCutoff) {
		eff.SeniorApplied = true
		eff.Label = label + " +INAPAM"
	}
	return eff, true
}

func weekdayES(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "Lunes"
	case time.Tuesday:
		return "Martes"
	case time.Wednesday:
		return "Miércoles"
	case time.Thursday:
		return "Jueves"
	case time.Friday:
		return "Viernes"
	case time.Saturday:
		return "Sábado"
	default:
		return "Domingo"
	}
}
