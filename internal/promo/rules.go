package promo

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmanova/backend-pos/internal/money"
)

var (
	// ErrInvalidPercent is returned when a rule percentage falls outside 0..100.
	ErrInvalidPercent = errors.New("promo: percentage out of range")
	// ErrInvalidWindow is returned when a rule window has start after end.
	ErrInvalidWindow = errors.New("promo: rule window inverted")
	// ErrInvalidRequiredCount is returned when a quantity rule requires fewer than two units.
	ErrInvalidRequiredCount = errors.New("promo: quantity rule requires at least two units")
)

// Categories that are never discounted and never accrue wallet credit.
const (
	CategoryRecargas       = "Recargas"
	CategoryServicioMedico = "Servicio Médico"
)

// CategoryExcluded reports whether products in the category are exempt from
// every promotion and from wallet accrual.
func CategoryExcluded(category string) bool {
	return category == CategoryRecargas || category == CategoryServicioMedico
}

// DayRule is a percentage discount bound to one weekday inside a date window.
type DayRule struct {
	Day            time.Weekday
	Pct            money.Amount
	Start          time.Time
	End            time.Time
	WalletEligible bool
}

// SeasonalRule is a percentage discount active for a date window regardless of weekday.
type SeasonalRule struct {
	Pct            money.Amount
	Start          time.Time
	End            time.Time
	WalletEligible bool
}

// QuantityRule grants one free unit per N-1 paid units inside a date window.
type QuantityRule struct {
	RequiredCount int
	Start         time.Time
	End           time.Time
}

// RuleSet is the validated promotion configuration of one product. A product
// carries at most one day rule per weekday plus optionally one seasonal and
// one quantity rule at the same time.
type RuleSet struct {
	Days     map[time.Weekday]DayRule
	Seasonal *SeasonalRule
	Quantity *QuantityRule
}

// Validate checks every rule in the set. It is called once at the catalog
// boundary so the resolver can assume well-formed input.
func (rs RuleSet) Validate() error {
	for day, r := range rs.Days {
		if err := validatePct(r.Pct); err != nil {
			return fmt.Errorf("day rule %s: %w", day, err)
		}
		if err := validateWindow(r.Start, r.End); err != nil {
			return fmt.Errorf("day rule %s: %w", day, err)
		}
	}
	if rs.Seasonal != nil {
		if err := validatePct(rs.Seasonal.Pct); err != nil {
			return fmt.Errorf("seasonal rule: %w", err)
		}
		if err := validateWindow(rs.Seasonal.Start, rs.Seasonal.End); err != nil {
			return fmt.Errorf("seasonal rule: %w", err)
		}
	}
	if rs.Quantity != nil {
		if rs.Quantity.RequiredCount < 2 {
			return ErrInvalidRequiredCount
		}
		if err := validateWindow(rs.Quantity.Start, rs.Quantity.End); err != nil {
			return fmt.Errorf("quantity rule: %w", err)
		}
	}
	return nil
}

func validatePct(pct money.Amount) error {
	if pct.Sign() < 0 || pct.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidPercent
	}
	return nil
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if start.After(end) {
		return ErrInvalidWindow
	}
	return nil
}

// windowContains reports whether date falls inside [start, end]. A zero bound
// is open on that side. Bounds are calendar dates, so the comparison uses the
// wall-clock day in date's own location; an evening sale west of UTC still
// belongs to its local day.
func windowContains(start, end, date time.Time) bool {
	day := calendarDay(date)
	if !start.IsZero() && day.Before(calendarDay(start)) {
		return false
	}
	if !end.IsZero() && day.After(calendarDay(end)) {
		return false
	}
	return true
}

func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
