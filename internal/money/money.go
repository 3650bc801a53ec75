package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with exact decimal semantics. All engine math
// goes through shopspring/decimal so intermediate rounding matches the cent
// amounts recorded on historical tickets.
type Amount = decimal.Decimal

// Zero is the zero amount.
var Zero = decimal.Zero

// Round2 rounds half away from zero to two decimal places. Every pricing pass
// rounds through here; callers must not defer rounding to the end of a chain
// of multiplications.
func Round2(a Amount) Amount {
	return a.Round(2)
}

// FromString parses a decimal amount.
func FromString(s string) (Amount, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// MustFromString parses a decimal amount and panics on failure. For tests and
// seed data only.
func MustFromString(s string) Amount {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromCents builds an amount from integer cents.
func FromCents(cents int64) Amount {
	return decimal.New(cents, -2)
}

// Cents returns the amount in integer cents, rounding to two places first.
func Cents(a Amount) int64 {
	return Round2(a).Shift(2).IntPart()
}

// Percent returns a*(pct/100) without rounding. Callers round per pass.
func Percent(a Amount, pct Amount) Amount {
	return a.Mul(pct).Div(decimal.NewFromInt(100))
}

// IsNegative reports whether the amount is below zero.
func IsNegative(a Amount) bool {
	return a.Sign() < 0
}

// Min returns the smaller of two amounts.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FormatMXN renders an amount as "$1,234.50" for tickets and logs.
func FormatMXN(a Amount) string {
	v := Round2(a)
	neg := v.Sign() < 0
	if neg {
		v = v.Neg()
	}
	s := v.StringFixed(2)
	intPart := s[:len(s)-3]
	frac := s[len(s)-3:]
	if len(intPart) > 3 {
		var b strings.Builder
		rem := len(intPart) % 3
		if rem == 0 {
			rem = 3
		}
		b.WriteString(intPart[:rem])
		for i := rem; i < len(intPart); i += 3 {
			b.WriteByte(',')
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	out := "$" + intPart + frac
	if neg {
		return "-" + out
	}
	return out
}
