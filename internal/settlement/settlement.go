// Package settlement splits a sale total across the accepted tenders and
// computes change. It is pure: validation happens before any mutation is
// attempted elsewhere, so rejections are cheap to retry from the register.
package settlement

import (
	"errors"
	"fmt"

	"github.com/farmanova/backend-pos/internal/money"
)

var (
	// ErrInsufficientWalletBalance is returned when the wallet tender exceeds
	// the customer's balance.
	ErrInsufficientWalletBalance = errors.New("settlement: wallet tender exceeds balance")
	// ErrDigitalExceedsTotal is returned when card+transfer+wallet exceed the total.
	ErrDigitalExceedsTotal = errors.New("settlement: digital payment exceeds total")
	// ErrCashOverpay is returned when cash is offered although digital tenders
	// already cover the total. Deliberate strictness to catch operator error.
	ErrCashOverpay = errors.New("settlement: cash overpayment when digital covers total")
	// ErrInsufficientPayment is returned when the tenders fall short of the total.
	ErrInsufficientPayment = errors.New("settlement: insufficient payment")
	// ErrNegativeTender is returned when any proposed tender is negative.
	ErrNegativeTender = errors.New("settlement: negative tender amount")
)

// Method identifies a payment tender.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
	MethodWallet   Method = "wallet"
)

// Tenders holds the proposed amount per method. A sale carries at most one
// tender per method.
type Tenders struct {
	Cash     money.Amount `json:"cash"`
	Card     money.Amount `json:"card"`
	Transfer money.Amount `json:"transfer"`
	Wallet   money.Amount `json:"wallet"`
}

// Digital is the sum of the non-cash tenders.
func (t Tenders) Digital() money.Amount {
	return t.Card.Add(t.Transfer).Add(t.Wallet)
}

// Total is the sum of all tenders.
func (t Tenders) Total() money.Amount {
	return t.Cash.Add(t.Digital())
}

// Result is the normalized outcome of a settlement. Tenders.Cash reflects the
// net cash retained after change, not the cash physically received.
type Result struct {
	Tenders Tenders      `json:"tenders"`
	Change  money.Amount `json:"change"`
}

// Settle validates the proposed tenders against the total and the customer's
// wallet balance, in the fixed order the register relies on, and returns the
// normalized tenders plus change.
func Settle(total money.Amount, proposed Tenders, walletBalance money.Amount) (Result, error) {
	for _, a := range []money.Amount{proposed.Cash, proposed.Card, proposed.Transfer, proposed.Wallet} {
		if money.IsNegative(a) {
			return Result{}, ErrNegativeTender
		}
	}
	if proposed.Wallet.GreaterThan(walletBalance) {
		return Result{}, fmt.Errorf("%w: offered %s, balance %s",
			ErrInsufficientWalletBalance, money.FormatMXN(proposed.Wallet), money.FormatMXN(walletBalance))
	}
	digital := proposed.Digital()
	if digital.GreaterThan(total) {
		return Result{}, fmt.Errorf("%w: digital %s, total %s",
			ErrDigitalExceedsTotal, money.FormatMXN(digital), money.FormatMXN(total))
	}
	if digital.Equal(total) && proposed.Cash.Sign() > 0 {
		return Result{}, ErrCashOverpay
	}
	if proposed.Total().LessThan(total) {
		return Result{}, fmt.Errorf("%w: offered %s, total %s",
			ErrInsufficientPayment, money.FormatMXN(proposed.Total()), money.FormatMXN(total))
	}

	owedInCash := total.Sub(digital)
	change := proposed.Cash.Sub(owedInCash)
	normalized := proposed
	normalized.Cash = owedInCash
	return Result{Tenders: normalized, Change: change}, nil
}
