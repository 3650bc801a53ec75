package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/money"
)

// ErrInsufficientStock is returned when a quantity change cannot be covered by
// available stock; the cart is left unchanged.
var ErrInsufficientStock = errors.New("cart: insufficient stock")

// ErrLineNotFound is returned when mutating a product that is not in the cart.
var ErrLineNotFound = errors.New("cart: line not found")

// StockChecker reports available stock for a product at a pharmacy. The
// inventory collaborator owns lot and expiration ordering.
type StockChecker interface {
	AvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error)
}

// Tracker holds the lines of one cart for its lifetime and maintains the
// synthetic free-unit line of every product under a quantity promotion.
// It is not safe for concurrent use; one checkout owns one Tracker.
type Tracker struct {
	PharmacyID uuid.UUID
	Stock      StockChecker

	order []uuid.UUID
	paid  map[uuid.UUID]*Line
	free  map[uuid.UUID]*Line
}

// NewTracker returns an empty cart tracker for the given pharmacy.
func NewTracker(pharmacyID uuid.UUID, stock StockChecker) *Tracker {
	return &Tracker{
		PharmacyID: pharmacyID,
		Stock:      stock,
		paid:       make(map[uuid.UUID]*Line),
		free:       make(map[uuid.UUID]*Line),
	}
}

// SetQuantity creates or updates the paid line for a product and reconciles
// its free-unit line. The priced template carries unit prices and promotion
// shape from the pricing engine; qty is the paid quantity after the change.
// Stock for qty plus the resulting free units is validated before any state
// changes; on rejection the cart keeps its previous state.
func (t *Tracker) SetQuantity(ctx context.Context, priced Line, qty int) error {
	if qty <= 0 {
		t.Remove(priced.ProductID)
		return nil
	}
	freeUnits := FreeUnits(qty, priced.RequiredCount)

	prev := 0
	if existing, ok := t.paid[priced.ProductID]; ok {
		prev = existing.Qty
	}
	if qty+freeUnits > prev && t.Stock != nil {
		available, err := t.Stock.AvailableStock(ctx, t.PharmacyID, priced.ProductID)
		if err != nil {
			return fmt.Errorf("cart: check stock: %w", err)
		}
		if qty+freeUnits > available {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientStock, qty+freeUnits, available)
		}
	}

	line := priced
	line.Qty = qty
	line.IsFreeUnit = false
	if _, ok := t.paid[line.ProductID]; !ok {
		t.order = append(t.order, line.ProductID)
	}
	t.paid[line.ProductID] = &line

	if freeUnits > 0 {
		t.free[line.ProductID] = &Line{
			ProductID:         line.ProductID,
			Name:              line.Name,
			Qty:               freeUnits,
			UnitPriceOriginal: line.UnitPriceOriginal,
			UnitPriceFinal:    money.Zero,
			DiscountLabel:     fmt.Sprintf("%dx%d-Gratis", line.RequiredCount, line.RequiredCount-1),
			IsFreeUnit:        true,
			RequiredCount:     line.RequiredCount,
		}
	} else {
		delete(t.free, line.ProductID)
	}
	return nil
}

// Remove drops the paid line and its paired free line.
func (t *Tracker) Remove(productID uuid.UUID) {
	delete(t.paid, productID)
	delete(t.free, productID)
	for i, id := range t.order {
		if id == productID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Line returns the paid line for a product.
func (t *Tracker) Line(productID uuid.UUID) (Line, error) {
	l, ok := t.paid[productID]
	if !ok {
		return Line{}, ErrLineNotFound
	}
	return *l, nil
}

// Lines returns all lines in scan order, each free line directly after its
// paid counterpart.
func (t *Tracker) Lines() []Line {
	out := make([]Line, 0, len(t.paid)+len(t.free))
	for _, id := range t.order {
		if p, ok := t.paid[id]; ok {
			out = append(out, *p)
		}
		if f, ok := t.free[id]; ok {
			out = append(out, *f)
		}
	}
	return out
}

// Totals aggregates the current cart state.
func (t *Tracker) Totals() Totals {
	return Sum(t.Lines())
}

// Empty reports whether the cart has no paid lines.
func (t *Tracker) Empty() bool {
	return len(t.paid) == 0
}
