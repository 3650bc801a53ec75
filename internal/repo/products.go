package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farmanova/backend-pos/internal/money"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repo: not found")

// ErrInsufficientStock is returned when a depletion would drive stock negative.
var ErrInsufficientStock = errors.New("repo: insufficient stock")

// Product is the catalog row needed to price a cart line.
type Product struct {
	ID             uuid.UUID
	Name           string
	Category       string
	BasePrice      money.Amount
	SeniorEligible bool
}

// PromotionRow is one stored promotion rule, loosely shaped; the catalog
// boundary validates it into a tagged rule.
type PromotionRow struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	Kind           string // day | seasonal | quantity
	Weekday        *int
	Pct            *money.Amount
	RequiredCount  *int
	StartsOn       *string
	EndsOn         *string
	WalletEligible bool
}

// GetProduct loads one product by id.
func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	const sql = `SELECT id, name, category, base_price::text, senior_eligible
FROM products WHERE id = $1`
	var (
		p     Product
		price string
	)
	if err := q.db.QueryRow(ctx, sql, id).Scan(&p.ID, &p.Name, &p.Category, &price, &p.SeniorEligible); err != nil {
		return Product{}, mapNoRows(err)
	}
	var err error
	p.BasePrice, err = money.FromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("parse base price: %w", err)
	}
	return p, nil
}

// ListPromotions loads the stored promotion rows for a product.
func (q *Queries) ListPromotions(ctx context.Context, productID uuid.UUID) ([]PromotionRow, error) {
	const sql = `SELECT id, product_id, kind, weekday, pct::text, required_count,
	starts_on::text, ends_on::text, wallet_eligible
FROM product_promotions WHERE product_id = $1 ORDER BY kind, weekday`
	rows, err := q.db.Query(ctx, sql, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PromotionRow
	for rows.Next() {
		var (
			r   PromotionRow
			pct *string
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Kind, &r.Weekday, &pct, &r.RequiredCount, &r.StartsOn, &r.EndsOn, &r.WalletEligible); err != nil {
			return nil, err
		}
		if pct != nil {
			v, err := money.FromString(*pct)
			if err != nil {
				return nil, fmt.Errorf("parse promotion pct: %w", err)
			}
			r.Pct = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetAvailableStock returns units on hand for a product at a pharmacy.
// Missing inventory rows count as zero.
func (q *Queries) GetAvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error) {
	const sql = `SELECT COALESCE(on_hand, 0) FROM inventory
WHERE pharmacy_id = $1 AND product_id = $2`
	var onHand int
	err := q.db.QueryRow(ctx, sql, pharmacyID, productID).Scan(&onHand)
	if err != nil {
		if errors.Is(mapNoRows(err), ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return onHand, nil
}

// DepleteStock removes quantity units, failing without partial effect when
// stock is insufficient. The guard in the WHERE clause makes the depletion
// atomic under concurrent checkouts.
func (q *Queries) DepleteStock(ctx context.Context, pharmacyID, productID uuid.UUID, quantity int) error {
	const sql = `UPDATE inventory SET on_hand = on_hand - $3
WHERE pharmacy_id = $1 AND product_id = $2 AND on_hand >= $3`
	tag, err := q.db.Exec(ctx, sql, pharmacyID, productID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// RestoreStock returns units to inventory, used by returns and cancellations.
func (q *Queries) RestoreStock(ctx context.Context, pharmacyID, productID uuid.UUID, quantity int) error {
	const sql = `INSERT INTO inventory (pharmacy_id, product_id, on_hand)
VALUES ($1, $2, $3)
ON CONFLICT (pharmacy_id, product_id) DO UPDATE SET on_hand = inventory.on_hand + EXCLUDED.on_hand`
	_, err := q.db.Exec(ctx, sql, pharmacyID, productID, quantity)
	return err
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
