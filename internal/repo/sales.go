package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/farmanova/backend-pos/internal/cart"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/sale"
	"github.com/farmanova/backend-pos/internal/settlement"
)

// ErrDuplicateFolio is returned when a folio collides with an existing one;
// the caller draws a fresh folio and retries.
var ErrDuplicateFolio = errors.New("repo: duplicate folio")

const pgUniqueViolation = "23505"

// InsertSale persists the sale header, its lines and its tenders. Callers run
// this inside the checkout transaction.
func (q *Queries) InsertSale(ctx context.Context, t sale.Transaction) error {
	const header = `INSERT INTO sales
(id, folio, pharmacy_id, customer_id, total, discount_total, wallet_accrual_total, change, cancelled, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`
	_, err := q.db.Exec(ctx, header,
		t.ID, t.Folio, t.PharmacyID, t.CustomerID,
		t.Total.StringFixed(2), t.DiscountTotal.StringFixed(2),
		t.WalletAccrualTotal.StringFixed(2), t.Change.StringFixed(2), t.CreatedAt)
	if err != nil {
		return mapUnique(err)
	}

	const line = `INSERT INTO sale_lines
(id, sale_id, product_id, name, qty, unit_price_original, unit_price_final,
 discount_label, wallet_accrual_per_unit, is_free_unit, required_count, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for i, l := range t.Lines {
		if _, err := q.db.Exec(ctx, line,
			uuid.New(), t.ID, l.ProductID, l.Name, l.Qty,
			l.UnitPriceOriginal.StringFixed(2), l.UnitPriceFinal.StringFixed(2),
			l.DiscountLabel, l.WalletAccrualPerUnit.StringFixed(2),
			l.IsFreeUnit, l.RequiredCount, i); err != nil {
			return err
		}
	}

	const tender = `INSERT INTO sale_tenders (sale_id, method, amount) VALUES ($1, $2, $3)`
	for _, tn := range t.Tenders {
		if _, err := q.db.Exec(ctx, tender, t.ID, string(tn.Method), tn.Amount.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

// GetSaleByFolio loads a full sale with lines and tenders.
func (q *Queries) GetSaleByFolio(ctx context.Context, folio string) (sale.Transaction, error) {
	const header = `SELECT id, folio, pharmacy_id, customer_id,
	total::text, discount_total::text, wallet_accrual_total::text, change::text, cancelled, created_at
FROM sales WHERE folio = $1`
	var (
		t                                sale.Transaction
		total, discount, accrual, change string
	)
	err := q.db.QueryRow(ctx, header, folio).Scan(
		&t.ID, &t.Folio, &t.PharmacyID, &t.CustomerID,
		&total, &discount, &accrual, &change, &t.Cancelled, &t.CreatedAt)
	if err != nil {
		return sale.Transaction{}, mapNoRows(err)
	}
	if t.Total, err = money.FromString(total); err != nil {
		return sale.Transaction{}, err
	}
	if t.DiscountTotal, err = money.FromString(discount); err != nil {
		return sale.Transaction{}, err
	}
	if t.WalletAccrualTotal, err = money.FromString(accrual); err != nil {
		return sale.Transaction{}, err
	}
	if t.Change, err = money.FromString(change); err != nil {
		return sale.Transaction{}, err
	}

	if t.Lines, err = q.listSaleLines(ctx, t.ID); err != nil {
		return sale.Transaction{}, err
	}
	if t.Tenders, err = q.listSaleTenders(ctx, t.ID); err != nil {
		return sale.Transaction{}, err
	}
	return t, nil
}

// MarkSaleCancelled flags the sale as cancelled. The sale record itself stays
// immutable apart from this flag; monetary corrections live on the reversal.
func (q *Queries) MarkSaleCancelled(ctx context.Context, saleID uuid.UUID) error {
	const sql = `UPDATE sales SET cancelled = true WHERE id = $1 AND cancelled = false`
	tag, err := q.db.Exec(ctx, sql, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) listSaleLines(ctx context.Context, saleID uuid.UUID) ([]cart.Line, error) {
	const sql = `SELECT product_id, name, qty, unit_price_original::text, unit_price_final::text,
	discount_label, wallet_accrual_per_unit::text, is_free_unit, required_count
FROM sale_lines WHERE sale_id = $1 ORDER BY position`
	rows, err := q.db.Query(ctx, sql, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cart.Line
	for rows.Next() {
		var (
			l                    cart.Line
			orig, final, accrual string
		)
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Qty, &orig, &final, &l.DiscountLabel, &accrual, &l.IsFreeUnit, &l.RequiredCount); err != nil {
			return nil, err
		}
		if l.UnitPriceOriginal, err = money.FromString(orig); err != nil {
			return nil, err
		}
		if l.UnitPriceFinal, err = money.FromString(final); err != nil {
			return nil, err
		}
		if l.WalletAccrualPerUnit, err = money.FromString(accrual); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *Queries) listSaleTenders(ctx context.Context, saleID uuid.UUID) ([]sale.Tender, error) {
	const sql = `SELECT method, amount::text FROM sale_tenders WHERE sale_id = $1 ORDER BY method`
	rows, err := q.db.Query(ctx, sql, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sale.Tender
	for rows.Next() {
		var (
			method string
			amount string
			t      sale.Tender
		)
		if err := rows.Scan(&method, &amount); err != nil {
			return nil, err
		}
		t.Method = settlement.Method(method)
		if t.Amount, err = money.FromString(amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertReversal persists a return or cancellation with its lines.
func (q *Queries) InsertReversal(ctx context.Context, r sale.Reversal) error {
	const header = `INSERT INTO reversals
(id, kind, folio, sale_id, refund_cash, refund_wallet, wallet_reversal, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := q.db.Exec(ctx, header,
		r.ID, string(r.Kind), r.Folio, r.SaleID,
		r.RefundCash.StringFixed(2), r.RefundWallet.StringFixed(2),
		r.WalletReversal.StringFixed(2), r.CreatedAt); err != nil {
		return mapUnique(err)
	}
	const line = `INSERT INTO reversal_lines
(reversal_id, product_id, qty, unit_price_final, retracted_free_units)
VALUES ($1, $2, $3, $4, $5)`
	for _, l := range r.Lines {
		if _, err := q.db.Exec(ctx, line, r.ID, l.ProductID, l.Qty, l.UnitPriceFinal.StringFixed(2), l.RetractedFreeUnits); err != nil {
			return err
		}
	}
	return nil
}

// SumReturnedQty returns how many units of a product previous reversals of the
// sale already took back.
func (q *Queries) SumReturnedQty(ctx context.Context, saleID, productID uuid.UUID) (int, error) {
	const sql = `SELECT COALESCE(SUM(rl.qty), 0) FROM reversal_lines rl
JOIN reversals r ON r.id = rl.reversal_id
WHERE r.sale_id = $1 AND rl.product_id = $2`
	var qty int
	if err := q.db.QueryRow(ctx, sql, saleID, productID).Scan(&qty); err != nil {
		return 0, err
	}
	return qty, nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateFolio, pgErr.ConstraintName)
	}
	return err
}

// SaleSummary is a list row for register reconciliation queries.
type SaleSummary struct {
	Folio     string
	Total     money.Amount
	CreatedAt time.Time
}

// ListSalesByDay returns the sales of one pharmacy for one day, oldest first.
func (q *Queries) ListSalesByDay(ctx context.Context, pharmacyID uuid.UUID, day time.Time) ([]SaleSummary, error) {
	const sql = `SELECT folio, total::text, created_at FROM sales
WHERE pharmacy_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	rows, err := q.db.Query(ctx, sql, pharmacyID, start, start.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaleSummary
	for rows.Next() {
		var (
			s     SaleSummary
			total string
		)
		if err := rows.Scan(&s.Folio, &total, &s.CreatedAt); err != nil {
			return nil, err
		}
		if s.Total, err = money.FromString(total); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
