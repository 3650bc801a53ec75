package repo

import (
	"context"

	"github.com/google/uuid"
)

// Customer is the register's view of a customer record.
type Customer struct {
	ID    uuid.UUID
	Name  string
	Phone string
}

// GetCustomer loads one customer by id.
func (q *Queries) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	const sql = `SELECT id, name, COALESCE(phone, '') FROM customers WHERE id = $1`
	var c Customer
	if err := q.db.QueryRow(ctx, sql, id).Scan(&c.ID, &c.Name, &c.Phone); err != nil {
		return Customer{}, mapNoRows(err)
	}
	return c, nil
}

// FindCustomerByPhone looks a customer up by exact phone match, the lookup
// cashiers use at the register.
func (q *Queries) FindCustomerByPhone(ctx context.Context, phone string) (Customer, error) {
	const sql = `SELECT id, name, COALESCE(phone, '') FROM customers WHERE phone = $1`
	var c Customer
	if err := q.db.QueryRow(ctx, sql, phone).Scan(&c.ID, &c.Name, &c.Phone); err != nil {
		return Customer{}, mapNoRows(err)
	}
	return c, nil
}

// CreateCustomer inserts a customer record. Used when the operator attaches a
// customer to a reversal whose refund includes a wallet component.
func (q *Queries) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	const sql = `INSERT INTO customers (id, name, phone) VALUES ($1, $2, NULLIF($3, ''))`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, err := q.db.Exec(ctx, sql, c.ID, c.Name, c.Phone); err != nil {
		return Customer{}, err
	}
	return c, nil
}
