package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-promo/internal/domain/checkout"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_id, ip, items, codes, applied,
		subtotal, discount, shipping_discount, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getOrderSQL = `SELECT id, customer_id, ip, items, codes, applied,
		subtotal, discount, shipping_discount, total, status, created_at, cancelled_at
		FROM orders WHERE id = $1`

	cancelOrderSQL = `UPDATE orders SET status = 'CANCELLED', cancelled_at = $2
		WHERE id = $1 AND status <> 'CANCELLED'`

	countPlacedSQL = `SELECT count(*) FROM orders WHERE customer_id = $1 AND status = 'PLACED'`
)

var _ checkout.Repository = (*OrderRepository)(nil)

// OrderRepository implements checkout.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and applied discounts are stored as
// JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *checkout.Order) error {
	_, err := r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.CustomerID, o.IP, encodeItems(o.Items), nonNil(o.Codes), encodeApplied(o.Applied),
		o.Subtotal, o.Discount, o.ShippingDiscount, o.Total, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*checkout.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

func (r *OrderRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, cancelOrderSQL, id, at)
	if err != nil {
		return errors.Wrapf(err, "cancel order %q", id)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already cancelled; only the former is an error.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CountPlaced returns how many orders of the customer are still placed.
func (r *OrderRepository) CountPlaced(ctx context.Context, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countPlacedSQL, customerID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count orders of customer %q", customerID)
	}
	return n, nil
}

func scanOrder(row pgx.CollectableRow) (checkout.Order, error) {
	var (
		o              checkout.Order
		status         string
		items, applied []byte
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.IP, &items, &o.Codes, &applied,
		&o.Subtotal, &o.Discount, &o.ShippingDiscount, &o.Total, &status, &o.CreatedAt, &o.CancelledAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = checkout.Status(status)
	if o.Items, err = decodeItems(items); err != nil {
		return o, err
	}
	if o.Applied, err = decodeApplied(applied); err != nil {
		return o, err
	}
	return o, nil
}
