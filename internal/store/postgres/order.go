package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// OrderRepo implements store.OrderRepository with sqlx.
type OrderRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewOrderRepo returns a new OrderRepo.
func NewOrderRepo(db sqlx.ExtContext, clk clock.Clock) *OrderRepo {
	return &OrderRepo{db: db, clock: clk}
}

func (r *OrderRepo) Create(ctx context.Context, o *store.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.clock.Now().UTC()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO orders (buyer_id, listing_id, price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		o.BuyerID, o.ListingID, o.Price, o.Status, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("creating order for listing %d: %w", o.ListingID, store.ErrNotFound)
		}
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]store.Order, error) {
	var orders []store.Order
	err := sqlx.SelectContext(ctx, r.db, &orders,
		`SELECT id, buyer_id, listing_id, price, status, created_at
		 FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) CountByListing(ctx context.Context, listingID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT count(*) FROM orders WHERE listing_id = $1`, listingID); err != nil {
		return 0, fmt.Errorf("counting orders: %w", err)
	}
	return n, nil
}
