package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/store"
)

const bidColumns = `id, listing_id, bidder_id, amount, created_at`

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db sqlx.ExtContext, clk clock.Clock) *BidRepo {
	return &BidRepo{db: db, clock: clk}
}

func (r *BidRepo) Create(ctx context.Context, b *store.Bid) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.clock.Now().UTC()
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO bids (listing_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		b.ListingID, b.BidderID, b.Amount, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("creating bid on listing %d: %w", b.ListingID, store.ErrNotFound)
		}
		return fmt.Errorf("creating bid: %w", err)
	}
	return nil
}

func (r *BidRepo) Highest(ctx context.Context, listingID int64) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, r.db, &b,
		`SELECT `+bidColumns+` FROM bids WHERE listing_id = $1
		 ORDER BY amount DESC, created_at ASC, id ASC LIMIT 1`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting highest bid: %w", err)
	}
	return &b, nil
}

func (r *BidRepo) ListByListing(ctx context.Context, listingID int64) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.db, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE listing_id = $1
		 ORDER BY amount DESC, created_at ASC, id ASC`, listingID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) ListByBidder(ctx context.Context, bidderID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.db, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE bidder_id = $1 ORDER BY created_at DESC, id DESC`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing bids by bidder: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) CountByListing(ctx context.Context, listingID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT count(*) FROM bids WHERE listing_id = $1`, listingID); err != nil {
		return 0, fmt.Errorf("counting bids: %w", err)
	}
	return n, nil
}
