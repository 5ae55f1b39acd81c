package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/store"
)

const listingColumns = `l.id, l.seller_id, l.category_id, l.title, l.description, l.image_url,
	l.listing_type, l.price, l.starting_bid, l.min_increment, l.end_time, l.is_active,
	l.created_at, l.winner_id, l.closed_at, l.version`

// ListingRepo implements store.ListingRepository with sqlx.
type ListingRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewListingRepo returns a new ListingRepo.
func NewListingRepo(db sqlx.ExtContext, clk clock.Clock) *ListingRepo {
	return &ListingRepo{db: db, clock: clk}
}

func (r *ListingRepo) Create(ctx context.Context, l *store.Listing) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.clock.Now().UTC()
	}
	l.Version = 1

	query := `INSERT INTO listings (seller_id, category_id, title, description, image_url,
	            listing_type, price, starting_bid, min_increment, end_time, is_active,
	            created_at, winner_id, closed_at, version)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          RETURNING id`
	err := r.db.QueryRowxContext(ctx, query,
		l.SellerID, l.CategoryID, l.Title, l.Description, l.ImageURL,
		l.Type, l.Price, l.StartingBid, l.MinIncrement, l.EndTime, l.Active,
		l.CreatedAt, l.WinnerID, l.ClosedAt, l.Version,
	).Scan(&l.ID)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("creating listing: category: %w", store.ErrNotFound)
		}
		return fmt.Errorf("creating listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id int64) (*store.Listing, error) {
	var l store.Listing
	err := sqlx.GetContext(ctx, r.db, &l, `SELECT `+listingColumns+` FROM listings l WHERE l.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting listing %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting listing %d: %w", id, err)
	}
	return &l, nil
}

func (r *ListingRepo) Update(ctx context.Context, l *store.Listing) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE listings SET category_id = $1, title = $2, description = $3, image_url = $4,
		   listing_type = $5, price = $6, starting_bid = $7, min_increment = $8, end_time = $9,
		   is_active = $10, winner_id = $11, closed_at = $12, version = version + 1
		 WHERE id = $13 AND version = $14`,
		l.CategoryID, l.Title, l.Description, l.ImageURL,
		l.Type, l.Price, l.StartingBid, l.MinIncrement, l.EndTime,
		l.Active, l.WinnerID, l.ClosedAt,
		l.ID, l.Version,
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("updating listing %d: category: %w", l.ID, store.ErrNotFound)
		}
		return fmt.Errorf("updating listing %d: %w", l.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating listing %d: %w", l.ID, err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, l.ID); err != nil {
			return err
		}
		return fmt.Errorf("updating listing %d at version %d: %w", l.ID, l.Version, store.ErrConflict)
	}
	l.Version++
	return nil
}

func (r *ListingRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting listing %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting listing %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting listing %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *ListingRepo) List(ctx context.Context, f store.ListingFilter) ([]store.Listing, error) {
	var (
		args  []any
		joins []string
		where []string
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.WatchedBy != "" {
		joins = append(joins, "JOIN watchlist w ON w.listing_id = l.id AND w.user_id = "+arg(f.WatchedBy))
	}
	if f.ActiveOnly {
		where = append(where, "l.is_active")
	}
	if f.SellerID != "" {
		where = append(where, "l.seller_id = "+arg(f.SellerID))
	}
	if f.WinnerID != "" {
		where = append(where, "l.winner_id = "+arg(f.WinnerID))
	}
	if f.CategoryID != nil {
		where = append(where, "l.category_id = "+arg(*f.CategoryID))
	}

	var q strings.Builder
	q.WriteString("SELECT " + listingColumns + " FROM listings l")
	for _, j := range joins {
		q.WriteString(" " + j)
	}
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY l.created_at DESC, l.id DESC")
	if f.Limit > 0 {
		q.WriteString(" LIMIT " + arg(f.Limit))
	}
	if f.Offset > 0 {
		q.WriteString(" OFFSET " + arg(f.Offset))
	}

	var listings []store.Listing
	if err := sqlx.SelectContext(ctx, r.db, &listings, q.String(), args...); err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	return listings, nil
}
