package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// WatchlistRepo implements store.WatchlistRepository with sqlx.
type WatchlistRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewWatchlistRepo returns a new WatchlistRepo.
func NewWatchlistRepo(db sqlx.ExtContext, clk clock.Clock) *WatchlistRepo {
	return &WatchlistRepo{db: db, clock: clk}
}

func (r *WatchlistRepo) Add(ctx context.Context, userID string, listingID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watchlist (user_id, listing_id, created_at) VALUES ($1, $2, $3)`,
		userID, listingID, r.clock.Now().UTC())
	switch pqCode(err) {
	case "":
	case codeUniqueViolation:
		return fmt.Errorf("watching listing %d: %w", listingID, store.ErrDuplicate)
	case codeForeignKeyViolation:
		return fmt.Errorf("watching listing %d: %w", listingID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("watching listing %d: %w", listingID, err)
	}
	return nil
}

func (r *WatchlistRepo) Remove(ctx context.Context, userID string, listingID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND listing_id = $2`, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("unwatching listing %d: %w", listingID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unwatching listing %d: %w", listingID, err)
	}
	return n > 0, nil
}

func (r *WatchlistRepo) Contains(ctx context.Context, userID string, listingID int64) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, r.db, &ok,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = $1 AND listing_id = $2)`, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("checking watchlist: %w", err)
	}
	return ok, nil
}
