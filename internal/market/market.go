// Package market implements the marketplace operations: listing lifecycle,
// bidding, buying, watchlists and the per-user dashboard. Each operation that
// addresses a single listing runs in one unit of work and closes the listing
// first if its auction is due.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/media"
	"github.com/jensholdgaard/bazaar/internal/store"
)

const instrumentation = "github.com/jensholdgaard/bazaar/internal/market"

// Errors returned by market operations.
var (
	ErrForbidden       = errors.New("you are not allowed to do that")
	ErrUnavailable     = errors.New("listing is no longer available")
	ErrHasBids         = errors.New("auction terms cannot change once bids exist")
	ErrHasOrders       = errors.New("listing has orders and cannot be deleted")
	ErrInvalidListing  = errors.New("invalid listing")
	ErrInvalidCategory = errors.New("invalid category")
)

// Principal identifies the caller of an operation.
type Principal struct {
	UserID string
	Admin  bool
}

// CanEdit reports whether p may change l.
func (p Principal) CanEdit(l *store.Listing) bool {
	return p.Admin || (p.UserID != "" && p.UserID == l.SellerID)
}

// Manager coordinates marketplace operations.
type Manager struct {
	repos    *store.Repositories
	auctions *auction.Manager
	media    media.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock

	ordersCreated metric.Int64Counter
}

// NewManager creates a new market Manager.
func NewManager(
	repos *store.Repositories,
	auctions *auction.Manager,
	images media.Store,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	clk clock.Clock,
) (*Manager, error) {
	orders, err := mp.Meter(instrumentation).Int64Counter("bazaar.orders.created",
		metric.WithDescription("Orders created by buy-now purchases"))
	if err != nil {
		return nil, fmt.Errorf("creating orders.created counter: %w", err)
	}

	return &Manager{
		repos:         repos,
		auctions:      auctions,
		media:         images,
		logger:        logger,
		tracer:        tp.Tracer(instrumentation),
		clock:         clk,
		ordersCreated: orders,
	}, nil
}

// load fetches a listing inside tx and closes it if its auction is due.
func (m *Manager) load(ctx context.Context, tx store.Repos, id int64) (*store.Listing, error) {
	l, err := tx.Listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := m.auctions.CloseIfDue(ctx, tx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// isRejection reports whether err is a business-rule rejection. Rejections
// leave nothing half-written, so the unit of work still commits and a closure
// performed on the way is kept.
func isRejection(err error) bool {
	for _, target := range []error{
		auction.ErrNotAuction,
		auction.ErrAuctionEnded,
		auction.ErrBidTooLow,
		auction.ErrInvalidAmount,
		ErrUnavailable,
		ErrForbidden,
		ErrHasBids,
		ErrHasOrders,
		ErrInvalidListing,
		ErrInvalidCategory,
		auction.ErrIncompleteTerms,
		media.ErrUnsupportedType,
		media.ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// atomic runs fn in a unit of work. A rejection returned by fn is handed back
// to the caller after the unit of work commits.
func (m *Manager) atomic(ctx context.Context, fn func(ctx context.Context, tx store.Repos) error) error {
	var rejected error
	err := m.repos.Tx.Atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		if err := fn(ctx, tx); err != nil {
			if isRejection(err) {
				rejected = err
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return rejected
}
