package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// Paging defaults for the listing index.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// Detail is a listing with its bid history as seen by one caller.
type Detail struct {
	Listing store.Listing
	// Bids are ordered by amount desc, then time asc.
	Bids    []store.Bid
	Highest *store.Bid
	// MinimumBid is set while the auction accepts bids.
	MinimumBid decimal.NullDecimal
	Watching   bool
}

// GetListing returns listing id with its bids. Viewing a due auction closes it.
func (m *Manager) GetListing(ctx context.Context, p Principal, id int64) (*Detail, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetListing",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	var d Detail
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		d.Listing = *l

		if d.Bids, err = tx.Bids.ListByListing(ctx, id); err != nil {
			return fmt.Errorf("listing bids: %w", err)
		}
		if len(d.Bids) > 0 {
			top := d.Bids[0]
			d.Highest = &top
		}
		if auction.Open(l, m.clock.Now()) {
			d.MinimumBid = decimal.NewNullDecimal(auction.MinimumBid(l, d.Highest))
		}
		if p.UserID != "" {
			if d.Watching, err = tx.Watchlist.Contains(ctx, p.UserID, id); err != nil {
				return fmt.Errorf("checking watchlist: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListQuery selects a page of the listing index.
type ListQuery struct {
	Category string // slug
	Page     int    // 1-based
	Limit    int
}

// ListListings returns active listings, newest first.
func (m *Manager) ListListings(ctx context.Context, q ListQuery) ([]store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListListings")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	q.Limit = min(q.Limit, MaxPageSize)
	q.Page = max(q.Page, 1)

	f := store.ListingFilter{
		ActiveOnly: true,
		Limit:      q.Limit,
		Offset:     (q.Page - 1) * q.Limit,
	}
	if q.Category != "" {
		id, err := resolveCategory(ctx, m.repos.Repos, q.Category)
		if err != nil {
			return nil, err
		}
		f.CategoryID = id
	}

	listings, err := m.repos.Listings.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	return listings, nil
}

// Status is the compact state of a listing polled by clients.
type Status struct {
	ID              int64             `json:"id"`
	Title           string            `json:"title"`
	ListingType     store.ListingType `json:"listing_type"`
	IsAuction       bool              `json:"is_auction"`
	IsActive        bool              `json:"is_active"`
	Price           string            `json:"price"`
	StartingBid     *string           `json:"starting_bid"`
	MinIncrement    *string           `json:"min_increment"`
	HighestBid      *string           `json:"highest_bid"`
	TimeLeftSeconds *int64            `json:"time_left_seconds"`
	Winner          *string           `json:"winner"`
}

// Money formats an amount with two decimal places.
func Money(d decimal.Decimal) string { return d.StringFixed(2) }

func nullMoney(nd decimal.NullDecimal) *string {
	if !nd.Valid {
		return nil
	}
	s := Money(nd.Decimal)
	return &s
}

// Status reports the current state of listing id, closing it first if due.
func (m *Manager) Status(ctx context.Context, id int64) (*Status, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Status",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	var st *Status
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		highest, err := tx.Bids.Highest(ctx, id)
		if err != nil {
			return fmt.Errorf("finding highest bid: %w", err)
		}

		st = &Status{
			ID:              l.ID,
			Title:           l.Title,
			ListingType:     l.Type,
			IsAuction:       l.IsAuction(),
			IsActive:        l.Active,
			Price:           Money(l.Price),
			StartingBid:     nullMoney(l.StartingBid),
			MinIncrement:    nullMoney(l.MinIncrement),
			HighestBid:      nullMoney(auction.HighestOrStart(l, highest)),
			TimeLeftSeconds: auction.TimeLeft(l, m.clock.Now()),
			Winner:          l.WinnerID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Dashboard collects everything a user is involved in.
type Dashboard struct {
	Selling   []store.Listing
	Bids      []store.Bid
	Watchlist []store.Listing
	Orders    []store.Order
	Won       []store.Listing
}

// Dashboard returns p's listings, bids, watchlist, orders and won auctions.
func (m *Manager) Dashboard(ctx context.Context, p Principal) (*Dashboard, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Dashboard",
		trace.WithAttributes(attribute.String("user.id", p.UserID)),
	)
	defer span.End()

	if p.UserID == "" {
		return nil, ErrForbidden
	}

	var (
		d   Dashboard
		err error
	)
	if d.Selling, err = m.repos.Listings.List(ctx, store.ListingFilter{SellerID: p.UserID}); err != nil {
		return nil, fmt.Errorf("listing own listings: %w", err)
	}
	if d.Bids, err = m.repos.Bids.ListByBidder(ctx, p.UserID); err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	if d.Watchlist, err = m.repos.Listings.List(ctx, store.ListingFilter{WatchedBy: p.UserID}); err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}
	if d.Orders, err = m.repos.Orders.ListByBuyer(ctx, p.UserID); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if d.Won, err = m.repos.Listings.List(ctx, store.ListingFilter{WinnerID: p.UserID}); err != nil {
		return nil, fmt.Errorf("listing won auctions: %w", err)
	}
	return &d, nil
}

// Watchlist returns the listings p watches.
func (m *Manager) Watchlist(ctx context.Context, p Principal) ([]store.Listing, error) {
	if p.UserID == "" {
		return nil, ErrForbidden
	}
	listings, err := m.repos.Listings.List(ctx, store.ListingFilter{WatchedBy: p.UserID})
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}
	return listings, nil
}

// Categories returns all categories sorted by name.
func (m *Manager) Categories(ctx context.Context) ([]store.Category, error) {
	cats, err := m.repos.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// CreateCategory adds a category named name. Admin only.
func (m *Manager) CreateCategory(ctx context.Context, p Principal, name string) (*store.Category, error) {
	if !p.Admin {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	slug := Slugify(name)
	if name == "" || slug == "" {
		return nil, fmt.Errorf("%w: name must contain letters or digits", ErrInvalidCategory)
	}

	c := &store.Category{Name: name, Slug: slug}
	if err := m.repos.Categories.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("creating category: %w", err)
	}
	m.logger.InfoContext(ctx, "category created", "slug", slug)
	return c, nil
}

// History returns the event log of listing id. Admin only. The history of a
// deleted listing stays readable.
func (m *Manager) History(ctx context.Context, p Principal, id int64) ([]event.Event, error) {
	if !p.Admin {
		return nil, ErrForbidden
	}
	events, err := m.repos.Events.Load(ctx, event.ListingAggregate(id))
	if err != nil {
		return nil, fmt.Errorf("loading listing history: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	return events, nil
}

// ListingEvent is an event together with the listing it belongs to.
type ListingEvent struct {
	ListingID int64
	event.Event
}

// EventsByType returns every event of type t across all listings in append
// order. Admin only.
func (m *Manager) EventsByType(ctx context.Context, p Principal, t event.Type) ([]ListingEvent, error) {
	if !p.Admin {
		return nil, ErrForbidden
	}
	events, err := m.repos.Events.LoadByType(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("loading %s events: %w", t, err)
	}
	out := make([]ListingEvent, 0, len(events))
	for _, e := range events {
		id, err := event.ParseListingAggregate(e.AggregateID)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		out = append(out, ListingEvent{ListingID: id, Event: e})
	}
	return out, nil
}
