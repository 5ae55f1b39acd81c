package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors shared by every driver.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a version-checked write loses a race.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("already exists")
)

// ListingType distinguishes fixed-price listings from auctions.
type ListingType string

const (
	TypeFixedPrice ListingType = "BUY"
	TypeAuction    ListingType = "BID"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == TypeFixedPrice || t == TypeAuction
}

// OrderStatus is the state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Category groups listings.
type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Slug string `db:"slug"`
}

// Listing is a product offered either at a fixed price or by auction.
type Listing struct {
	ID           int64               `db:"id"`
	SellerID     string              `db:"seller_id"`
	CategoryID   *int64              `db:"category_id"`
	Title        string              `db:"title"`
	Description  string              `db:"description"`
	ImageURL     string              `db:"image_url"`
	Type         ListingType         `db:"listing_type"`
	Price        decimal.Decimal     `db:"price"`
	StartingBid  decimal.NullDecimal `db:"starting_bid"`
	MinIncrement decimal.NullDecimal `db:"min_increment"`
	EndTime      *time.Time          `db:"end_time"`
	Active       bool                `db:"is_active"`
	CreatedAt    time.Time           `db:"created_at"`
	WinnerID     *string             `db:"winner_id"`
	ClosedAt     *time.Time          `db:"closed_at"`
	Version      int                 `db:"version"`
}

// IsAuction reports whether the listing is sold by bidding.
func (l *Listing) IsAuction() bool { return l.Type == TypeAuction }

// Bid is an entry in the append-only bid ledger.
type Bid struct {
	ID        int64           `db:"id"`
	ListingID int64           `db:"listing_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// Order records a completed or pending purchase.
type Order struct {
	ID        int64           `db:"id"`
	BuyerID   string          `db:"buyer_id"`
	ListingID int64           `db:"listing_id"`
	Price     decimal.Decimal `db:"price"`
	Status    OrderStatus     `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
}

// WatchEntry marks a listing as watched by a user.
type WatchEntry struct {
	UserID    string    `db:"user_id"`
	ListingID int64     `db:"listing_id"`
	CreatedAt time.Time `db:"created_at"`
}

// ListingFilter narrows ListingRepository.List. Zero values mean "any".
type ListingFilter struct {
	ActiveOnly bool
	SellerID   string
	WinnerID   string
	WatchedBy  string
	CategoryID *int64
	Limit      int
	Offset     int
}

// ListingRepository defines listing persistence operations.
type ListingRepository interface {
	Create(ctx context.Context, l *Listing) error
	GetByID(ctx context.Context, id int64) (*Listing, error)
	// Update writes every mutable column of l if its stored version still
	// equals l.Version, then increments l.Version. It returns ErrConflict otherwise.
	Update(ctx context.Context, l *Listing) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f ListingFilter) ([]Listing, error)
}

// BidRepository defines bid ledger operations. Bids are never updated.
type BidRepository interface {
	Create(ctx context.Context, b *Bid) error
	// Highest returns the winning bid of a listing: largest amount, earliest
	// time, lowest id. It returns nil and no error when there are no bids.
	Highest(ctx context.Context, listingID int64) (*Bid, error)
	// ListByListing returns bids ordered by amount desc, then time asc.
	ListByListing(ctx context.Context, listingID int64) ([]Bid, error)
	ListByBidder(ctx context.Context, bidderID string) ([]Bid, error)
	CountByListing(ctx context.Context, listingID int64) (int, error)
}

// OrderRepository defines order ledger operations.
type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	CountByListing(ctx context.Context, listingID int64) (int, error)
}

// WatchlistRepository defines watchlist membership operations.
type WatchlistRepository interface {
	Add(ctx context.Context, userID string, listingID int64) error
	// Remove deletes the entry and reports whether it existed.
	Remove(ctx context.Context, userID string, listingID int64) (bool, error)
	Contains(ctx context.Context, userID string, listingID int64) (bool, error)
}

// CategoryRepository defines category persistence operations.
type CategoryRepository interface {
	Create(ctx context.Context, c *Category) error
	GetBySlug(ctx context.Context, slug string) (*Category, error)
	List(ctx context.Context) ([]Category, error)
}
