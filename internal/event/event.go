package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	ListingCreated   Type = "listing.created"
	ListingUpdated   Type = "listing.updated"
	ListingDeleted   Type = "listing.deleted"
	ListingPurchased Type = "listing.purchased"

	AuctionBidPlaced Type = "auction.bid_placed"
	AuctionClosed    Type = "auction.closed"
)

// Event represents a single domain event.
//
// Seq is the global append order assigned by the store; Version is the
// per-aggregate sequence number and is unique together with AggregateID.
type Event struct {
	Seq         int64           `json:"seq" db:"seq"`
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ListingAggregate returns the aggregate id used for events about a listing.
func ListingAggregate(listingID int64) string {
	return "listing-" + strconv.FormatInt(listingID, 10)
}

// ParseListingAggregate is the inverse of ListingAggregate.
func ParseListingAggregate(aggregateID string) (int64, error) {
	raw, ok := strings.CutPrefix(aggregateID, "listing-")
	if !ok {
		return 0, fmt.Errorf("aggregate %q is not a listing", aggregateID)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// New builds an event with a JSON payload. Payload types are plain structs, so
// marshalling cannot fail for them.
func New(aggregateID string, t Type, version int, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
		Version:     version,
	}
}

// ListingCreatedData is the payload for ListingCreated events.
type ListingCreatedData struct {
	SellerID     string           `json:"seller_id"`
	Title        string           `json:"title"`
	ListingType  string           `json:"listing_type"`
	Price        decimal.Decimal  `json:"price"`
	StartingBid  *decimal.Decimal `json:"starting_bid,omitempty"`
	MinIncrement *decimal.Decimal `json:"min_increment,omitempty"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
}

// ListingUpdatedData is the payload for ListingUpdated events.
type ListingUpdatedData struct {
	EditorID string   `json:"editor_id"`
	Fields   []string `json:"fields"`
}

// ListingDeletedData is the payload for ListingDeleted events.
type ListingDeletedData struct {
	DeletedBy string `json:"deleted_by"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	BidID    int64           `json:"bid_id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// AuctionClosedData is the payload for AuctionClosed events.
type AuctionClosedData struct {
	WinnerID string           `json:"winner_id,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	ClosedAt time.Time        `json:"closed_at"`
}

// ListingPurchasedData is the payload for ListingPurchased events.
type ListingPurchasedData struct {
	OrderID int64           `json:"order_id"`
	BuyerID string          `json:"buyer_id"`
	Price   decimal.Decimal `json:"price"`
}
