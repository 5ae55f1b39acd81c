package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/store"
)

type listingRequest struct {
	Title        string              `json:"title" validate:"required,max=200"`
	Description  string              `json:"description" validate:"max=5000"`
	Category     string              `json:"category" validate:"max=100"`
	ListingType  store.ListingType   `json:"listing_type" validate:"required,oneof=BUY BID"`
	Price        decimal.Decimal     `json:"price" validate:"gt=0"`
	StartingBid  decimal.NullDecimal `json:"starting_bid" validate:"omitempty,gt=0"`
	MinIncrement decimal.NullDecimal `json:"min_increment" validate:"omitempty,gt=0"`
	EndTime      *time.Time          `json:"end_time" validate:"required_if=ListingType BID"`
}

func (r listingRequest) input() market.ListingInput {
	return market.ListingInput{
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		Type:         r.ListingType,
		Price:        r.Price,
		StartingBid:  r.StartingBid,
		MinIncrement: r.MinIncrement,
		EndTime:      r.EndTime,
	}
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func money(nd decimal.NullDecimal) *string {
	if !nd.Valid {
		return nil
	}
	s := market.Money(nd.Decimal)
	return &s
}

type listingResponse struct {
	ID           int64             `json:"id"`
	SellerID     string            `json:"seller_id"`
	CategoryID   *int64            `json:"category_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	ImageURL     string            `json:"image_url,omitempty"`
	ListingType  store.ListingType `json:"listing_type"`
	IsAuction    bool              `json:"is_auction"`
	Price        string            `json:"price"`
	StartingBid  *string           `json:"starting_bid"`
	MinIncrement *string           `json:"min_increment"`
	EndTime      *time.Time        `json:"end_time"`
	IsActive     bool              `json:"is_active"`
	WinnerID     *string           `json:"winner_id"`
	ClosedAt     *time.Time        `json:"closed_at"`
	CreatedAt    time.Time         `json:"created_at"`
	Version      int               `json:"version"`
}

func toListing(l *store.Listing) listingResponse {
	return listingResponse{
		ID:           l.ID,
		SellerID:     l.SellerID,
		CategoryID:   l.CategoryID,
		Title:        l.Title,
		Description:  l.Description,
		ImageURL:     l.ImageURL,
		ListingType:  l.Type,
		IsAuction:    l.IsAuction(),
		Price:        market.Money(l.Price),
		StartingBid:  money(l.StartingBid),
		MinIncrement: money(l.MinIncrement),
		EndTime:      l.EndTime,
		IsActive:     l.Active,
		WinnerID:     l.WinnerID,
		ClosedAt:     l.ClosedAt,
		CreatedAt:    l.CreatedAt,
		Version:      l.Version,
	}
}

func toListings(ls []store.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for i := range ls {
		out = append(out, toListing(&ls[i]))
	}
	return out
}

type bidResponse struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func toBid(b *store.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		ListingID: b.ListingID,
		BidderID:  b.BidderID,
		Amount:    market.Money(b.Amount),
		CreatedAt: b.CreatedAt,
	}
}

func toBids(bs []store.Bid) []bidResponse {
	out := make([]bidResponse, 0, len(bs))
	for i := range bs {
		out = append(out, toBid(&bs[i]))
	}
	return out
}

type orderResponse struct {
	ID        int64             `json:"id"`
	BuyerID   string            `json:"buyer_id"`
	ListingID int64             `json:"listing_id"`
	Price     string            `json:"price"`
	Status    store.OrderStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

func toOrder(o *store.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		BuyerID:   o.BuyerID,
		ListingID: o.ListingID,
		Price:     market.Money(o.Price),
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
}

type detailResponse struct {
	Listing    listingResponse `json:"listing"`
	Bids       []bidResponse   `json:"bids"`
	HighestBid *bidResponse    `json:"highest_bid"`
	MinimumBid *string         `json:"minimum_bid"`
	Watching   bool            `json:"watching"`
}

func toDetail(d *market.Detail) detailResponse {
	out := detailResponse{
		Listing:    toListing(&d.Listing),
		Bids:       toBids(d.Bids),
		MinimumBid: money(d.MinimumBid),
		Watching:   d.Watching,
	}
	if d.Highest != nil {
		h := toBid(d.Highest)
		out.HighestBid = &h
	}
	return out
}

type dashboardResponse struct {
	Selling   []listingResponse `json:"selling"`
	Bids      []bidResponse     `json:"bids"`
	Watchlist []listingResponse `json:"watchlist"`
	Orders    []orderResponse   `json:"orders"`
	Won       []listingResponse `json:"won"`
}

func toDashboard(d *market.Dashboard) dashboardResponse {
	orders := make([]orderResponse, 0, len(d.Orders))
	for i := range d.Orders {
		orders = append(orders, toOrder(&d.Orders[i]))
	}
	return dashboardResponse{
		Selling:   toListings(d.Selling),
		Bids:      toBids(d.Bids),
		Watchlist: toListings(d.Watchlist),
		Orders:    orders,
		Won:       toListings(d.Won),
	}
}

type categoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func toCategory(c *store.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug}
}

type listingEventResponse struct {
	Seq       int64           `json:"seq"`
	ListingID int64           `json:"listing_id"`
	Type      event.Type      `json:"type"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

func toListingEvents(es []market.ListingEvent) []listingEventResponse {
	out := make([]listingEventResponse, 0, len(es))
	for _, e := range es {
		out = append(out, listingEventResponse{
			Seq:       e.Seq,
			ListingID: e.ListingID,
			Type:      e.Type,
			Version:   e.Version,
			Data:      e.Data,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
