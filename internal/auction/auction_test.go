package auction_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/store"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAuction(start, inc string, end time.Time) *store.Listing {
	return &store.Listing{
		ID:           1,
		SellerID:     "alice",
		Title:        "Pocket Watch",
		Type:         store.TypeAuction,
		Price:        d("999.00"),
		StartingBid:  decimal.NewNullDecimal(d(start)),
		MinIncrement: decimal.NewNullDecimal(d(inc)),
		EndTime:      &end,
		Active:       true,
	}
}

func bid(bidder, amount string) *store.Bid {
	return &store.Bid{BidderID: bidder, Amount: d(amount)}
}

func TestValidateTerms(t *testing.T) {
	end := now.Add(time.Hour)
	tests := []struct {
		name    string
		mutate  func(l *store.Listing)
		wantErr error
	}{
		{name: "complete", mutate: func(*store.Listing) {}},
		{name: "fixed price ignores terms", mutate: func(l *store.Listing) {
			l.Type = store.TypeFixedPrice
			l.StartingBid = decimal.NullDecimal{}
		}},
		{name: "missing starting bid", mutate: func(l *store.Listing) { l.StartingBid = decimal.NullDecimal{} }, wantErr: auction.ErrIncompleteTerms},
		{name: "missing increment", mutate: func(l *store.Listing) { l.MinIncrement = decimal.NullDecimal{} }, wantErr: auction.ErrIncompleteTerms},
		{name: "missing end", mutate: func(l *store.Listing) { l.EndTime = nil }, wantErr: auction.ErrIncompleteTerms},
		{name: "zero increment", mutate: func(l *store.Listing) { l.MinIncrement = decimal.NewNullDecimal(decimal.Zero) }, wantErr: auction.ErrIncompleteTerms},
		{name: "zero start", mutate: func(l *store.Listing) { l.StartingBid = decimal.NewNullDecimal(decimal.Zero) }, wantErr: auction.ErrIncompleteTerms},
		{name: "negative start", mutate: func(l *store.Listing) { l.StartingBid = decimal.NewNullDecimal(d("-1")) }, wantErr: auction.ErrIncompleteTerms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := testAuction("50", "10", end)
			tt.mutate(l)
			if err := auction.ValidateTerms(l); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTerms() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMinimumBid(t *testing.T) {
	l := testAuction("100", "5", now.Add(time.Hour))

	if got := auction.MinimumBid(l, nil); !got.Equal(d("100")) {
		t.Errorf("MinimumBid(no bids) = %s, want 100", got)
	}
	// Bids [100, 105, 110] with increment 5: the next acceptable bid is 115.
	if got := auction.MinimumBid(l, bid("bob", "110")); !got.Equal(d("115")) {
		t.Errorf("MinimumBid(110) = %s, want 115", got)
	}
}

func TestCheckBid(t *testing.T) {
	open := now.Add(time.Hour)
	tests := []struct {
		name    string
		listing *store.Listing
		highest *store.Bid
		amount  string
		wantErr error
		wantMin string
	}{
		{name: "below starting bid", listing: testAuction("50", "10", open), amount: "40", wantErr: auction.ErrBidTooLow, wantMin: "50"},
		{name: "equal to starting bid", listing: testAuction("50", "10", open), amount: "50"},
		{name: "below highest plus increment", listing: testAuction("50", "10", open), highest: bid("bob", "50"), amount: "55", wantErr: auction.ErrBidTooLow, wantMin: "60"},
		{name: "exactly highest plus increment", listing: testAuction("50", "10", open), highest: bid("bob", "50"), amount: "60"},
		{name: "large bid", listing: testAuction("50", "10", open), highest: bid("bob", "50"), amount: "1000000"},
		{name: "ended by time", listing: testAuction("50", "10", now), amount: "100", wantErr: auction.ErrAuctionEnded},
		{name: "inactive", listing: func() *store.Listing {
			l := testAuction("50", "10", open)
			l.Active = false
			return l
		}(), amount: "100", wantErr: auction.ErrAuctionEnded},
		{name: "fixed price", listing: func() *store.Listing {
			l := testAuction("50", "10", open)
			l.Type = store.TypeFixedPrice
			return l
		}(), amount: "100", wantErr: auction.ErrNotAuction},
		{name: "zero amount", listing: testAuction("50", "10", open), amount: "0", wantErr: auction.ErrInvalidAmount},
		{name: "largest storable amount", listing: testAuction("50", "10", open), amount: "9999999999.99"},
		{name: "beyond storable amount", listing: testAuction("50", "10", open), amount: "10000000000", wantErr: auction.ErrInvalidAmount},
		{name: "sub-cent amount", listing: testAuction("50", "10", open), amount: "60.001", wantErr: auction.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auction.CheckBid(tt.listing, tt.highest, d(tt.amount), now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckBid() = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMin == "" {
				return
			}
			var below *auction.BelowMinimumError
			if !errors.As(err, &below) {
				t.Fatalf("CheckBid() = %T, want *BelowMinimumError", err)
			}
			if !below.Minimum.Equal(d(tt.wantMin)) {
				t.Errorf("Minimum = %s, want %s", below.Minimum, tt.wantMin)
			}
		})
	}
}

func TestBelowMinimumError_Message(t *testing.T) {
	err := &auction.BelowMinimumError{Minimum: d("60")}
	if got, want := err.Error(), "bid must be at least 60.00"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSettle(t *testing.T) {
	l := testAuction("50", "10", now)

	auction.Settle(l, bid("carol", "70"), now)
	if l.Active {
		t.Error("Active = true after Settle")
	}
	if l.WinnerID == nil || *l.WinnerID != "carol" {
		t.Errorf("WinnerID = %v, want carol", l.WinnerID)
	}
	if l.ClosedAt == nil || !l.ClosedAt.Equal(now) {
		t.Errorf("ClosedAt = %v, want %v", l.ClosedAt, now)
	}

	empty := testAuction("50", "10", now)
	auction.Settle(empty, nil, now)
	if empty.WinnerID != nil {
		t.Errorf("WinnerID = %v, want nil without bids", *empty.WinnerID)
	}
}

func TestDueAndOpen(t *testing.T) {
	l := testAuction("50", "10", now)

	if auction.Due(l, now.Add(-time.Second)) {
		t.Error("Due before end time")
	}
	if !auction.Due(l, now) {
		t.Error("not Due at end time")
	}
	if auction.Open(l, now) {
		t.Error("Open at end time")
	}

	l.Active = false
	if auction.Due(l, now.Add(time.Hour)) {
		t.Error("inactive listing reported Due")
	}

	fixed := testAuction("50", "10", now)
	fixed.Type = store.TypeFixedPrice
	if auction.Due(fixed, now.Add(time.Hour)) {
		t.Error("fixed-price listing reported Due")
	}
}

func TestTimeLeft(t *testing.T) {
	l := testAuction("50", "10", now.Add(90*time.Second+500*time.Millisecond))
	if got := auction.TimeLeft(l, now); got == nil || *got != 90 {
		t.Errorf("TimeLeft = %v, want 90", got)
	}
	if got := auction.TimeLeft(l, now.Add(time.Hour)); got == nil || *got != 0 {
		t.Errorf("TimeLeft after end = %v, want 0", got)
	}
	l.EndTime = nil
	if got := auction.TimeLeft(l, now); got != nil {
		t.Errorf("TimeLeft without end = %d, want nil", *got)
	}
}

func TestHighestOrStart(t *testing.T) {
	l := testAuction("50", "10", now)
	if got := auction.HighestOrStart(l, nil); !got.Valid || !got.Decimal.Equal(d("50")) {
		t.Errorf("HighestOrStart(no bids) = %v, want 50", got)
	}
	if got := auction.HighestOrStart(l, bid("bob", "65")); !got.Decimal.Equal(d("65")) {
		t.Errorf("HighestOrStart(65) = %v, want 65", got)
	}
	l.Type = store.TypeFixedPrice
	if got := auction.HighestOrStart(l, nil); got.Valid {
		t.Errorf("HighestOrStart(fixed) = %v, want null", got)
	}
}
