package event_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/event"
)

func TestListingAggregate_RoundTrip(t *testing.T) {
	id := event.ListingAggregate(42)
	if id != "listing-42" {
		t.Fatalf("ListingAggregate(42) = %q, want %q", id, "listing-42")
	}
	got, err := event.ParseListingAggregate(id)
	if err != nil {
		t.Fatalf("ParseListingAggregate() error = %v", err)
	}
	if got != 42 {
		t.Errorf("ParseListingAggregate() = %d, want 42", got)
	}
}

func TestParseListingAggregate_Invalid(t *testing.T) {
	for _, id := range []string{"auction-1", "listing-", "listing-abc"} {
		if _, err := event.ParseListingAggregate(id); err == nil {
			t.Errorf("ParseListingAggregate(%q) expected error", id)
		}
	}
}

func TestNew(t *testing.T) {
	e := event.New("listing-7", event.AuctionBidPlaced, 3, event.BidPlacedData{
		BidID:    11,
		BidderID: "u1",
		Amount:   decimal.RequireFromString("60.00"),
	})
	if e.AggregateID != "listing-7" || e.Type != event.AuctionBidPlaced || e.Version != 3 {
		t.Fatalf("unexpected event header %+v", e)
	}

	var d event.BidPlacedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if d.BidderID != "u1" || !d.Amount.Equal(decimal.NewFromInt(60)) {
		t.Errorf("payload = %+v", d)
	}
}
