package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/store"
	"github.com/jensholdgaard/bazaar/internal/store/postgres"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAuction(seller string) *store.Listing {
	end := t0.Add(24 * time.Hour)
	return &store.Listing{
		SellerID:     seller,
		Title:        "Vintage Camera",
		Type:         store.TypeAuction,
		Price:        decimal.RequireFromString("500.00"),
		StartingBid:  decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		MinIncrement: decimal.NewNullDecimal(decimal.RequireFromString("5.00")),
		EndTime:      &end,
		Active:       true,
	}
}

func TestListingRepo_CreateAndGetByID(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewListingRepo(db, clock.Mock{T: t0})
	ctx := context.Background()

	l := newAuction("seller-1")
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.ID == 0 {
		t.Fatal("expected ID to be set after Create")
	}
	if l.Version != 1 {
		t.Errorf("Version = %d, want 1", l.Version)
	}

	got, err := repo.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Vintage Camera" {
		t.Errorf("Title = %q, want %q", got.Title, "Vintage Camera")
	}
	if !got.StartingBid.Valid || !got.StartingBid.Decimal.Equal(decimal.RequireFromString("100")) {
		t.Errorf("StartingBid = %v, want 100", got.StartingBid)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
	if got.WinnerID != nil {
		t.Errorf("WinnerID = %v, want nil", *got.WinnerID)
	}
}

func TestListingRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewListingRepo(db, clock.Real{})

	_, err := repo.GetByID(context.Background(), 4242)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
}

func TestListingRepo_UpdateVersionCheck(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewListingRepo(db, clock.Mock{T: t0})
	ctx := context.Background()

	l := newAuction("seller-1")
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := *l
	winner := "bob"
	closed := t0.Add(25 * time.Hour)
	l.Active = false
	l.WinnerID = &winner
	l.ClosedAt = &closed
	if err := repo.Update(ctx, l); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if l.Version != 2 {
		t.Errorf("Version = %d, want 2", l.Version)
	}

	stale.Title = "lost update"
	if err := repo.Update(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale Update error = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Active || got.WinnerID == nil || *got.WinnerID != "bob" {
		t.Errorf("got active=%v winner=%v, want closed with winner bob", got.Active, got.WinnerID)
	}
	if got.Title != "Vintage Camera" {
		t.Errorf("Title = %q, stale write must not apply", got.Title)
	}

	missing := newAuction("x")
	missing.ID = 9999
	missing.Version = 1
	if err := repo.Update(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update missing error = %v, want ErrNotFound", err)
	}
}

func TestListingRepo_ListFilters(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewManual(t0)
	listings := postgres.NewListingRepo(db, clk)
	watchlist := postgres.NewWatchlistRepo(db, clk)
	categories := postgres.NewCategoryRepo(db)
	ctx := context.Background()

	cat := &store.Category{Name: "Cameras", Slug: "cameras"}
	if err := categories.Create(ctx, cat); err != nil {
		t.Fatalf("Create category: %v", err)
	}

	var ids []int64
	for i, seller := range []string{"alice", "alice", "bob"} {
		clk.Advance(time.Minute)
		l := newAuction(seller)
		l.Active = i != 1
		if i == 2 {
			l.CategoryID = &cat.ID
		}
		if err := listings.Create(ctx, l); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, l.ID)
	}
	if err := watchlist.Add(ctx, "carol", ids[0]); err != nil {
		t.Fatalf("Add watch: %v", err)
	}

	tests := []struct {
		name   string
		filter store.ListingFilter
		want   []int64
	}{
		{name: "all newest first", filter: store.ListingFilter{}, want: []int64{ids[2], ids[1], ids[0]}},
		{name: "active only", filter: store.ListingFilter{ActiveOnly: true}, want: []int64{ids[2], ids[0]}},
		{name: "by seller", filter: store.ListingFilter{SellerID: "alice"}, want: []int64{ids[1], ids[0]}},
		{name: "watched", filter: store.ListingFilter{WatchedBy: "carol"}, want: []int64{ids[0]}},
		{name: "category", filter: store.ListingFilter{CategoryID: &cat.ID}, want: []int64{ids[2]}},
		{name: "paged", filter: store.ListingFilter{Limit: 1, Offset: 1}, want: []int64{ids[1]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := listings.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List returned %d listings, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("listing[%d] = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestListingRepo_DeleteCascadesBidsButNotOrders(t *testing.T) {
	db := newTestDB(t)
	clk := clock.Mock{T: t0}
	listings := postgres.NewListingRepo(db, clk)
	bids := postgres.NewBidRepo(db, clk)
	orders := postgres.NewOrderRepo(db, clk)
	ctx := context.Background()

	withBid := newAuction("alice")
	withOrder := newAuction("alice")
	for _, l := range []*store.Listing{withBid, withOrder} {
		if err := listings.Create(ctx, l); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := bids.Create(ctx, &store.Bid{ListingID: withBid.ID, BidderID: "bob", Amount: decimal.NewFromInt(120)}); err != nil {
		t.Fatalf("Create bid: %v", err)
	}
	if err := orders.Create(ctx, &store.Order{ListingID: withOrder.ID, BuyerID: "bob", Price: decimal.NewFromInt(500), Status: store.OrderCompleted}); err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if err := listings.Delete(ctx, withBid.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := bids.CountByListing(ctx, withBid.ID); n != 0 {
		t.Errorf("bids after delete = %d, want 0", n)
	}
	if err := listings.Delete(ctx, withOrder.ID); err == nil {
		t.Error("expected delete of a listing with orders to fail")
	}
	if err := listings.Delete(ctx, withBid.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}
