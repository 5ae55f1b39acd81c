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

func TestBidRepo_HighestTieBreak(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewManual(t0)
	listings := postgres.NewListingRepo(db, clk)
	bids := postgres.NewBidRepo(db, clk)
	ctx := context.Background()

	l := newAuction("alice")
	if err := listings.Create(ctx, l); err != nil {
		t.Fatalf("Create: %v", err)
	}

	none, err := bids.Highest(ctx, l.ID)
	if err != nil || none != nil {
		t.Fatalf("Highest with no bids = %v, %v; want nil, nil", none, err)
	}

	place := func(bidder, amount string) *store.Bid {
		t.Helper()
		clk.Advance(time.Second)
		b := &store.Bid{ListingID: l.ID, BidderID: bidder, Amount: decimal.RequireFromString(amount)}
		if err := bids.Create(ctx, b); err != nil {
			t.Fatalf("Create bid: %v", err)
		}
		return b
	}
	place("bob", "100.00")
	first := place("carol", "150.00")
	place("dave", "150.00")

	top, err := bids.Highest(ctx, l.ID)
	if err != nil {
		t.Fatalf("Highest: %v", err)
	}
	if top.ID != first.ID {
		t.Errorf("Highest = bid %d by %s, want earliest 150.00 bid %d", top.ID, top.BidderID, first.ID)
	}

	all, err := bids.ListByListing(ctx, l.ID)
	if err != nil {
		t.Fatalf("ListByListing: %v", err)
	}
	gotOrder := []string{all[0].BidderID, all[1].BidderID, all[2].BidderID}
	wantOrder := []string{"carol", "dave", "bob"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("ListByListing order = %v, want %v", gotOrder, wantOrder)
		}
	}

	mine, err := bids.ListByBidder(ctx, "bob")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListByBidder = %d bids, %v; want 1", len(mine), err)
	}
	if n, _ := bids.CountByListing(ctx, l.ID); n != 3 {
		t.Errorf("CountByListing = %d, want 3", n)
	}
}

func TestBidRepo_CreateUnknownListing(t *testing.T) {
	db := newTestDB(t)
	bids := postgres.NewBidRepo(db, clock.Real{})

	err := bids.Create(context.Background(), &store.Bid{ListingID: 77, BidderID: "bob", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Create error = %v, want ErrNotFound", err)
	}
}

func TestWatchlistRepo(t *testing.T) {
	db := newTestDB(t)
	clk := clock.Mock{T: t0}
	listings := postgres.NewListingRepo(db, clk)
	watchlist := postgres.NewWatchlistRepo(db, clk)
	ctx := context.Background()

	l := newAuction("alice")
	if err := listings.Create(ctx, l); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := watchlist.Add(ctx, "bob", l.ID); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := watchlist.Add(ctx, "bob", l.ID); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("second Add error = %v, want ErrDuplicate", err)
	}
	if err := watchlist.Add(ctx, "bob", 9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Add unknown listing error = %v, want ErrNotFound", err)
	}
	if ok, _ := watchlist.Contains(ctx, "bob", l.ID); !ok {
		t.Error("Contains = false, want true")
	}

	removed, err := watchlist.Remove(ctx, "bob", l.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v; want true, nil", removed, err)
	}
	removed, _ = watchlist.Remove(ctx, "bob", l.ID)
	if removed {
		t.Error("second Remove = true, want false")
	}
}

func TestCategoryRepo(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewCategoryRepo(db)
	ctx := context.Background()

	for _, c := range []*store.Category{{Name: "Watches", Slug: "watches"}, {Name: "Cameras", Slug: "cameras"}} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s): %v", c.Slug, err)
		}
	}
	if err := repo.Create(ctx, &store.Category{Name: "Cameras", Slug: "cameras-2"}); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate Create error = %v, want ErrDuplicate", err)
	}

	got, err := repo.GetBySlug(ctx, "watches")
	if err != nil || got.Name != "Watches" {
		t.Fatalf("GetBySlug = %+v, %v", got, err)
	}
	if _, err := repo.GetBySlug(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetBySlug missing error = %v, want ErrNotFound", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Name != "Cameras" {
		t.Errorf("List = %+v, want Cameras first", all)
	}
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	clk := clock.Mock{T: t0}
	tx := postgres.NewTransactor(db, clk)
	listings := postgres.NewListingRepo(db, clk)
	ctx := context.Background()

	boom := errors.New("boom")
	var createdID int64
	err := tx.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		l := newAuction("alice")
		if err := r.Listings.Create(ctx, l); err != nil {
			return err
		}
		createdID = l.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic error = %v, want boom", err)
	}
	if _, err := listings.GetByID(ctx, createdID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("listing survived rollback: %v", err)
	}

	err = tx.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		l := newAuction("alice")
		if err := r.Listings.Create(ctx, l); err != nil {
			return err
		}
		createdID = l.ID
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if _, err := listings.GetByID(ctx, createdID); err != nil {
		t.Errorf("committed listing missing: %v", err)
	}
}
