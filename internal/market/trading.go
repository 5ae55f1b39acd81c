package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// PlaceBid bids amount on listing id on behalf of p.
func (m *Manager) PlaceBid(ctx context.Context, p Principal, id int64, amount decimal.Decimal) (*store.Bid, error) {
	if p.UserID == "" {
		return nil, ErrForbidden
	}

	var bid *store.Bid
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := tx.Listings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		bid, err = m.auctions.PlaceBid(ctx, tx, l, p.UserID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// BuyNow purchases listing id at its price. Auctions can be bought outright
// while they are still open; the buyer becomes the winner.
func (m *Manager) BuyNow(ctx context.Context, p Principal, id int64) (*store.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.BuyNow",
		trace.WithAttributes(
			attribute.Int64("listing.id", id),
			attribute.String("buyer.id", p.UserID),
		),
	)
	defer span.End()

	if p.UserID == "" {
		return nil, ErrForbidden
	}

	var order *store.Order
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !l.Active {
			return ErrUnavailable
		}

		now := m.clock.Now()
		o := &store.Order{
			BuyerID:   p.UserID,
			ListingID: l.ID,
			Price:     l.Price,
			Status:    store.OrderCompleted,
			CreatedAt: now,
		}
		if err := tx.Orders.Create(ctx, o); err != nil {
			return fmt.Errorf("creating order: %w", err)
		}

		l.Active = false
		if l.IsAuction() {
			buyer := p.UserID
			l.WinnerID = &buyer
			l.ClosedAt = &now
		}
		if err := tx.Listings.Update(ctx, l); err != nil {
			return fmt.Errorf("marking listing sold: %w", err)
		}

		e := event.New(event.ListingAggregate(l.ID), event.ListingPurchased, l.Version, event.ListingPurchasedData{
			OrderID: o.ID,
			BuyerID: p.UserID,
			Price:   o.Price,
		})
		if err := tx.Events.Append(ctx, e); err != nil {
			return fmt.Errorf("persisting purchase event: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.ordersCreated.Add(ctx, 1)
	m.logger.InfoContext(ctx, "listing purchased",
		slog.Int64("listing_id", id),
		slog.Int64("order_id", order.ID),
		slog.String("buyer_id", p.UserID),
		slog.String("price", order.Price.String()),
	)
	return order, nil
}

// ToggleWatch adds listing id to p's watchlist, or removes it if already
// present, and reports whether the listing is watched afterwards.
func (m *Manager) ToggleWatch(ctx context.Context, p Principal, id int64) (bool, error) {
	if p.UserID == "" {
		return false, ErrForbidden
	}

	var watching bool
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		if _, err := m.load(ctx, tx, id); err != nil {
			return err
		}
		removed, err := tx.Watchlist.Remove(ctx, p.UserID, id)
		if err != nil {
			return fmt.Errorf("removing watch entry: %w", err)
		}
		if removed {
			watching = false
			return nil
		}
		if err := tx.Watchlist.Add(ctx, p.UserID, id); err != nil {
			return fmt.Errorf("adding watch entry: %w", err)
		}
		watching = true
		return nil
	})
	return watching, err
}
