package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

const instrumentation = "github.com/jensholdgaard/bazaar/internal/auction"

// Manager applies the auction rules to stored listings. Every method takes the
// repositories of the caller's unit of work so reads and writes commit together.
type Manager struct {
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	bidsAccepted metric.Int64Counter
	bidsRejected metric.Int64Counter
	closed       metric.Int64Counter
}

// NewManager creates a new auction Manager.
func NewManager(logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) (*Manager, error) {
	meter := mp.Meter(instrumentation)

	accepted, err := meter.Int64Counter("bazaar.bids.accepted",
		metric.WithDescription("Bids accepted"))
	if err != nil {
		return nil, fmt.Errorf("creating bids.accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("bazaar.bids.rejected",
		metric.WithDescription("Bids rejected by the bidding rules"))
	if err != nil {
		return nil, fmt.Errorf("creating bids.rejected counter: %w", err)
	}
	closed, err := meter.Int64Counter("bazaar.auctions.closed",
		metric.WithDescription("Auctions closed after their end time"))
	if err != nil {
		return nil, fmt.Errorf("creating auctions.closed counter: %w", err)
	}

	return &Manager{
		logger:       logger,
		tracer:       tp.Tracer(instrumentation),
		clock:        clk,
		bidsAccepted: accepted,
		bidsRejected: rejected,
		closed:       closed,
	}, nil
}

// CloseIfDue closes l if it is an active auction past its end time, awarding it
// to the highest bidder. It reports whether this call closed the listing.
//
// If another unit of work changed l first, l is reloaded and no change is
// reported; calling CloseIfDue repeatedly or concurrently is therefore safe.
// On return l reflects the stored state.
func (m *Manager) CloseIfDue(ctx context.Context, tx store.Repos, l *store.Listing) (bool, error) {
	now := m.clock.Now()
	if !Due(l, now) {
		return false, nil
	}

	ctx, span := m.tracer.Start(ctx, "Manager.CloseIfDue",
		trace.WithAttributes(attribute.Int64("listing.id", l.ID)),
	)
	defer span.End()

	highest, err := tx.Bids.Highest(ctx, l.ID)
	if err != nil {
		return false, fmt.Errorf("finding winning bid: %w", err)
	}

	next := *l
	Settle(&next, highest, now)
	if err := tx.Listings.Update(ctx, &next); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			span.SetStatus(codes.Error, err.Error())
			return false, fmt.Errorf("closing auction: %w", err)
		}
		fresh, err := tx.Listings.GetByID(ctx, l.ID)
		if err != nil {
			return false, fmt.Errorf("reloading listing after close race: %w", err)
		}
		*l = *fresh
		return false, nil
	}

	data := event.AuctionClosedData{ClosedAt: now}
	if highest != nil {
		data.WinnerID = highest.BidderID
		data.Amount = &highest.Amount
	}
	if err := tx.Events.Append(ctx, event.New(event.ListingAggregate(l.ID), event.AuctionClosed, next.Version, data)); err != nil {
		return false, fmt.Errorf("persisting auction closed event: %w", err)
	}

	*l = next
	m.closed.Add(ctx, 1)

	attrs := []any{slog.Int64("listing_id", l.ID)}
	if highest != nil {
		attrs = append(attrs, slog.String("winner_id", highest.BidderID), slog.String("amount", highest.Amount.String()))
	}
	m.logger.InfoContext(ctx, "auction closed", attrs...)
	return true, nil
}

// PlaceBid records a bid of amount by bidderID on l. The closer runs first, so
// a bid arriving after the end time closes the auction and is rejected with
// ErrAuctionEnded. On success l carries the bumped version.
func (m *Manager) PlaceBid(ctx context.Context, tx store.Repos, l *store.Listing, bidderID string, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.Int64("listing.id", l.ID),
			attribute.String("bidder.id", bidderID),
			attribute.String("bid.amount", amount.String()),
		),
	)
	defer span.End()

	if !l.IsAuction() {
		return nil, ErrNotAuction
	}
	if _, err := m.CloseIfDue(ctx, tx, l); err != nil {
		return nil, err
	}

	highest, err := tx.Bids.Highest(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("finding highest bid: %w", err)
	}

	now := m.clock.Now()
	if err := CheckBid(l, highest, amount, now); err != nil {
		m.bidsRejected.Add(ctx, 1)
		m.logger.DebugContext(ctx, "bid rejected",
			slog.Int64("listing_id", l.ID),
			slog.String("bidder_id", bidderID),
			slog.String("amount", amount.String()),
			slog.Any("reason", err),
		)
		return nil, err
	}

	bid := &store.Bid{
		ListingID: l.ID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := tx.Bids.Create(ctx, bid); err != nil {
		return nil, fmt.Errorf("recording bid: %w", err)
	}

	// Two bids racing on one listing conflict here.
	if err := tx.Listings.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("recording bid: %w", err)
	}

	e := event.New(event.ListingAggregate(l.ID), event.AuctionBidPlaced, l.Version, event.BidPlacedData{
		BidID:    bid.ID,
		BidderID: bidderID,
		Amount:   amount,
	})
	if err := tx.Events.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("persisting bid event: %w", err)
	}

	m.bidsAccepted.Add(ctx, 1)
	m.logger.InfoContext(ctx, "bid placed",
		slog.Int64("listing_id", l.ID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.String()),
	)
	return bid, nil
}
