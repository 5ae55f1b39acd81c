package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/media"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// ListingInput carries the seller-editable fields of a listing.
type ListingInput struct {
	Title        string
	Description  string
	Category     string // slug; empty means uncategorised
	Type         store.ListingType
	Price        decimal.Decimal
	StartingBid  decimal.NullDecimal
	MinIncrement decimal.NullDecimal
	EndTime      *time.Time
}

func (in ListingInput) validate(now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidListing)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown listing type %q", ErrInvalidListing, in.Type)
	}
	if !in.Price.IsPositive() || !auction.ValidAmount(in.Price) {
		return fmt.Errorf("%w: price must be positive, at most %s and have at most two decimal places", ErrInvalidListing, auction.MaxAmount.StringFixed(2))
	}
	if in.Type != store.TypeAuction {
		return nil
	}
	for _, nd := range []decimal.NullDecimal{in.StartingBid, in.MinIncrement} {
		if nd.Valid && !auction.ValidAmount(nd.Decimal) {
			return fmt.Errorf("%w: amounts must be at most %s with at most two decimal places", ErrInvalidListing, auction.MaxAmount.StringFixed(2))
		}
	}
	if in.EndTime != nil && !in.EndTime.After(now) {
		return fmt.Errorf("%w: end time must be in the future", ErrInvalidListing)
	}
	return nil
}

// resolveCategory maps a slug to a category id.
func resolveCategory(ctx context.Context, tx store.Repos, slug string) (*int64, error) {
	if slug == "" {
		return nil, nil
	}
	c, err := tx.Categories.GetBySlug(ctx, slug)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidCategory, slug)
		}
		return nil, fmt.Errorf("resolving category: %w", err)
	}
	return &c.ID, nil
}

// CreateListing stores a new active listing owned by p.
func (m *Manager) CreateListing(ctx context.Context, p Principal, in ListingInput) (*store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CreateListing",
		trace.WithAttributes(
			attribute.String("seller.id", p.UserID),
			attribute.String("listing.type", string(in.Type)),
		),
	)
	defer span.End()

	if p.UserID == "" {
		return nil, ErrForbidden
	}
	if err := in.validate(m.clock.Now()); err != nil {
		return nil, err
	}

	l := &store.Listing{
		SellerID:    p.UserID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Type:        in.Type,
		Price:       in.Price,
		Active:      true,
	}
	if in.Type == store.TypeAuction {
		l.StartingBid = in.StartingBid
		l.MinIncrement = in.MinIncrement
		l.EndTime = in.EndTime
	}
	if err := auction.ValidateTerms(l); err != nil {
		return nil, err
	}

	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		categoryID, err := resolveCategory(ctx, tx, in.Category)
		if err != nil {
			return err
		}
		l.CategoryID = categoryID

		if err := tx.Listings.Create(ctx, l); err != nil {
			return fmt.Errorf("creating listing: %w", err)
		}

		data := event.ListingCreatedData{
			SellerID:    l.SellerID,
			Title:       l.Title,
			ListingType: string(l.Type),
			Price:       l.Price,
			EndTime:     l.EndTime,
		}
		if l.StartingBid.Valid {
			data.StartingBid = &l.StartingBid.Decimal
		}
		if l.MinIncrement.Valid {
			data.MinIncrement = &l.MinIncrement.Decimal
		}
		return tx.Events.Append(ctx, event.New(event.ListingAggregate(l.ID), event.ListingCreated, l.Version, data))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.logger.InfoContext(ctx, "listing created",
		slog.Int64("listing_id", l.ID),
		slog.String("seller_id", l.SellerID),
		slog.String("type", string(l.Type)),
	)
	return l, nil
}

// UpdateListing replaces the editable fields of listing id. Only the seller or
// an admin may edit, and the type and auction terms are frozen once a bid exists.
func (m *Manager) UpdateListing(ctx context.Context, p Principal, id int64, in ListingInput) (*store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdateListing",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	if err := in.validate(m.clock.Now()); err != nil {
		return nil, err
	}

	var out *store.Listing
	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !p.CanEdit(l) {
			return ErrForbidden
		}
		if !l.Active {
			return ErrUnavailable
		}

		categoryID, err := resolveCategory(ctx, tx, in.Category)
		if err != nil {
			return err
		}

		next := *l
		next.Title = strings.TrimSpace(in.Title)
		next.Description = in.Description
		next.CategoryID = categoryID
		next.Type = in.Type
		next.Price = in.Price
		next.StartingBid, next.MinIncrement, next.EndTime = decimal.NullDecimal{}, decimal.NullDecimal{}, nil
		if in.Type == store.TypeAuction {
			next.StartingBid = in.StartingBid
			next.MinIncrement = in.MinIncrement
			next.EndTime = in.EndTime
		}
		if err := auction.ValidateTerms(&next); err != nil {
			return err
		}

		fields := changedFields(l, &next)
		if len(fields) == 0 {
			out = l
			return nil
		}
		if touchesTerms(fields) {
			n, err := tx.Bids.CountByListing(ctx, id)
			if err != nil {
				return fmt.Errorf("counting bids: %w", err)
			}
			if n > 0 {
				return ErrHasBids
			}
		}

		if err := tx.Listings.Update(ctx, &next); err != nil {
			return fmt.Errorf("updating listing: %w", err)
		}
		e := event.New(event.ListingAggregate(id), event.ListingUpdated, next.Version, event.ListingUpdatedData{
			EditorID: p.UserID,
			Fields:   fields,
		})
		if err := tx.Events.Append(ctx, e); err != nil {
			return fmt.Errorf("persisting listing updated event: %w", err)
		}
		out = &next
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func changedFields(old, next *store.Listing) []string {
	var fields []string
	if old.Title != next.Title {
		fields = append(fields, "title")
	}
	if old.Description != next.Description {
		fields = append(fields, "description")
	}
	if !equalID(old.CategoryID, next.CategoryID) {
		fields = append(fields, "category")
	}
	if old.Type != next.Type {
		fields = append(fields, "listing_type")
	}
	if !old.Price.Equal(next.Price) {
		fields = append(fields, "price")
	}
	if !equalNull(old.StartingBid, next.StartingBid) {
		fields = append(fields, "starting_bid")
	}
	if !equalNull(old.MinIncrement, next.MinIncrement) {
		fields = append(fields, "min_increment")
	}
	if !equalTime(old.EndTime, next.EndTime) {
		fields = append(fields, "end_time")
	}
	return fields
}

func touchesTerms(fields []string) bool {
	for _, f := range fields {
		switch f {
		case "listing_type", "starting_bid", "min_increment", "end_time":
			return true
		}
	}
	return false
}

func equalID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalNull(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// DeleteListing removes listing id together with its bids and watch entries.
// Listings that were ordered are kept for the order history.
func (m *Manager) DeleteListing(ctx context.Context, p Principal, id int64) error {
	ctx, span := m.tracer.Start(ctx, "Manager.DeleteListing",
		trace.WithAttributes(attribute.Int64("listing.id", id)),
	)
	defer span.End()

	err := m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !p.CanEdit(l) {
			return ErrForbidden
		}
		n, err := tx.Orders.CountByListing(ctx, id)
		if err != nil {
			return fmt.Errorf("counting orders: %w", err)
		}
		if n > 0 {
			return ErrHasOrders
		}

		e := event.New(event.ListingAggregate(id), event.ListingDeleted, l.Version+1, event.ListingDeletedData{
			DeletedBy: p.UserID,
		})
		if err := tx.Events.Append(ctx, e); err != nil {
			return fmt.Errorf("persisting listing deleted event: %w", err)
		}
		if err := tx.Listings.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting listing: %w", err)
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.logger.InfoContext(ctx, "listing deleted",
		slog.Int64("listing_id", id),
		slog.String("deleted_by", p.UserID),
	)
	return nil
}

// SetImage stores data as the picture of listing id and returns the updated
// listing. The content must sniff as a supported image type.
func (m *Manager) SetImage(ctx context.Context, p Principal, id int64, data []byte) (*store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SetImage",
		trace.WithAttributes(
			attribute.Int64("listing.id", id),
			attribute.Int("image.bytes", len(data)),
		),
	)
	defer span.End()

	contentType, ext, err := media.Detect(data)
	if err != nil {
		return nil, err
	}

	var out *store.Listing
	err = m.atomic(ctx, func(ctx context.Context, tx store.Repos) error {
		l, err := m.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !p.CanEdit(l) {
			return ErrForbidden
		}

		url, err := m.media.Put(ctx, media.Key(id, ext), data, contentType)
		if err != nil {
			return fmt.Errorf("storing image: %w", err)
		}
		l.ImageURL = url
		if err := tx.Listings.Update(ctx, l); err != nil {
			return fmt.Errorf("updating listing image: %w", err)
		}
		e := event.New(event.ListingAggregate(id), event.ListingUpdated, l.Version, event.ListingUpdatedData{
			EditorID: p.UserID,
			Fields:   []string{"image_url"},
		})
		if err := tx.Events.Append(ctx, e); err != nil {
			return fmt.Errorf("persisting listing updated event: %w", err)
		}
		out = l
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.logger.InfoContext(ctx, "listing image stored",
		slog.Int64("listing_id", id),
		slog.String("url", out.ImageURL),
	)
	return out, nil
}
