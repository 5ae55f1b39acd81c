package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

// ---- listings ----

type listingRepo struct {
	db *DB
	mu sync.Locker
}

func copyListing(l store.Listing) *store.Listing {
	c := l
	c.CategoryID = clonePtr(l.CategoryID)
	c.EndTime = clonePtr(l.EndTime)
	c.WinnerID = clonePtr(l.WinnerID)
	c.ClosedAt = clonePtr(l.ClosedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *listingRepo) Create(_ context.Context, l *store.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	st.lastListing++
	l.ID = st.lastListing
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.db.now()
	}
	l.Version = 1
	st.listings[l.ID] = *copyListing(*l)
	return nil
}

func (r *listingRepo) GetByID(_ context.Context, id int64) (*store.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.db.st.listings[id]
	if !ok {
		return nil, fmt.Errorf("getting listing %d: %w", id, store.ErrNotFound)
	}
	return copyListing(l), nil
}

func (r *listingRepo) Update(_ context.Context, l *store.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	cur, ok := st.listings[l.ID]
	if !ok {
		return fmt.Errorf("updating listing %d: %w", l.ID, store.ErrNotFound)
	}
	if cur.Version != l.Version {
		return fmt.Errorf("updating listing %d at version %d: %w", l.ID, l.Version, store.ErrConflict)
	}

	l.Version++
	next := copyListing(*l)
	next.CreatedAt = cur.CreatedAt
	next.SellerID = cur.SellerID
	st.listings[l.ID] = *next
	return nil
}

func (r *listingRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	if _, ok := st.listings[id]; !ok {
		return fmt.Errorf("deleting listing %d: %w", id, store.ErrNotFound)
	}
	for _, o := range st.orders {
		if o.ListingID == id {
			return fmt.Errorf("deleting listing %d: referenced by order %d", id, o.ID)
		}
	}

	delete(st.listings, id)
	st.bids = slices.DeleteFunc(st.bids, func(b store.Bid) bool { return b.ListingID == id })
	for k := range st.watch {
		if k.listingID == id {
			delete(st.watch, k)
		}
	}
	return nil
}

func (r *listingRepo) List(_ context.Context, f store.ListingFilter) ([]store.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	var out []store.Listing
	for _, l := range st.listings {
		if f.ActiveOnly && !l.Active {
			continue
		}
		if f.SellerID != "" && l.SellerID != f.SellerID {
			continue
		}
		if f.WinnerID != "" && (l.WinnerID == nil || *l.WinnerID != f.WinnerID) {
			continue
		}
		if f.CategoryID != nil && (l.CategoryID == nil || *l.CategoryID != *f.CategoryID) {
			continue
		}
		if f.WatchedBy != "" {
			if _, ok := st.watch[watchKey{userID: f.WatchedBy, listingID: l.ID}]; !ok {
				continue
			}
		}
		out = append(out, *copyListing(l))
	}

	slices.SortFunc(out, func(a, b store.Listing) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---- bids ----

type bidRepo struct {
	db *DB
	mu sync.Locker
}

func (r *bidRepo) Create(_ context.Context, b *store.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	if _, ok := st.listings[b.ListingID]; !ok {
		return fmt.Errorf("creating bid on listing %d: %w", b.ListingID, store.ErrNotFound)
	}
	st.lastBid++
	b.ID = st.lastBid
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.db.now()
	}
	st.bids = append(st.bids, *b)
	return nil
}

// outranks reports whether a beats b for the top spot of a listing.
func outranks(a, b store.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *bidRepo) Highest(_ context.Context, listingID int64) (*store.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *store.Bid
	for _, b := range r.db.st.bids {
		if b.ListingID != listingID {
			continue
		}
		if best == nil || outranks(b, *best) {
			c := b
			best = &c
		}
	}
	return best, nil
}

func (r *bidRepo) ListByListing(_ context.Context, listingID int64) ([]store.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []store.Bid
	for _, b := range r.db.st.bids {
		if b.ListingID == listingID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b store.Bid) int {
		switch {
		case outranks(a, b):
			return -1
		case outranks(b, a):
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *bidRepo) ListByBidder(_ context.Context, bidderID string) ([]store.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []store.Bid
	for _, b := range r.db.st.bids {
		if b.BidderID == bidderID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b store.Bid) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	return out, nil
}

func (r *bidRepo) CountByListing(_ context.Context, listingID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.db.st.bids {
		if b.ListingID == listingID {
			n++
		}
	}
	return n, nil
}

// ---- orders ----

type orderRepo struct {
	db *DB
	mu sync.Locker
}

func (r *orderRepo) Create(_ context.Context, o *store.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	if _, ok := st.listings[o.ListingID]; !ok {
		return fmt.Errorf("creating order for listing %d: %w", o.ListingID, store.ErrNotFound)
	}
	st.lastOrder++
	o.ID = st.lastOrder
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.db.now()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	st.orders = append(st.orders, *o)
	return nil
}

func (r *orderRepo) ListByBuyer(_ context.Context, buyerID string) ([]store.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []store.Order
	for _, o := range r.db.st.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b store.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	return out, nil
}

func (r *orderRepo) CountByListing(_ context.Context, listingID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, o := range r.db.st.orders {
		if o.ListingID == listingID {
			n++
		}
	}
	return n, nil
}

// ---- watchlist ----

type watchlistRepo struct {
	db *DB
	mu sync.Locker
}

func (r *watchlistRepo) Add(_ context.Context, userID string, listingID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	if _, ok := st.listings[listingID]; !ok {
		return fmt.Errorf("watching listing %d: %w", listingID, store.ErrNotFound)
	}
	k := watchKey{userID: userID, listingID: listingID}
	if _, ok := st.watch[k]; ok {
		return fmt.Errorf("watching listing %d: %w", listingID, store.ErrDuplicate)
	}
	st.watch[k] = r.db.now()
	return nil
}

func (r *watchlistRepo) Remove(_ context.Context, userID string, listingID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := watchKey{userID: userID, listingID: listingID}
	if _, ok := r.db.st.watch[k]; !ok {
		return false, nil
	}
	delete(r.db.st.watch, k)
	return true, nil
}

func (r *watchlistRepo) Contains(_ context.Context, userID string, listingID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.db.st.watch[watchKey{userID: userID, listingID: listingID}]
	return ok, nil
}

// ---- categories ----

type categoryRepo struct {
	db *DB
	mu sync.Locker
}

func (r *categoryRepo) Create(_ context.Context, c *store.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.db.st

	for _, existing := range st.categories {
		if existing.Name == c.Name || existing.Slug == c.Slug {
			return fmt.Errorf("creating category %q: %w", c.Slug, store.ErrDuplicate)
		}
	}
	st.lastCategory++
	c.ID = st.lastCategory
	st.categories = append(st.categories, *c)
	return nil
}

func (r *categoryRepo) GetBySlug(_ context.Context, slug string) (*store.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.db.st.categories {
		if c.Slug == slug {
			found := c
			return &found, nil
		}
	}
	return nil, fmt.Errorf("getting category %q: %w", slug, store.ErrNotFound)
}

func (r *categoryRepo) List(_ context.Context) ([]store.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.db.st.categories)
	slices.SortFunc(out, func(a, b store.Category) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// ---- events ----

type eventStore struct {
	db *DB
	mu sync.Locker
}

func (s *eventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.db.st

	type key struct {
		agg     string
		version int
	}
	taken := make(map[key]struct{}, len(st.events)+len(events))
	for _, e := range st.events {
		taken[key{e.AggregateID, e.Version}] = struct{}{}
	}
	for _, e := range events {
		k := key{e.AggregateID, e.Version}
		if _, dup := taken[k]; dup {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, store.ErrConflict)
		}
		taken[k] = struct{}{}
	}

	now := s.db.now()
	for _, e := range events {
		st.lastSeq++
		e.Seq = st.lastSeq
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		st.events = append(st.events, e)
	}
	return nil
}

func (s *eventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, e := range s.db.st.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b event.Event) int { return a.Version - b.Version })
	return out, nil
}

func (s *eventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, e := range s.db.st.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *eventStore) LoadAfter(_ context.Context, seq int64, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, e := range s.db.st.events {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- relay cursors ----

type cursorStore struct {
	db *DB
	mu sync.Locker
}

func (c *cursorStore) Position(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.st.cursors[name], nil
}

func (c *cursorStore) SetPosition(_ context.Context, name string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.st.cursors[name] = seq
	return nil
}
