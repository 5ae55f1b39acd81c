// Package memstore provides a store.Driver that keeps everything in process
// memory. It is meant for local development and tests; all data is lost when
// the process exits.
//
// Units of work are serialized behind one mutex. A unit of work runs against
// the live state and restores a snapshot taken at its start if it fails.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

type watchKey struct {
	userID    string
	listingID int64
}

type state struct {
	listings   map[int64]store.Listing
	bids       []store.Bid
	orders     []store.Order
	watch      map[watchKey]time.Time
	categories []store.Category
	events     []event.Event
	cursors    map[string]int64

	lastListing  int64
	lastBid      int64
	lastOrder    int64
	lastCategory int64
	lastSeq      int64
}

func newState() *state {
	return &state{
		listings: make(map[int64]store.Listing),
		watch:    make(map[watchKey]time.Time),
		cursors:  make(map[string]int64),
	}
}

// clone copies the containers. Stored values are never mutated in place, so
// a shallow copy of each container is a full snapshot.
func (s *state) clone() *state {
	c := *s
	c.listings = maps.Clone(s.listings)
	c.bids = slices.Clone(s.bids)
	c.orders = slices.Clone(s.orders)
	c.watch = maps.Clone(s.watch)
	c.categories = slices.Clone(s.categories)
	c.events = slices.Clone(s.events)
	c.cursors = maps.Clone(s.cursors)
	return &c
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// DB is an in-memory database. It is safe for concurrent use.
type DB struct {
	mu    sync.Mutex
	st    *state
	clock clock.Clock
}

// New returns an empty DB.
func New(clk clock.Clock) *DB {
	return &DB{st: newState(), clock: clk}
}

// Repositories returns repositories that each lock the DB per call.
func (db *DB) Repositories() *store.Repositories {
	return &store.Repositories{
		Repos:   db.repos(&db.mu),
		Tx:      db,
		Cursors: &cursorStore{db: db, mu: &db.mu},
		Closer:  closerFunc(func() error { return nil }),
		Ping:    func(context.Context) error { return nil },
	}
}

// Atomic implements store.Transactor.
func (db *DB) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.st.clone()
	if err := fn(ctx, db.repos(nopLocker{})); err != nil {
		db.st = snapshot
		return err
	}
	return nil
}

func (db *DB) repos(mu sync.Locker) store.Repos {
	return store.Repos{
		Listings:   &listingRepo{db: db, mu: mu},
		Bids:       &bidRepo{db: db, mu: mu},
		Orders:     &orderRepo{db: db, mu: mu},
		Watchlist:  &watchlistRepo{db: db, mu: mu},
		Categories: &categoryRepo{db: db, mu: mu},
		Events:     &eventStore{db: db, mu: mu},
	}
}

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (db *DB) now() time.Time {
	return db.clock.Now().UTC()
}
