package store

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/event"
)

// Repos is the set of repositories that share one unit of work.
type Repos struct {
	Listings   ListingRepository
	Bids       BidRepository
	Orders     OrderRepository
	Watchlist  WatchlistRepository
	Categories CategoryRepository
	Events     event.Store
}

// Transactor runs fn inside a single all-or-nothing unit of work. The Repos
// passed to fn must not be used after fn returns. If fn returns an error every
// write made through tx is discarded.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Repos
	Tx      Transactor
	Cursors event.CursorStore
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
