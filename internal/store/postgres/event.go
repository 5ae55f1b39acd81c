package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/store"
)

const eventColumns = `seq, id, aggregate_id, type, data, version, created_at`

// EventStore implements event.Store backed by Postgres.
type EventStore struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewEventStore returns a new EventStore.
func NewEventStore(db sqlx.ExtContext, clk clock.Clock) *EventStore {
	return &EventStore{db: db, clock: clk}
}

// Append inserts events in order. Outside a transaction it opens one so the
// batch is all-or-nothing; a duplicate (aggregate, version) yields store.ErrConflict.
func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	db, ok := s.db.(*sqlx.DB)
	if !ok {
		return s.insert(ctx, s.db, events)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insert(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EventStore) insert(ctx context.Context, q sqlx.ExecerContext, events []event.Event) error {
	now := s.clock.Now().UTC()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, type, data, version, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.AggregateID, e.Type, string(e.Data), e.Version, e.CreatedAt)
		if err != nil {
			if pqCode(err) == codeUniqueViolation {
				err = store.ErrConflict
			}
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, err)
		}
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.db, &events,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 ORDER BY version ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.db, &events,
		`SELECT `+eventColumns+` FROM events WHERE type = $1 ORDER BY seq ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return events, nil
}

func (s *EventStore) LoadAfter(ctx context.Context, seq int64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.db, &events,
		`SELECT `+eventColumns+` FROM events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("loading events after %d: %w", seq, err)
	}
	return events, nil
}

// CursorStore implements event.CursorStore backed by the relay_cursors table.
type CursorStore struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewCursorStore returns a new CursorStore.
func NewCursorStore(db sqlx.ExtContext, clk clock.Clock) *CursorStore {
	return &CursorStore{db: db, clock: clk}
}

func (c *CursorStore) Position(ctx context.Context, name string) (int64, error) {
	var pos []int64
	if err := sqlx.SelectContext(ctx, c.db, &pos, `SELECT position FROM relay_cursors WHERE name = $1`, name); err != nil {
		return 0, fmt.Errorf("reading cursor %q: %w", name, err)
	}
	if len(pos) == 0 {
		return 0, nil
	}
	return pos[0], nil
}

func (c *CursorStore) SetPosition(ctx context.Context, name string, seq int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO relay_cursors (name, position, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`,
		name, seq, c.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing cursor %q: %w", name, err)
	}
	return nil
}
