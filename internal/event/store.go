package event

import "context"

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
	// LoadAfter returns up to limit events with Seq greater than seq, in Seq order.
	LoadAfter(ctx context.Context, seq int64, limit int) ([]Event, error)
}

// CursorStore remembers how far a named consumer has read the event log.
type CursorStore interface {
	// Position returns the last processed Seq, or 0 if the consumer is new.
	Position(ctx context.Context, name string) (int64, error)
	// SetPosition records seq as processed.
	SetPosition(ctx context.Context, name string, seq int64) error
}
