// Package relay forwards the event log to NATS JetStream so downstream
// consumers can follow listing activity without reading the database.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/event"
)

const instrumentation = "github.com/jensholdgaard/bazaar/internal/relay"

// CursorName is the cursor under which the relay records its position.
const CursorName = "nats"

// Publisher delivers one message. msgID lets the broker drop redeliveries.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// Relay copies events, in log order, from the event store to a Publisher.
type Relay struct {
	events   event.Store
	cursors  event.CursorStore
	pub      Publisher
	prefix   string
	batch    int
	interval time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer

	published metric.Int64Counter
}

// New creates a Relay.
func New(
	events event.Store,
	cursors event.CursorStore,
	pub Publisher,
	natsCfg config.NATSConfig,
	cfg config.RelayConfig,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Relay, error) {
	published, err := mp.Meter(instrumentation).Int64Counter("bazaar.relay.published",
		metric.WithDescription("Events forwarded to NATS"))
	if err != nil {
		return nil, fmt.Errorf("creating relay.published counter: %w", err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		events:    events,
		cursors:   cursors,
		pub:       pub,
		prefix:    natsCfg.SubjectPrefix,
		batch:     batch,
		interval:  interval,
		logger:    logger,
		tracer:    tp.Tracer(instrumentation),
		published: published,
	}, nil
}

// Subject returns the subject an event of type t is published on.
func (r *Relay) Subject(t event.Type) string {
	return r.prefix + "." + string(t)
}

// RelayOnce forwards up to one batch of events after the stored cursor and
// returns how many were published. The cursor only moves past events that
// were published, so a failed batch resumes where it stopped.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Relay.RelayOnce")
	defer span.End()

	pos, err := r.cursors.Position(ctx, CursorName)
	if err != nil {
		return 0, fmt.Errorf("reading relay cursor: %w", err)
	}
	events, err := r.events.LoadAfter(ctx, pos, r.batch)
	if err != nil {
		return 0, fmt.Errorf("loading events after %d: %w", pos, err)
	}

	sent := 0
	var pubErr error
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			pubErr = fmt.Errorf("encoding event %s: %w", e.ID, err)
			break
		}
		if err := r.pub.Publish(ctx, r.Subject(e.Type), data, e.ID); err != nil {
			pubErr = fmt.Errorf("publishing event %s: %w", e.ID, err)
			break
		}
		pos = e.Seq
		sent++
	}

	if sent > 0 {
		if err := r.cursors.SetPosition(ctx, CursorName, pos); err != nil {
			return sent, fmt.Errorf("saving relay cursor: %w", err)
		}
		r.published.Add(ctx, int64(sent))
	}
	span.SetAttributes(attribute.Int("relay.sent", sent), attribute.Int64("relay.position", pos))
	return sent, pubErr
}

// Run relays events until ctx is done, draining backlogs in consecutive
// batches and otherwise polling every interval.
func (r *Relay) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "event relay started",
		slog.String("subject_prefix", r.prefix),
		slog.Duration("interval", r.interval),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "relaying events", slog.Any("error", err))
		}
		if n == r.batch && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "event relay stopped")
			return
		case <-ticker.C:
		}
	}
}
