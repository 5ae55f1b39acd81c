package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/relay"
	"github.com/jensholdgaard/bazaar/internal/store"
	"github.com/jensholdgaard/bazaar/internal/store/memstore"
)

type message struct {
	subject string
	msgID   string
	event   event.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []message
	failAt int // 1-based index of the publish call that fails; 0 never fails
	calls  int
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.failAt {
		return errors.New("nats: timeout")
	}
	var e event.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	f.sent = append(f.sent, message{subject: subject, msgID: msgID, event: e})
	return nil
}

func (f *fakePublisher) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.sent...)
}

func setup(t *testing.T, pub relay.Publisher, batch int) (*relay.Relay, *store.Repositories) {
	t.Helper()
	repos := memstore.New(clock.Mock{T: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}).Repositories()
	r, err := relay.New(repos.Events, repos.Cursors, pub,
		config.NATSConfig{SubjectPrefix: "bazaar.events"},
		config.RelayConfig{BatchSize: batch, Interval: 10 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		noop.NewTracerProvider(), metricnoop.NewMeterProvider(),
	)
	require.NoError(t, err)
	return r, repos
}

func appendEvents(t *testing.T, repos *store.Repositories, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		e := event.New(event.ListingAggregate(1), event.AuctionBidPlaced, i, event.BidPlacedData{BidID: int64(i)})
		require.NoError(t, repos.Events.Append(context.Background(), e))
	}
}

func TestRelayOnce(t *testing.T) {
	pub := &fakePublisher{}
	r, repos := setup(t, pub, 10)
	ctx := context.Background()

	appendEvents(t, repos, 3)

	n, err := r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs := pub.messages()
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, "bazaar.events.auction.bid_placed", m.subject)
		assert.Equal(t, m.event.ID, m.msgID)
		assert.Equal(t, int64(i+1), m.event.Seq)
	}

	pos, err := repos.Cursors.Position(ctx, relay.CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	n, err = r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new to publish")
}

func TestRelayOnce_ResumesAfterFailure(t *testing.T) {
	pub := &fakePublisher{failAt: 3}
	r, repos := setup(t, pub, 10)
	ctx := context.Background()

	appendEvents(t, repos, 4)

	n, err := r.RelayOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	pos, err := repos.Cursors.Position(ctx, relay.CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	n, err = r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var seqs []int64
	for _, m := range pub.messages() {
		seqs = append(seqs, m.event.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
}

func TestRelayOnce_Batches(t *testing.T) {
	pub := &fakePublisher{}
	r, repos := setup(t, pub, 2)

	appendEvents(t, repos, 5)

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_DrainsUntilCancelled(t *testing.T) {
	pub := &fakePublisher{}
	r, repos := setup(t, pub, 2)
	appendEvents(t, repos, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.messages()) == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubject(t *testing.T) {
	r, _ := setup(t, &fakePublisher{}, 1)
	assert.Equal(t, "bazaar.events.listing.purchased", r.Subject(event.ListingPurchased))
}
