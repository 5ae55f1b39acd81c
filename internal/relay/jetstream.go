package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// JetStream publishes to a JetStream stream that captures every subject under
// the configured prefix.
type JetStream struct {
	js jetstream.JetStream
}

// NewJetStream ensures the stream exists and returns a Publisher bound to it.
func NewJetStream(ctx context.Context, nc *nats.Conn, cfg config.NATSConfig) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Marketplace listing events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}
	return &JetStream{js: js}, nil
}

// Publish sends data and waits for the stream's acknowledgement.
func (p *JetStream) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return err
	}
	return nil
}
