// Package settle hands ended auctions off to downstream settlement.
//
// Results are published to a durable NATS JetStream stream so payment and
// title-transfer workers can consume them at their own pace. Only terminal
// events are published; live bid traffic stays on the fanout path.
package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mkrogh/auctiond/internal/event"
)

const (
	streamName    = "AUCTION_SETTLEMENTS"
	subjectPrefix = "auction.settled."
)

// Publisher implements event.Publisher, forwarding AuctionEnded events to
// the settlement stream. All other event types are ignored.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher connects to NATS and ensures the settlement stream exists.
func NewPublisher(ctx context.Context, url string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Ended auctions awaiting settlement",
		Subjects:    []string{subjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring settlement stream: %w", err)
	}

	return &Publisher{nc: nc, js: js, logger: logger}, nil
}

// Publish forwards terminal events to the stream. Failures are logged and
// swallowed: the auction record is the source of truth and a reconciler
// can re-derive missed settlements from it.
func (p *Publisher) Publish(ctx context.Context, e event.Event) {
	if e.Type != event.AuctionEnded {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshaling settlement event", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ack, err := p.js.Publish(pubCtx, subjectPrefix+e.AuctionID, payload)
	if err != nil {
		p.logger.WarnContext(ctx, "publishing settlement",
			"auction_id", e.AuctionID, "error", err)
		return
	}
	p.logger.InfoContext(ctx, "settlement published",
		"auction_id", e.AuctionID, "stream_seq", ack.Sequence)
}

// Close drains and releases the NATS connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
