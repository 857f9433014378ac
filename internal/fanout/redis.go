package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mkrogh/auctiond/internal/event"
)

// channelPrefix namespaces auction event channels so one Redis instance
// can serve several deployments.
const channelPrefix = "auction_events:"

func channelFor(auctionID string) string {
	return channelPrefix + auctionID
}

// RedisPublisher implements event.Publisher over Redis pub/sub so events
// reach every running instance, not just the one that committed the bid.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisPublisher{rdb: rdb, logger: logger}, nil
}

// Publish serializes the event onto the auction's channel. Failures are
// logged and swallowed: the commit already happened and observers can
// reconcile from the snapshot.
func (p *RedisPublisher) Publish(ctx context.Context, e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshaling event for redis", "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, channelFor(e.AuctionID), payload).Err(); err != nil {
		p.logger.WarnContext(ctx, "publishing event to redis",
			"auction_id", e.AuctionID, "type", string(e.Type), "error", err)
	}
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// RedisSubscriber listens on every auction channel and replays payloads
// into the local Hub, bridging events committed by other instances to
// this instance's websocket sessions.
type RedisSubscriber struct {
	rdb    *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRedisSubscriber connects to Redis and verifies the connection.
func NewRedisSubscriber(ctx context.Context, addr, password string, db int, hub *Hub, logger *slog.Logger) (*RedisSubscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisSubscriber{rdb: rdb, hub: hub, logger: logger}, nil
}

// Run pattern-subscribes to all auction channels and forwards each message
// to the hub until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			auctionID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if auctionID == "" || auctionID == msg.Channel {
				s.logger.WarnContext(ctx, "message on unexpected channel", "channel", msg.Channel)
				continue
			}
			s.hub.Broadcast(ctx, auctionID, []byte(msg.Payload))
		}
	}
}

// Close releases the Redis connection.
func (s *RedisSubscriber) Close() error {
	return s.rdb.Close()
}
