package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/go-redis/redis/v8"

	"trading-portfolio/internal/service"
	"trading-portfolio/internal/store/redis"
)

// RedisPublisher publishes portfolio updates on Redis so that every
// gateway instance subscribed to them can stream them.
type RedisPublisher struct {
	cache *redis.PriceCache
}

// NewRedisPublisher creates a publisher backed by cache.
func NewRedisPublisher(cache *redis.PriceCache) *RedisPublisher {
	return &RedisPublisher{cache: cache}
}

// PublishUpdate implements service.Publisher.
func (p *RedisPublisher) PublishUpdate(ctx context.Context, u service.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update %s: %w", u.Account, err)
	}
	return p.cache.PublishSummary(ctx, u.Account, data)
}

// PubSubRouter relays portfolio updates from Redis PubSub to the hub.
type PubSubRouter struct {
	hub    *Hub
	cache  *redis.PriceCache
	logger *slog.Logger
}

// NewPubSubRouter creates a PubSubRouter feeding hub.
func NewPubSubRouter(hub *Hub, cache *redis.PriceCache) *PubSubRouter {
	return &PubSubRouter{
		hub:    hub,
		cache:  cache,
		logger: hub.logger.With(slog.String("component", "pubsub")),
	}
}

// Run pattern-subscribes to every account's update channel and broadcasts
// each message. Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	pubsub := r.cache.SubscribeSummaries(ctx)
	defer pubsub.Close()

	r.logger.Info("subscribed to portfolio updates", slog.String("pattern", redis.SummaryChannelPrefix+"*"))
	r.route(ctx, pubsub.Channel())
}

func (r *PubSubRouter) route(ctx context.Context, ch <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			account, ok := redis.AccountFromChannel(msg.Channel)
			if !ok {
				continue
			}
			r.hub.broadcast(PortfolioChannel(account), []byte(msg.Payload))
		}
	}
}
