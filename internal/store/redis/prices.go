package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

const (
	defaultQuotesKey = "prices:latest"

	// SummaryChannelPrefix prefixes the per-account portfolio update channel.
	SummaryChannelPrefix = "pub:portfolio:"
)

// Config configures the Redis price cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	QuotesKey    string        // hash of symbol -> quote, default "prices:latest"
	MaxFailures  int           // breaker threshold, default 5
	ResetTimeout time.Duration // breaker open period, default 10s
}

// quoteHash is the subset of hash commands the cache issues.
type quoteHash interface {
	HSet(ctx context.Context, key, field string, value []byte) error
	HMGet(ctx context.Context, key string, fields ...string) ([]interface{}, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type clientHash struct{ c *goredis.Client }

func (h clientHash) HSet(ctx context.Context, key, field string, value []byte) error {
	return h.c.HSet(ctx, key, field, value).Err()
}

func (h clientHash) HMGet(ctx context.Context, key string, fields ...string) ([]interface{}, error) {
	return h.c.HMGet(ctx, key, fields...).Result()
}

func (h clientHash) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return h.c.HGetAll(ctx, key).Result()
}

// PriceCache stores latest quotes in a Redis hash and publishes portfolio
// updates. Every call goes through a CircuitBreaker. Quotes written while
// the breaker is open are held locally (latest per symbol) and flushed
// when it closes again. A quote never replaces one with a later TS that
// this cache already wrote.
type PriceCache struct {
	client *goredis.Client
	hash   quoteHash
	cb     *CircuitBreaker
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]model.Quote

	// writeMu serializes hash writes so the staleness check and HSET
	// happen as one step.
	writeMu sync.Mutex
	written map[string]time.Time // symbol -> TS of the last quote written

	// Callbacks
	OnBuffer func()          // called when a quote is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered quotes
}

// New connects to Redis, pings it and returns a PriceCache.
func New(cfg Config, logger *slog.Logger) (*PriceCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	pc := NewWithClient(client, NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout), logger)
	if cfg.QuotesKey != "" {
		pc.key = cfg.QuotesKey
	}
	pc.logger.Info("redis connected", slog.String("addr", cfg.Addr))
	return pc, nil
}

// NewWithClient wraps an existing client and breaker.
func NewWithClient(client *goredis.Client, cb *CircuitBreaker, logger *slog.Logger) *PriceCache {
	if logger == nil {
		logger = slog.Default()
	}
	pc := &PriceCache{
		client:  client,
		hash:    clientHash{client},
		cb:      cb,
		key:     defaultQuotesKey,
		logger:  logger.With(slog.String("component", "redis")),
		pending: make(map[string]model.Quote),
		written: make(map[string]time.Time),
	}

	cb.IsFailure = func(err error) bool { return !errors.Is(err, goredis.Nil) }

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		pc.logger.Warn("circuit breaker transition", slog.String("from", from.String()), slog.String("to", to.String()))
		if to == StateClosed {
			go pc.flush()
		}
	}
	return pc
}

// Client returns the underlying Redis client for health checks.
func (pc *PriceCache) Client() *goredis.Client { return pc.client }

// Breaker returns the circuit breaker guarding this cache.
func (pc *PriceCache) Breaker() *CircuitBreaker { return pc.cb }

// SetQuote writes q into the quotes hash. When the circuit is open the
// quote is buffered and nil is returned. A quote older than the last one
// written for its symbol is dropped.
func (pc *PriceCache) SetQuote(ctx context.Context, q model.Quote) error {
	err := pc.write(ctx, q)
	if errors.Is(err, ErrCircuitOpen) {
		pc.buffer(q)
		return nil
	}
	return err
}

func (pc *PriceCache) write(ctx context.Context, q model.Quote) error {
	data, err := encodeQuote(q)
	if err != nil {
		return err
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	if last, ok := pc.written[q.Symbol]; ok && q.TS.Before(last) {
		return nil
	}
	err = pc.cb.Execute(func() error {
		return pc.hash.HSet(ctx, pc.key, q.Symbol, data)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	if err != nil {
		return fmt.Errorf("redis set quote %s: %w", q.Symbol, err)
	}
	pc.written[q.Symbol] = q.TS
	return nil
}

// Prices returns the cached prices for symbols. Symbols without a cached
// quote are omitted. Returns ErrCircuitOpen while the breaker is open.
func (pc *PriceCache) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	var vals []interface{}
	err := pc.cb.Execute(func() error {
		var err error
		vals, err = pc.hash.HMGet(ctx, pc.key, symbols...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis prices: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		q, err := decodeQuote([]byte(s))
		if err != nil {
			pc.logger.Warn("undecodable quote", slog.String("symbol", symbols[i]), slog.Any("error", err))
			continue
		}
		out[symbols[i]] = q.Price
	}
	return out, nil
}

// Quotes returns every cached quote sorted by symbol.
func (pc *PriceCache) Quotes(ctx context.Context) ([]model.Quote, error) {
	var all map[string]string
	err := pc.cb.Execute(func() error {
		var err error
		all, err = pc.hash.HGetAll(ctx, pc.key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis quotes: %w", err)
	}

	out := make([]model.Quote, 0, len(all))
	for sym, raw := range all {
		q, err := decodeQuote([]byte(raw))
		if err != nil {
			pc.logger.Warn("undecodable quote", slog.String("symbol", sym), slog.Any("error", err))
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// PublishSummary publishes payload on the account's update channel.
func (pc *PriceCache) PublishSummary(ctx context.Context, account string, payload []byte) error {
	err := pc.cb.Execute(func() error {
		return pc.client.Publish(ctx, SummaryChannelPrefix+account, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", account, err)
	}
	return nil
}

// SubscribeSummaries pattern-subscribes to every account's update channel.
// The caller must Close the returned PubSub.
func (pc *PriceCache) SubscribeSummaries(ctx context.Context) *goredis.PubSub {
	return pc.client.PSubscribe(ctx, SummaryChannelPrefix+"*")
}

// AccountFromChannel extracts the account from a summary channel name.
func AccountFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, SummaryChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, SummaryChannelPrefix), true
}

// PendingCount returns the number of quotes waiting to be flushed.
func (pc *PriceCache) PendingCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.pending)
}

// Close closes the Redis client.
func (pc *PriceCache) Close() error {
	return pc.client.Close()
}

// buffer keeps q unless a later quote for its symbol is already pending.
func (pc *PriceCache) buffer(q model.Quote) {
	pc.mu.Lock()
	if cur, ok := pc.pending[q.Symbol]; !ok || !q.TS.Before(cur.TS) {
		pc.pending[q.Symbol] = q
	}
	pc.mu.Unlock()

	if pc.OnBuffer != nil {
		pc.OnBuffer()
	}
}

// flush replays buffered quotes. Quotes older than what was written since
// are skipped; quotes that fail are buffered again.
func (pc *PriceCache) flush() {
	pc.mu.Lock()
	if len(pc.pending) == 0 {
		pc.mu.Unlock()
		return
	}
	toFlush := pc.pending
	pc.pending = make(map[string]model.Quote)
	pc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flushed := 0
	for _, q := range toFlush {
		if err := pc.write(ctx, q); err != nil {
			pc.logger.Warn("flush quote failed", slog.String("symbol", q.Symbol), slog.Any("error", err))
			pc.buffer(q)
			continue
		}
		flushed++
	}

	pc.logger.Info("flushed buffered quotes", slog.Int("count", flushed))
	if pc.OnFlush != nil {
		pc.OnFlush(flushed)
	}
}
