// Package gateway serves the portfolio REST API and streams portfolio
// updates to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-portfolio/internal/markethours"
	"trading-portfolio/internal/service"
)

const (
	// PortfolioChannelPrefix prefixes the per-account WebSocket channel.
	PortfolioChannelPrefix = "portfolio:"

	// SystemChannel carries periodic process metrics.
	SystemChannel = "system"

	// ConfigChannel carries risk limit changes.
	ConfigChannel = "config"

	// QuotesChannel carries live price quotes.
	QuotesChannel = "quotes"
)

// PortfolioChannel returns the channel name for account.
func PortfolioChannel(account string) string {
	return PortfolioChannelPrefix + account
}

// UpdateSource provides the current portfolio for newly subscribed clients.
type UpdateSource interface {
	Latest(account string) (service.Update, bool)
	Preview(ctx context.Context, account string) (service.Update, error)
}

// Hub manages WebSocket clients and fans portfolio updates out to them.
// It delegates envelope construction to Broadcaster and keeps, per
// channel, the latest payload plus a replay buffer for gap backfill.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// Update-to-delivery latency tracker
	Latency *LatencyTracker

	Broadcaster *Broadcaster
	source      UpdateSource
	logger      *slog.Logger

	// Session, when set, adds market status to the system metrics.
	Session *markethours.Session

	// OnClientCount is called with the client count after every change.
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a Hub. source may be nil, in which case subscribing
// clients only receive what has already been broadcast.
func NewHub(source UpdateSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000), // 10k sample ring buffer
		source:      source,
		logger:      logger.With(slog.String("component", "hub")),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// PublishUpdate broadcasts u on its account channel.
func (h *Hub) PublishUpdate(_ context.Context, u service.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update %s: %w", u.Account, err)
	}
	h.broadcast(PortfolioChannel(u.Account), data)
	return nil
}

// broadcast delegates to Broadcaster for fan-out.
func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection. account restricts the
// client to one portfolio channel (empty receives every account). When
// lastSeq is positive, missed envelopes after it are replayed from the
// buffer; otherwise the latest state is sent.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, account string, lastSeq int64) {
	client := newClient(h, conn)
	if account != "" {
		client.subscribe(account)
	}

	conn.EnableWriteCompression(true)

	count := h.addClient(client)
	h.logger.Info("ws client connected", slog.String("account", account), slog.Int("clients", count))

	go client.sendInitialState(account, lastSeq)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) addClient(c *Client) int {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
	return count
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// Latest returns the last payload broadcast on channel.
func (h *Hub) Latest(channel string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[channel]
	return e.Data, ok
}

// GetLatestAll returns the latest payload of every portfolio channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		if strings.HasPrefix(k, PortfolioChannelPrefix) {
			cp[k] = v.Data
		}
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
// Used by the /api/missed REST endpoint for client gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// OldestSeq returns the oldest channel sequence still replayable.
func (h *Hub) OldestSeq(channel string) (int64, bool) {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return 0, false
	}
	return rb.Oldest()
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartMetricsBroadcast broadcasts process metrics on SystemChannel every
// interval until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(h.systemMetrics(ctx, start))
			if err != nil {
				h.logger.Warn("encode system metrics", slog.Any("error", err))
				continue
			}
			h.broadcast(SystemChannel, data)
		}
	}
}

// systemMetrics adds hub and market state to the host metrics.
func (h *Hub) systemMetrics(ctx context.Context, start time.Time) SystemMetrics {
	m := CollectMetrics(ctx, start)
	m.WSClients = h.ClientCount()
	if h.Latency != nil {
		m.Latency = h.Latency.Stats()
	}
	if h.Session != nil {
		now := time.Now()
		m.MarketOpen = h.Session.IsOpen(now)
		m.MarketStatus = h.Session.Status(now)
	}
	return m
}
