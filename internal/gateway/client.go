package gateway

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client represents a single WebSocket peer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *slog.Logger

	// Subscribed accounts; empty receives every portfolio channel.
	subMu    sync.RWMutex
	accounts map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		hub:      h,
		logger:   h.logger,
		accounts: make(map[string]bool),
	}
}

func (c *Client) subscribe(account string) {
	c.subMu.Lock()
	c.accounts[account] = true
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(account string) {
	c.subMu.Lock()
	delete(c.accounts, account)
	c.subMu.Unlock()
}

// sendInitialState brings a new client up to date. With a positive lastSeq
// it replays the account channel's envelopes after lastSeq; when the buffer
// no longer holds them it falls back to the latest state.
func (c *Client) sendInitialState(account string, lastSeq int64) {
	if account != "" && lastSeq > 0 {
		channel := PortfolioChannel(account)
		cur := c.hub.GetChannelSeq(channel)
		if cur <= lastSeq {
			return
		}
		if oldest, ok := c.hub.OldestSeq(channel); ok && oldest <= lastSeq+1 {
			missed := c.hub.GetReplayRange(channel, lastSeq+1, cur)
			for _, env := range missed {
				c.enqueue(env)
			}
			return
		}
	}

	if account != "" {
		snap, err := c.hub.snapshot(account)
		if err != nil {
			SendError(c, "", "snapshot failed: "+err.Error())
			return
		}
		SendJSON(c, snap)
		return
	}

	var envelopes [][]byte
	c.hub.mu.RLock()
	for channel, entry := range c.hub.latest {
		if !strings.HasPrefix(channel, PortfolioChannelPrefix) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		envelopes = append(envelopes, envelope)
	}
	c.hub.mu.RUnlock()

	for _, env := range envelopes {
		c.enqueue(env)
	}
}

// enqueue queues msg without blocking. It reports false when the buffer is
// full or the client has already been removed.
func (c *Client) enqueue(msg []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Write coalescing: batch queued messages into a single frame
			// with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.logger.Info("ws client disconnected", slog.Int("clients", c.hub.ClientCount()))
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			go c.handleSubscribe(subMsg)

		case "UNSUBSCRIBE":
			var unsubMsg UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsubMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(unsubMsg)

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.enqueue(pong)
			}
		}
	}
}

// matchesChannel reports whether the client should receive a message on
// channel. Non-portfolio channels are always delivered.
func (c *Client) matchesChannel(channel string) bool {
	account, ok := strings.CutPrefix(channel, PortfolioChannelPrefix)
	if !ok {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.accounts) == 0 || c.accounts[account]
}
