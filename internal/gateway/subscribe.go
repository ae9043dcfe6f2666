package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ── WS Protocol Message Types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type    string `json:"type"`  // "SUBSCRIBE"
	ReqID   string `json:"reqId"` // client-generated request ID
	Account string `json:"account"`
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type    string `json:"type"` // "UNSUBSCRIBE"
	ReqID   string `json:"reqId"`
	Account string `json:"account"`
}

// SnapshotResponse is the server → client SNAPSHOT sent after SUBSCRIBE.
// ChannelSeq is the channel sequence the snapshot corresponds to; live
// envelopes continue from ChannelSeq+1.
type SnapshotResponse struct {
	Type       string          `json:"type"` // "SNAPSHOT"
	ReqID      string          `json:"reqId,omitempty"`
	Account    string          `json:"account"`
	Channel    string          `json:"channel"`
	ChannelSeq int64           `json:"channel_seq"`
	Data       json.RawMessage `json:"data"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// snapshotTimeout bounds the preview computed for a subscriber with no cached state.
const snapshotTimeout = 5 * time.Second

// handleSubscribe adds the account to the client's filter and sends its
// current portfolio.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	c.subscribe(msg.Account)
	c.logger.Debug("client subscribed", slog.String("account", msg.Account))

	snap, err := c.hub.snapshot(msg.Account)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot failed: "+err.Error())
		return
	}
	snap.ReqID = msg.ReqID
	SendJSON(c, snap)
}

// handleUnsubscribe removes an account from the client's filter.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	c.unsubscribe(msg.Account)
	c.logger.Debug("client unsubscribed", slog.String("account", msg.Account))
}

// snapshot returns the account's latest broadcast state, computing it
// through the UpdateSource when nothing has been broadcast yet.
func (h *Hub) snapshot(account string) (SnapshotResponse, error) {
	channel := PortfolioChannel(account)
	snap := SnapshotResponse{Type: "SNAPSHOT", Account: account, Channel: channel}

	h.mu.RLock()
	e, ok := h.latest[channel]
	h.mu.RUnlock()
	if ok {
		snap.Data = e.Data
		snap.ChannelSeq = e.Seq
		return snap, nil
	}

	if h.source == nil {
		snap.Data = json.RawMessage("null")
		return snap, nil
	}
	u, ok := h.source.Latest(account)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		var err error
		if u, err = h.source.Preview(ctx, account); err != nil {
			return SnapshotResponse{}, err
		}
	}
	data, err := json.Marshal(u)
	if err != nil {
		return SnapshotResponse{}, err
	}
	snap.Data = data
	snap.ChannelSeq = h.GetChannelSeq(channel)
	return snap, nil
}

// SendJSON sends a JSON-encoded message to a single client.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("json marshal error", slog.Any("error", err))
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn("client gone or send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}
