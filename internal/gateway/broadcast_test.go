package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-portfolio/internal/model"
	"trading-portfolio/internal/service"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

// attach registers a connection-less client so tests can read its queue.
func attach(h *Hub, accounts ...string) *Client {
	c := newClient(h, nil)
	for _, a := range accounts {
		c.subscribe(a)
	}
	h.addClient(c)
	return c
}

func next(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case msg := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(msg, &env), "raw: %s", msg)
		return env
	case <-time.After(time.Second):
		t.Fatal("no message queued")
	}
	return envelope{}
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope(`portfolio:acc "1"`, []byte(`{"a":1}`), now, 42, 7)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), "raw: %s", buf)
	assert.Equal(t, `portfolio:acc "1"`, env.Channel)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))
	assert.Equal(t, int64(42), env.Seq)
	assert.Equal(t, int64(7), env.ChannelSeq)

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func TestBroadcast_SequencesAndFilters(t *testing.T) {
	h := NewHub(nil, nil)
	all := attach(h)
	onlyA := attach(h, "a")

	h.broadcast(PortfolioChannel("a"), []byte(`{"n":1}`))
	h.broadcast(PortfolioChannel("b"), []byte(`{"n":2}`))
	h.broadcast(PortfolioChannel("a"), []byte(`{"n":3}`))
	h.broadcast(SystemChannel, []byte(`{}`))

	e1, e2, e3, e4 := next(t, all), next(t, all), next(t, all), next(t, all)
	assert.Equal(t, []int64{1, 2, 3, 4}, []int64{e1.Seq, e2.Seq, e3.Seq, e4.Seq})
	assert.Equal(t, int64(1), e2.ChannelSeq, "channel b starts its own sequence")
	assert.Equal(t, int64(2), e3.ChannelSeq)

	a1, a2, sys := next(t, onlyA), next(t, onlyA), next(t, onlyA)
	assert.Equal(t, "portfolio:a", a1.Channel)
	assert.Equal(t, "portfolio:a", a2.Channel)
	assert.Equal(t, SystemChannel, sys.Channel, "non-portfolio channels reach every client")
	assert.Empty(t, onlyA.send)

	assert.Equal(t, int64(2), h.GetChannelSeq("portfolio:a"))
	replay := h.GetReplayRange("portfolio:a", 2, 2)
	require.Len(t, replay, 1)
	assert.Contains(t, string(replay[0]), `"n":3`)
}

func TestBroadcast_DropsWhenClientBufferFull(t *testing.T) {
	h := NewHub(nil, nil)
	c := attach(h)
	for i := 0; i < sendBuffer+10; i++ {
		h.broadcast(SystemChannel, []byte(`{}`))
	}
	assert.Len(t, c.send, sendBuffer)
	assert.Equal(t, int64(sendBuffer+10), h.GetChannelSeq(SystemChannel))
}

func TestHub_PublishUpdate(t *testing.T) {
	h := NewHub(nil, nil)
	c := attach(h)
	u := service.Update{
		Account:  "acc-1",
		Summary:  model.Summary{TotalValue: decimal.NewFromInt(18000), Holdings: 1},
		Holdings: []model.Holding{{Symbol: "AAPL", Quantity: 100}},
		At:       time.Now().UTC(),
	}
	require.NoError(t, h.PublishUpdate(context.Background(), u))

	env := next(t, c)
	assert.Equal(t, "portfolio:acc-1", env.Channel)
	var got service.Update
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "acc-1", got.Account)
	assert.True(t, got.Summary.TotalValue.Equal(decimal.NewFromInt(18000)))

	latest := h.GetLatestAll()
	assert.Contains(t, latest, "portfolio:acc-1")
	assert.Equal(t, 1, h.Latency.Count(), "update ts feeds the latency tracker")
}

func TestHub_RemoveClient(t *testing.T) {
	h := NewHub(nil, nil)
	var counts []int
	h.OnClientCount = func(n int) { counts = append(counts, n) }

	c := attach(h)
	require.Equal(t, 1, h.ClientCount())
	h.RemoveClient(c)
	h.RemoveClient(c) // second removal is a no-op

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, []int{1, 0}, counts)
	assert.False(t, c.enqueue([]byte("late")), "removed clients accept nothing")
}

func TestClient_ReplaysMissedEnvelopes(t *testing.T) {
	h := NewHub(nil, nil)
	for i := 0; i < 5; i++ {
		h.broadcast(PortfolioChannel("a"), []byte(`{}`))
	}
	c := attach(h, "a")
	c.sendInitialState("a", 3)

	assert.Equal(t, int64(4), next(t, c).ChannelSeq)
	assert.Equal(t, int64(5), next(t, c).ChannelSeq)
	assert.Empty(t, c.send)
}

func TestClient_SnapshotWhenReplayUnavailable(t *testing.T) {
	h := NewHub(nil, nil)
	for i := 0; i < replayCapacity+5; i++ {
		h.broadcast(PortfolioChannel("a"), []byte(`{"i":1}`))
	}
	c := attach(h, "a")
	c.sendInitialState("a", 1)

	var snap SnapshotResponse
	require.NoError(t, json.Unmarshal(<-c.send, &snap))
	assert.Equal(t, "SNAPSHOT", snap.Type)
	assert.Equal(t, int64(replayCapacity+5), snap.ChannelSeq)
}

func TestHub_StreamQuotes(t *testing.T) {
	h := NewHub(nil, nil)
	c := attach(h, "acc-1")

	ch := make(chan model.Quote, 1)
	done := make(chan struct{})
	go func() { h.StreamQuotes(context.Background(), ch); close(done) }()

	ch <- model.Quote{Symbol: "AAPL", Price: decimal.RequireFromString("151.25"), TS: time.Now().UTC()}
	env := next(t, c)
	assert.Equal(t, QuotesChannel, env.Channel, "quotes reach account-filtered clients too")

	var q model.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("151.25")))

	close(ch)
	<-done
	assert.NotContains(t, h.GetLatestAll(), QuotesChannel)
}
