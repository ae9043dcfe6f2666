package bus

import (
	"context"
	"testing"
	"time"
)

type quote struct {
	Symbol string
	Price  float64
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[quote](10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan quote, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- quote{Symbol: "AAPL", Price: 150}

	if q := receive(t, out1); q.Symbol != "AAPL" {
		t.Errorf("out1: expected AAPL, got %s", q.Symbol)
	}
	if q := receive(t, out2); q.Symbol != "AAPL" {
		t.Errorf("out2: expected AAPL, got %s", q.Symbol)
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[quote](1)
	slow := fo.Subscribe()
	fast := fo.Subscribe()

	dropped := make(chan int, 10)
	fo.OnDrop = func(i int) { dropped <- i }

	input := make(chan quote)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- quote{Symbol: "AAPL"}
	receive(t, fast)
	input <- quote{Symbol: "MSFT"}

	if idx := receive(t, dropped); idx != 0 {
		t.Errorf("expected subscriber 0 to drop, got %d", idx)
	}
	if q := receive(t, slow); q.Symbol != "AAPL" {
		t.Errorf("slow consumer keeps the first value, got %s", q.Symbol)
	}

	stats := fo.ChannelStats()
	if len(stats) != 2 || stats[0].Cap != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New[quote](1)
	out := fo.Subscribe()

	input := make(chan quote)
	done := make(chan struct{})
	go func() { fo.Run(context.Background(), input); close(done) }()
	close(input)
	<-done

	if _, ok := <-out; ok {
		t.Error("expected closed output")
	}
	if _, ok := <-fo.Subscribe(); ok {
		t.Error("late subscriber should get a closed channel")
	}
}
