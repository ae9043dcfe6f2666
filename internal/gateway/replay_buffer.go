package gateway

import "sync"

// replayEntry is one broadcast envelope kept for replay.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the last N envelopes of one channel so clients that
// reconnect, or notice a channel_seq gap, can backfill. Entries are pushed
// in increasing Seq order. Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.RWMutex
	ring  []replayEntry
	head  int // index of the oldest entry
	count int
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{ring: make([]replayEntry, capacity)}
}

// Push stores a copy of data, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.count < len(rb.ring) {
		rb.ring[(rb.head+rb.count)%len(rb.ring)] = replayEntry{Seq: seq, Data: cp}
		rb.count++
		return
	}
	rb.ring[rb.head] = replayEntry{Seq: seq, Data: cp}
	rb.head = (rb.head + 1) % len(rb.ring)
}

// Range returns the entries with fromSeq <= Seq <= toSeq, oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.count; i++ {
		e := rb.ring[(rb.head+i)%len(rb.ring)]
		if e.Seq > toSeq {
			break
		}
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out
}

// Oldest returns the sequence of the oldest buffered entry.
func (rb *ReplayBuffer) Oldest() (int64, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.count == 0 {
		return 0, false
	}
	return rb.ring[rb.head].Seq, true
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
