package history

import (
	"sort"
	"sync"
	"time"
)

// Event is one access attempt reported by a device.
type Event struct {
	Key        string    `json:"key"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	Time       time.Time `json:"time"`
	RawTime    string    `json:"raw_time,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Method     string    `json:"method,omitempty"`
	Result     string    `json:"result,omitempty"`
	Door       string    `json:"door,omitempty"`
}

// Buffer is a capped, de-duplicated event list kept newest first.
//
// All methods are thread-safe.
type Buffer struct {
	mu     sync.RWMutex
	events []Event
	seen   map[string]struct{}
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{seen: make(map[string]struct{})}
}

// Ingest adds events whose key has not been seen, parsing RawTime when
// Time is unset, then keeps only the limit newest. Events without a key
// are dropped. A limit of zero or less clears the buffer.
//
// Returns the new events that survived truncation, newest first.
func (b *Buffer) Ingest(events []Event, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := make(map[string]struct{})
	for _, ev := range events {
		if ev.Key == "" {
			continue
		}
		if _, dup := b.seen[ev.Key]; dup {
			continue
		}
		if ev.Time.IsZero() {
			ev.Time = ParseTimestamp(ev.RawTime)
		}
		b.seen[ev.Key] = struct{}{}
		added[ev.Key] = struct{}{}
		b.events = append(b.events, ev)
	}

	b.truncate(limit)

	var fresh []Event
	for _, ev := range b.events {
		if _, ok := added[ev.Key]; ok {
			fresh = append(fresh, ev)
		}
	}
	return fresh
}

// Prune keeps only the limit newest events. A limit of zero or less
// clears the buffer.
func (b *Buffer) Prune(limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.truncate(limit)
}

// Snapshot returns up to limit of the newest events. A limit of zero or
// less returns everything.
func (b *Buffer) Snapshot(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, b.events[:n])
	return out
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// truncate sorts, cuts to limit and rebuilds the seen set from survivors.
// Must be called with mu held.
func (b *Buffer) truncate(limit int) {
	if limit <= 0 {
		b.events = nil
		b.seen = make(map[string]struct{})
		return
	}

	sort.SliceStable(b.events, func(i, j int) bool {
		if !b.events[i].Time.Equal(b.events[j].Time) {
			return b.events[i].Time.After(b.events[j].Time)
		}
		return b.events[i].Key < b.events[j].Key
	})
	if len(b.events) > limit {
		b.events = b.events[:limit:limit]
	}

	b.seen = make(map[string]struct{}, len(b.events))
	for _, ev := range b.events {
		b.seen[ev.Key] = struct{}{}
	}
}
