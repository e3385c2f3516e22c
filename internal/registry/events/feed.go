package events

import (
	"context"
	"sync"
)

const defaultFeedCapacity = 1000

// Feed is a bounded, thread-safe ring of the most recent events. When full,
// the oldest event is dropped to make room.
type Feed struct {
	mu       sync.Mutex
	events   []Event
	head     int // next write position
	count    int
	capacity int

	dropped int64
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

func (f *Feed) Name() string { return "feed" }

// Publish appends event. A redelivered event (same ID as the newest entry)
// is ignored so at-least-once retries do not duplicate the feed.
func (f *Feed) Publish(_ context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count > 0 {
		last := f.events[(f.head-1+f.capacity)%f.capacity]
		if last.ID == event.ID {
			return nil
		}
	}
	if f.count == f.capacity {
		f.count--
		f.dropped++
	}
	f.events[f.head] = event
	f.head = (f.head + 1) % f.capacity
	f.count++
	return nil
}

// Recent returns up to n of the newest events in creation order.
func (f *Feed) Recent(n int) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 || n > f.count {
		n = f.count
	}
	out := make([]Event, n)
	start := (f.head - n + f.capacity) % f.capacity
	for i := 0; i < n; i++ {
		out[i] = f.events[(start+i)%f.capacity]
	}
	return out
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Dropped returns the total number of events evicted by newer ones.
func (f *Feed) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
