package ingest

import "github.com/flarestack/flare-relay/internal/models"

// Buffer is a fixed-capacity FIFO of recent events. Appending beyond
// capacity evicts the oldest entry; eviction is the only removal path.
type Buffer struct {
	entries  []*models.Event
	start    int
	count    int
	capacity int
}

// NewBuffer creates a buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		entries:  make([]*models.Event, capacity),
		capacity: capacity,
	}
}

// Append inserts an event, evicting the oldest entry when full.
func (b *Buffer) Append(ev *models.Event) {
	idx := (b.start + b.count) % b.capacity
	b.entries[idx] = ev
	if b.count < b.capacity {
		b.count++
		return
	}
	b.start = (b.start + 1) % b.capacity
}

// Recent returns up to limit of the newest events in insertion order.
// A non-positive limit returns everything buffered.
func (b *Buffer) Recent(limit int) []*models.Event {
	if limit <= 0 || limit > b.count {
		limit = b.count
	}
	out := make([]*models.Event, 0, limit)
	for i := b.count - limit; i < b.count; i++ {
		out = append(out, b.entries[(b.start+i)%b.capacity])
	}
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return b.count }

// Capacity returns the configured maximum.
func (b *Buffer) Capacity() int { return b.capacity }
