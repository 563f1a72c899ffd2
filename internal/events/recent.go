// ABOUTME: In-memory ring buffer of recent operational events.
// ABOUTME: Backs the /api/events endpoint; bounded size, newest-first reads.

package events

import (
	"sync"
	"time"
)

// defaultRecentCapacity bounds the ring buffer.
const defaultRecentCapacity = 500

// OpEvent is one lightweight operational event: container lifecycle noise,
// approval changes, remediation outcomes. Not persisted.
type OpEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Container string `json:"container,omitempty"`
}

// RecentEvents is a fixed-capacity ring buffer, safe for concurrent use.
type RecentEvents struct {
	mutex    sync.Mutex
	buf      []OpEvent
	next     int
	size     int
	capacity int
}

// NewRecentEvents creates a buffer with the given capacity (default when <=0).
func NewRecentEvents(capacity int) *RecentEvents {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentEvents{
		buf:      make([]OpEvent, capacity),
		capacity: capacity,
	}
}

// Add records an operational event, evicting the oldest when full.
func (r *RecentEvents) Add(eventType, message, details, container string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.buf[r.next] = OpEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      eventType,
		Message:   message,
		Details:   details,
		Container: container,
	}
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// List returns up to limit events, newest first, optionally filtered by type
// and container.
func (r *RecentEvents) List(limit int, eventType, container string) []OpEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}

	out := make([]OpEvent, 0, limit)
	for i := 1; i <= r.size && len(out) < limit; i++ {
		ev := r.buf[(r.next-i+r.capacity)%r.capacity]
		if eventType != "" && ev.Type != eventType {
			continue
		}
		if container != "" && ev.Container != container {
			continue
		}
		out = append(out, ev)
	}
	return out
}
