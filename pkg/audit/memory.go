package audit

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 10000

// MemoryLogger keeps the most recent events in process memory. Once full
// it overwrites the oldest slot in place.
type MemoryLogger struct {
	mu       sync.RWMutex
	events   []Event
	next     int // slot the next event is written to
	capacity int
}

// NewMemoryLogger creates a logger holding at most capacity events; older
// events are discarded first. A non-positive capacity uses the default.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryLogger{capacity: capacity}
}

// Log records an audit event.
func (m *MemoryLogger) Log(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) < m.capacity {
		m.events = append(m.events, event)
	} else {
		m.events[m.next] = event
	}
	m.next = (m.next + 1) % m.capacity
	return nil
}

// Query retrieves audit events matching the filter, newest first.
func (m *MemoryLogger) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	skipped := 0
	n := len(m.events)
	for i := range n {
		e := m.events[(m.next-1-i+2*n)%n]
		if !filter.matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (*MemoryLogger) Close() error {
	return nil
}

// Verify interface compliance.
var _ Logger = (*MemoryLogger)(nil)
