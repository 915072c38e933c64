// Package logging holds the supervisor's stderr ring buffer: a fixed-size
// circular store of recent log lines per plugin, retrievable via getLogs()
// and, optionally, streamed live to subscribers.
package logging

import "sync"

// Entry is one line a supervisor read from a child's standard error,
// tagged with the plugin it came from.
type Entry struct {
	Time   int64  `json:"time"`
	Plugin string `json:"plugin"`
	Line   string `json:"line"`
}

// RingBuffer stores the most recent log entries for one or more
// supervisors and optionally fans them out to live subscribers.
type RingBuffer struct {
	entries []Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subscribers map[chan Entry]bool
	subMu       sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries:     make([]Entry, size),
		size:        size,
		subscribers: make(map[chan Entry]bool),
	}
}

// Add appends an entry, overwriting the oldest one once the buffer is full.
func (rb *RingBuffer) Add(entry Entry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	rb.subMu.RUnlock()
}

// GetRecent returns up to n of the most recently added entries, oldest first.
func (rb *RingBuffer) GetRecent(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}

	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Subscribe returns a channel that receives every entry added from now on.
// Callers must Unsubscribe when done to avoid leaking the channel.
func (rb *RingBuffer) Subscribe() chan Entry {
	ch := make(chan Entry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = true
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (rb *RingBuffer) Unsubscribe(ch chan Entry) {
	rb.subMu.Lock()
	delete(rb.subscribers, ch)
	rb.subMu.Unlock()
	close(ch)
}
