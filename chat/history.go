package chat

import (
	"sync"
	"time"
)

// DefaultHistoryLimit bounds how many messages a session retains.
const DefaultHistoryLimit = 300

// Message is one decoded chat message. Immutable once created.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender"`
	Color      string    `json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// History is a bounded, append-only sequence of messages in arrival order.
// When the capacity is exceeded the oldest entries are dropped first.
type History struct {
	mu       sync.Mutex
	capacity int
	msgs     []Message
}

// NewHistory creates a History. A non-positive capacity uses DefaultHistoryLimit.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &History{capacity: capacity}
}

// Append adds a message, evicting oldest entries when over capacity.
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
	if over := len(h.msgs) - h.capacity; over > 0 {
		h.msgs = append(h.msgs[:0], h.msgs[over:]...)
	}
}

// Len returns the current number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Messages returns a copy of the retained messages in arrival order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}
