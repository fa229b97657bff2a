package relay

import (
	"sync"

	"github.com/pairtalk/pairtalk/internal/transport"
)

// MaxHistoryEntries is the number of recent exchanges retained per session.
const MaxHistoryEntries = 5

// Entry is one exchange kept in a session's history ring.
type Entry struct {
	SenderID int64          `json:"sender_id"`
	Kind     transport.Kind `json:"kind"`
	Payload  string         `json:"payload"`
	SentAt   int64          `json:"sent_at"`
}

// History stores the last few exchanges per session in memory, so that a
// report can carry a snapshot of the conversation for the operator channel.
// It is goroutine-safe and uses a ring buffer internally.
type History struct {
	mu    sync.RWMutex
	rings map[string]*ring // session ID -> ring buffer
}

type ring struct {
	items []Entry
	pos   int
	count int
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{rings: make(map[string]*ring)}
}

// Add appends an entry to the session's ring. When the ring is full the
// oldest entry is overwritten.
func (h *History) Add(sessionID string, e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.rings[sessionID]
	if !ok {
		rb = &ring{items: make([]Entry, MaxHistoryEntries)}
		h.rings[sessionID] = rb
	}

	rb.items[rb.pos] = e
	rb.pos = (rb.pos + 1) % MaxHistoryEntries
	if rb.count < MaxHistoryEntries {
		rb.count++
	}
}

// Recent returns the session's retained exchanges in chronological order,
// oldest first. Returns an empty slice for an unknown session.
func (h *History) Recent(sessionID string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.rings[sessionID]
	if !ok {
		return []Entry{}
	}

	out := make([]Entry, rb.count)
	start := (rb.pos - rb.count + MaxHistoryEntries) % MaxHistoryEntries
	for i := 0; i < rb.count; i++ {
		out[i] = rb.items[(start+i)%MaxHistoryEntries]
	}
	return out
}

// Remove deletes a session's ring (called when the session ends).
func (h *History) Remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rings, sessionID)
}
