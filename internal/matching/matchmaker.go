// Package matching owns the waiting queue and performs pair formation.
// Pairing is immediate: a request either matches the earliest waiting
// participant now or enqueues the requester and returns. Nothing blocks
// waiting for a future match.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pairtalk/pairtalk/internal/session"
)

// Status is the outcome of a pairing request.
type Status int

const (
	// StatusWaiting means the requester was enqueued (or was already waiting).
	StatusWaiting Status = iota
	// StatusMatched means a session was formed with a waiting participant.
	StatusMatched
	// StatusAlreadyPaired means the requester already has an active session.
	StatusAlreadyPaired
)

// Result describes the outcome of RequestPairing. SessionID and PartnerID
// are set only when Status is StatusMatched.
type Result struct {
	Status    Status
	SessionID string
	PartnerID int64
}

// Matchmaker pairs waiting participants first-in-first-out. The queue lock
// covers only queue state; session formation (which performs the durability
// write) runs outside it, with both the requester and the popped partner held
// reserved so that no concurrent request or cancellation can observe either
// of them half-matched.
type Matchmaker struct {
	mu       sync.Mutex
	queue    []int64
	reserved map[int64]bool // in the queue slice, or engaged in an in-flight match
	sessions *session.Manager
}

// NewMatchmaker creates a Matchmaker forming sessions through sessions.
func NewMatchmaker(sessions *session.Manager) *Matchmaker {
	return &Matchmaker{
		reserved: make(map[int64]bool),
		sessions: sessions,
	}
}

// RequestPairing matches the requester with the earliest waiting participant,
// or enqueues them when nobody is waiting. Calling it again while paired or
// while waiting is an idempotent no-op.
func (m *Matchmaker) RequestPairing(ctx context.Context, id int64) (Result, error) {
	if _, ok := m.sessions.Active(id); ok {
		return Result{Status: StatusAlreadyPaired}, nil
	}

	m.mu.Lock()
	if m.reserved[id] {
		m.mu.Unlock()
		return Result{Status: StatusWaiting}, nil
	}
	// Reserve the requester for the whole attempt. A concurrent duplicate
	// request takes the fast path above instead of slipping into the queue
	// while this one is mid-formation.
	m.reserved[id] = true

	for {
		var partner int64
		found := false
		for len(m.queue) > 0 {
			head := m.queue[0]
			m.queue = m.queue[1:]
			if head == id {
				// Defensive: the reserved check above makes this unreachable,
				// but a participant must never match itself.
				continue
			}
			partner = head
			found = true
			break
		}
		if !found {
			// The reservation now marks the queue entry.
			m.queue = append(m.queue, id)
			m.mu.Unlock()
			return Result{Status: StatusWaiting}, nil
		}
		// partner stays in m.reserved until formation settles.
		m.mu.Unlock()

		sid, err := m.sessions.Form(ctx, partner, id)
		if err == nil {
			m.mu.Lock()
			delete(m.reserved, partner)
			delete(m.reserved, id)
			m.mu.Unlock()
			return Result{Status: StatusMatched, SessionID: sid, PartnerID: partner}, nil
		}

		if errors.Is(err, session.ErrAlreadyPaired) {
			if _, paired := m.sessions.Active(id); paired {
				// The requester raced a concurrent match of their own; put the
				// partner back at the head so FIFO order is preserved.
				m.mu.Lock()
				m.queue = append([]int64{partner}, m.queue...)
				delete(m.reserved, id)
				m.mu.Unlock()
				return Result{Status: StatusAlreadyPaired}, nil
			}
			// The partner somehow holds a session; drop them and try the
			// next waiting participant.
			m.mu.Lock()
			delete(m.reserved, partner)
			continue
		}

		m.mu.Lock()
		m.queue = append([]int64{partner}, m.queue...)
		m.reserved[partner] = true
		delete(m.reserved, id)
		m.mu.Unlock()
		return Result{}, fmt.Errorf("matching: form session: %w", err)
	}
}

// CancelWaiting removes the participant from the waiting queue if present
// and reports whether an entry was removed. Cancelling a participant who was
// already popped for a match is a no-op: the match wins the race.
func (m *Matchmaker) CancelWaiting(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, waiting := range m.queue {
		if waiting == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			delete(m.reserved, id)
			return true
		}
	}
	return false
}

// Waiting reports whether the participant currently holds a queue entry.
func (m *Matchmaker) Waiting(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, waiting := range m.queue {
		if waiting == id {
			return true
		}
	}
	return false
}

// QueueSize returns the number of participants waiting for a partner.
func (m *Matchmaker) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
