// Package session owns the authoritative pair-membership map and the pair
// lifecycle. It is the single source of truth for "who is this participant's
// partner right now". The record store keeps the durable history; it is
// never consulted on the partner-lookup hot path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairtalk/pairtalk/internal/store"
)

// ErrAlreadyPaired is returned when a participant already has an active session.
var ErrAlreadyPaired = errors.New("session: already paired")

// ErrNotPaired is returned when a participant has no active session.
var ErrNotPaired = errors.New("session: not paired")

// Session is an active pairing between two participants. The member order
// carries no meaning; lookups are symmetric.
type Session struct {
	ID        string
	A, B      int64
	CreatedAt time.Time
}

// Partner returns the other member of the pair, or 0 if id is not a member.
func (s *Session) Partner(id int64) int64 {
	switch id {
	case s.A:
		return s.B
	case s.B:
		return s.A
	}
	return 0
}

// Manager maintains the participant -> session index and drives the pair
// lifecycle. All mutations are serialized on the index lock; store writes
// happen outside it and roll the mutation back on failure.
type Manager struct {
	mu       sync.RWMutex
	byMember map[int64]*Session
	recorder store.Store
	now      func() time.Time
}

// NewManager creates a Manager writing through to recorder.
func NewManager(recorder store.Store) *Manager {
	return &Manager{
		byMember: make(map[int64]*Session),
		recorder: recorder,
		now:      time.Now,
	}
}

// Form creates an active session pairing a and b, indexes both members, and
// persists the session. It fails with ErrAlreadyPaired if either member
// already has an active session (re-checked here even though the matchmaker
// prevents it).
func (m *Manager) Form(ctx context.Context, a, b int64) (string, error) {
	if a == b {
		return "", fmt.Errorf("session: cannot pair participant %d with itself", a)
	}

	s := &Session{ID: uuid.New().String(), A: a, B: b, CreatedAt: m.now()}

	m.mu.Lock()
	if _, ok := m.byMember[a]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: participant %d", ErrAlreadyPaired, a)
	}
	if _, ok := m.byMember[b]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: participant %d", ErrAlreadyPaired, b)
	}
	m.byMember[a] = s
	m.byMember[b] = s
	m.mu.Unlock()

	rec := store.SessionRecord{
		ID:           s.ID,
		ParticipantA: a,
		ParticipantB: b,
		State:        store.SessionActive,
		CreatedAt:    s.CreatedAt,
	}
	if err := m.recorder.CreateSession(ctx, rec); err != nil {
		m.mu.Lock()
		delete(m.byMember, a)
		delete(m.byMember, b)
		m.mu.Unlock()
		return "", fmt.Errorf("session: persist session %s: %w", s.ID, err)
	}
	return s.ID, nil
}

// Partner returns the active partner of id, if any.
func (m *Manager) Partner(id int64) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byMember[id]
	if !ok {
		return 0, false
	}
	return s.Partner(id), true
}

// Active returns the active session id is a member of, if any.
func (m *Manager) Active(id int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byMember[id]
	return s, ok
}

// End transitions the caller's active session to ended and returns the
// partner id so the caller can notify them. Exactly one of two racing
// callers wins; the loser observes ErrNotPaired.
func (m *Manager) End(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	s, ok := m.byMember[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: participant %d", ErrNotPaired, id)
	}
	delete(m.byMember, s.A)
	delete(m.byMember, s.B)
	m.mu.Unlock()

	endedAt := m.now()
	rec := store.SessionRecord{
		ID:           s.ID,
		ParticipantA: s.A,
		ParticipantB: s.B,
		State:        store.SessionEnded,
		CreatedAt:    s.CreatedAt,
		EndedAt:      &endedAt,
	}
	if err := m.recorder.UpdateSession(ctx, rec); err != nil {
		// Restore the index only when both member slots are still free. A
		// one-sided restore would cross two sessions: the loser would keep
		// pointing at the old pair while the other member already belongs to
		// a new one. If either member re-paired in the meantime the session
		// stays ended and only the durability write is lost.
		m.mu.Lock()
		_, aTaken := m.byMember[s.A]
		_, bTaken := m.byMember[s.B]
		if !aTaken && !bTaken {
			m.byMember[s.A] = s
			m.byMember[s.B] = s
			m.mu.Unlock()
			return 0, fmt.Errorf("session: persist end of %s: %w", s.ID, err)
		}
		m.mu.Unlock()
		log.Printf("[session] end of %s not persisted (member re-paired): %v", s.ID, err)
	}
	return s.Partner(id), nil
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byMember) / 2
}
