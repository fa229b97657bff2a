// Package memory provides a map-backed record store. It is the default
// backend for tests and for running the relay without external services.
package memory

import (
	"context"
	"sync"

	"github.com/pairtalk/pairtalk/internal/store"
)

// Store keeps all records in process memory.
type Store struct {
	mu           sync.RWMutex
	participants map[int64]store.ParticipantRecord
	sessions     map[string]store.SessionRecord
	exchanges    []store.ExchangeRecord
	cases        map[string]store.CaseRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		participants: make(map[int64]store.ParticipantRecord),
		sessions:     make(map[string]store.SessionRecord),
		cases:        make(map[string]store.CaseRecord),
	}
}

func (s *Store) UpsertParticipant(_ context.Context, rec store.ParticipantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[rec.ID] = rec
	return nil
}

func (s *Store) GetParticipant(_ context.Context, id int64) (*store.ParticipantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.participants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) CreateSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *Store) UpdateSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; !ok {
		return store.ErrNotFound
	}
	s.sessions[rec.ID] = rec
	return nil
}

func (s *Store) AppendExchange(_ context.Context, rec store.ExchangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, rec)
	return nil
}

func (s *Store) CreateCase(_ context.Context, rec store.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[rec.ID] = rec
	return nil
}

func (s *Store) UpdateCase(_ context.Context, rec store.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[rec.ID]; !ok {
		return store.ErrNotFound
	}
	s.cases[rec.ID] = rec
	return nil
}

func (s *Store) GetCase(_ context.Context, id string) (*store.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) Close() error { return nil }

// Session returns a stored session record, for test assertions.
func (s *Store) Session(id string) (store.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

// Exchanges returns a copy of all appended exchange records, oldest first.
func (s *Store) Exchanges() []store.ExchangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ExchangeRecord, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}
