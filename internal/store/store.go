// Package store defines the durable record contract for the pairing core.
// The core keeps its authoritative state in memory; every state transition
// issues a synchronous write through this interface before the transition is
// considered complete. Implementations live in the subpackages memory,
// redisstore, and postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrUnavailable marks a durability failure. Callers roll back the in-memory
// mutation and surface the error as retryable.
var ErrUnavailable = errors.New("store: unavailable")

// Unavailable wraps an I/O error from a backend so that callers can match it
// with errors.Is(err, ErrUnavailable).
func Unavailable(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %v", op, ErrUnavailable, err)
}

// Session states.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Case kinds and statuses.
const (
	CaseReport = "report"
	CaseAppeal = "appeal"

	CasePending  = "pending"
	CaseAccepted = "accepted"
	CaseRejected = "rejected"
)

// ParticipantRecord mirrors the participants table.
type ParticipantRecord struct {
	ID        int64
	Handle    string
	Tier      string // regular | elevated | owner
	Banned    bool
	BanReason string
	BanUntil  *time.Time // nil = indefinite (when Banned) or unset
}

// SessionRecord mirrors the sessions table. ParticipantA and ParticipantB are
// stored as an unordered pair; lookups must treat them symmetrically.
type SessionRecord struct {
	ID           string
	ParticipantA int64
	ParticipantB int64
	State        string
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// ExchangeRecord mirrors the exchanges table. Append-only.
type ExchangeRecord struct {
	ID         string
	SessionID  string
	SenderID   int64
	Kind       string
	PayloadRef string
	SentAt     time.Time
}

// CaseRecord mirrors the cases table.
type CaseRecord struct {
	ID          string
	Kind        string
	SubmitterID int64
	SubjectID   int64
	Reason      string
	MediaRef    string
	Status      string
}

// Store is the persistent record store contract. All methods are safe for
// concurrent use.
type Store interface {
	UpsertParticipant(ctx context.Context, rec ParticipantRecord) error
	GetParticipant(ctx context.Context, id int64) (*ParticipantRecord, error)

	CreateSession(ctx context.Context, rec SessionRecord) error
	UpdateSession(ctx context.Context, rec SessionRecord) error

	AppendExchange(ctx context.Context, rec ExchangeRecord) error

	CreateCase(ctx context.Context, rec CaseRecord) error
	UpdateCase(ctx context.Context, rec CaseRecord) error
	GetCase(ctx context.Context, id string) (*CaseRecord, error)

	Close() error
}
