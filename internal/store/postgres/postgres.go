// Package postgres provides the PostgreSQL-backed record store. Schema
// migrations are embedded and applied on Open.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/pairtalk/pairtalk/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages the durable records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN, verifies the connection,
// and applies any pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, rec store.ParticipantRecord) error {
	const query = `
		INSERT INTO participants (id, handle, tier, banned, ban_reason, ban_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			handle = EXCLUDED.handle,
			tier = EXCLUDED.tier,
			banned = EXCLUDED.banned,
			ban_reason = EXCLUDED.ban_reason,
			ban_until = EXCLUDED.ban_until`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Handle, rec.Tier, rec.Banned, rec.BanReason, rec.BanUntil)
	if err != nil {
		return store.Unavailable("upsert participant", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id int64) (*store.ParticipantRecord, error) {
	const query = `
		SELECT id, handle, tier, banned, ban_reason, ban_until
		FROM participants WHERE id = $1`

	var rec store.ParticipantRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Handle, &rec.Tier, &rec.Banned, &rec.BanReason, &rec.BanUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable("get participant", err)
	}
	return &rec, nil
}

func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	const query = `
		INSERT INTO sessions (id, participant_a, participant_b, state, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ParticipantA, rec.ParticipantB, rec.State, rec.CreatedAt, rec.EndedAt)
	if err != nil {
		return store.Unavailable("create session", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, rec store.SessionRecord) error {
	const query = `
		UPDATE sessions SET state = $2, ended_at = $3 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, rec.ID, rec.State, rec.EndedAt)
	if err != nil {
		return store.Unavailable("update session", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendExchange(ctx context.Context, rec store.ExchangeRecord) error {
	const query = `
		INSERT INTO exchanges (id, session_id, sender_id, kind, payload_ref, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.SenderID, rec.Kind, rec.PayloadRef, rec.SentAt)
	if err != nil {
		return store.Unavailable("append exchange", err)
	}
	return nil
}

func (s *Store) CreateCase(ctx context.Context, rec store.CaseRecord) error {
	const query = `
		INSERT INTO cases (id, kind, submitter_id, subject_id, reason, media_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Kind, rec.SubmitterID, rec.SubjectID, rec.Reason, rec.MediaRef, rec.Status)
	if err != nil {
		return store.Unavailable("create case", err)
	}
	return nil
}

func (s *Store) UpdateCase(ctx context.Context, rec store.CaseRecord) error {
	const query = `UPDATE cases SET status = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, rec.ID, rec.Status)
	if err != nil {
		return store.Unavailable("update case", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*store.CaseRecord, error) {
	const query = `
		SELECT id, kind, submitter_id, subject_id, reason, media_ref, status
		FROM cases WHERE id = $1`

	var rec store.CaseRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Kind, &rec.SubmitterID, &rec.SubjectID, &rec.Reason, &rec.MediaRef, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable("get case", err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
