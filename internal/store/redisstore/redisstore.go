// Package redisstore provides a Redis-backed record store. Records are
// stored as one hash per key:
//
//	participant:<id>   participant fields
//	pairsession:<id>   session fields
//	exchanges:<sid>    list of JSON exchange entries (append-only)
//	case:<id>          case fields
//	ban:<id>           reason string, TTL = remaining ban time
//
// The ban:<id> key mirrors a participant's time-limited ban so that its
// expiry is also enforced by Redis itself; indefinite bans carry no TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairtalk/pairtalk/internal/store"
)

// Key prefixes for record hashes.
const (
	participantPrefix = "participant:"
	sessionPrefix     = "pairsession:"
	exchangesPrefix   = "exchanges:"
	casePrefix        = "case:"
	banPrefix         = "ban:"
)

// Store manages the durable records in Redis.
type Store struct {
	client *redis.Client
}

// Open connects to Redis at addr and verifies the connection.
func Open(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing Redis client. Used by tests.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) UpsertParticipant(ctx context.Context, rec store.ParticipantRecord) error {
	key := participantPrefix + strconv.FormatInt(rec.ID, 10)
	banUntil := ""
	if rec.BanUntil != nil {
		banUntil = strconv.FormatInt(rec.BanUntil.Unix(), 10)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         rec.ID,
		"handle":     rec.Handle,
		"tier":       rec.Tier,
		"banned":     strconv.FormatBool(rec.Banned),
		"ban_reason": rec.BanReason,
		"ban_until":  banUntil,
	})

	// Mirror the ban as a standalone key whose TTL matches the remaining
	// ban duration.
	banKey := banPrefix + strconv.FormatInt(rec.ID, 10)
	switch {
	case !rec.Banned:
		pipe.Del(ctx, banKey)
	case rec.BanUntil == nil:
		pipe.Set(ctx, banKey, rec.BanReason, 0)
	default:
		remaining := time.Until(*rec.BanUntil)
		if remaining > 0 {
			pipe.Set(ctx, banKey, rec.BanReason, remaining)
		} else {
			pipe.Del(ctx, banKey)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable("upsert participant", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id int64) (*store.ParticipantRecord, error) {
	key := participantPrefix + strconv.FormatInt(id, 10)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, store.Unavailable("get participant", err)
	}
	if len(result) == 0 {
		return nil, store.ErrNotFound
	}

	rec := &store.ParticipantRecord{
		ID:        id,
		Handle:    result["handle"],
		Tier:      result["tier"],
		Banned:    result["banned"] == "true",
		BanReason: result["ban_reason"],
	}
	if v := result["ban_until"]; v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(unix, 0)
			rec.BanUntil = &t
		}
	}
	return rec, nil
}

func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	return s.writeSession(ctx, rec, "create session")
}

func (s *Store) UpdateSession(ctx context.Context, rec store.SessionRecord) error {
	key := sessionPrefix + rec.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return store.Unavailable("update session", err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return s.writeSession(ctx, rec, "update session")
}

func (s *Store) writeSession(ctx context.Context, rec store.SessionRecord, op string) error {
	key := sessionPrefix + rec.ID
	endedAt := ""
	if rec.EndedAt != nil {
		endedAt = strconv.FormatInt(rec.EndedAt.Unix(), 10)
	}
	err := s.client.HSet(ctx, key, map[string]interface{}{
		"id":            rec.ID,
		"participant_a": rec.ParticipantA,
		"participant_b": rec.ParticipantB,
		"state":         rec.State,
		"created_at":    rec.CreatedAt.Unix(),
		"ended_at":      endedAt,
	}).Err()
	if err != nil {
		return store.Unavailable(op, err)
	}
	return nil
}

func (s *Store) AppendExchange(ctx context.Context, rec store.ExchangeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: marshal exchange: %w", err)
	}
	key := exchangesPrefix + rec.SessionID
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return store.Unavailable("append exchange", err)
	}
	return nil
}

func (s *Store) CreateCase(ctx context.Context, rec store.CaseRecord) error {
	return s.writeCase(ctx, rec, "create case")
}

func (s *Store) UpdateCase(ctx context.Context, rec store.CaseRecord) error {
	key := casePrefix + rec.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return store.Unavailable("update case", err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return s.writeCase(ctx, rec, "update case")
}

func (s *Store) writeCase(ctx context.Context, rec store.CaseRecord, op string) error {
	key := casePrefix + rec.ID
	err := s.client.HSet(ctx, key, map[string]interface{}{
		"id":           rec.ID,
		"kind":         rec.Kind,
		"submitter_id": rec.SubmitterID,
		"subject_id":   rec.SubjectID,
		"reason":       rec.Reason,
		"media_ref":    rec.MediaRef,
		"status":       rec.Status,
	}).Err()
	if err != nil {
		return store.Unavailable(op, err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*store.CaseRecord, error) {
	key := casePrefix + id
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, store.Unavailable("get case", err)
	}
	if len(result) == 0 {
		return nil, store.ErrNotFound
	}

	submitter, _ := strconv.ParseInt(result["submitter_id"], 10, 64)
	subject, _ := strconv.ParseInt(result["subject_id"], 10, 64)
	return &store.CaseRecord{
		ID:          id,
		Kind:        result["kind"],
		SubmitterID: submitter,
		SubjectID:   subject,
		Reason:      result["reason"],
		MediaRef:    result["media_ref"],
		Status:      result["status"],
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
