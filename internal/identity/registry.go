// Package identity tracks known participants: their privilege tier and ban
// status. The in-memory registry is authoritative; every mutation writes
// through to the record store and rolls back on durability failure. Ban
// status is mutated only by the moderation workflow, never by the session
// or relay layers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pairtalk/pairtalk/internal/store"
)

// Tier is a participant's privilege level. Higher values include the
// permissions of lower ones.
type Tier int

const (
	TierRegular Tier = iota
	TierElevated
	TierOwner
)

// String returns the tier name used in the record store.
func (t Tier) String() string {
	switch t {
	case TierOwner:
		return "owner"
	case TierElevated:
		return "elevated"
	default:
		return "regular"
	}
}

func tierFromString(s string) Tier {
	switch s {
	case "owner":
		return TierOwner
	case "elevated":
		return TierElevated
	default:
		return TierRegular
	}
}

// Ban is an active ban record. A nil Until means the ban is indefinite.
type Ban struct {
	Reason string
	Until  *time.Time
}

// Expired reports whether a time-limited ban has run out.
func (b *Ban) Expired(now time.Time) bool {
	return b.Until != nil && now.After(*b.Until)
}

type participant struct {
	id     int64
	handle string
	tier   Tier
	ban    *Ban
}

// Registry is the identity and privilege registry. Participants are created
// on first observed interaction and never deleted.
type Registry struct {
	mu       sync.RWMutex
	members  map[int64]*participant
	recorder store.Store
	ownerID  int64
	now      func() time.Time
}

// NewRegistry creates a registry writing through to recorder. ownerID, if
// non-zero, is granted the owner tier on first sight.
func NewRegistry(recorder store.Store, ownerID int64) *Registry {
	return &Registry{
		members:  make(map[int64]*participant),
		recorder: recorder,
		ownerID:  ownerID,
		now:      time.Now,
	}
}

// Ensure registers a participant on first interaction. Unknown ids are first
// looked up in the record store so that tiers and bans survive a restart; a
// genuinely new participant is created with the regular tier (owner for the
// configured owner id) and persisted.
func (r *Registry) Ensure(ctx context.Context, id int64, handle string) error {
	r.mu.RLock()
	_, ok := r.members[id]
	r.mu.RUnlock()
	if ok {
		return nil
	}

	rec, err := r.recorder.GetParticipant(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("identity: load participant %d: %w", id, err)
	}

	p := &participant{id: id, handle: handle}
	if rec != nil {
		p.handle = rec.Handle
		p.tier = tierFromString(rec.Tier)
		if rec.Banned {
			p.ban = &Ban{Reason: rec.BanReason, Until: rec.BanUntil}
		}
	} else {
		if id == r.ownerID {
			p.tier = TierOwner
		}
		if err := r.recorder.UpsertParticipant(ctx, r.record(p)); err != nil {
			return fmt.Errorf("identity: persist participant %d: %w", id, err)
		}
	}

	r.mu.Lock()
	if _, exists := r.members[id]; !exists {
		r.members[id] = p
	}
	r.mu.Unlock()
	return nil
}

// Tier returns the privilege tier for a participant. Unknown participants
// are regular.
func (r *Registry) Tier(id int64) Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.members[id]; ok {
		return p.tier
	}
	return TierRegular
}

// SetTier changes a participant's privilege tier and persists the change.
func (r *Registry) SetTier(ctx context.Context, id int64, tier Tier) error {
	if err := r.Ensure(ctx, id, ""); err != nil {
		return err
	}

	r.mu.Lock()
	p := r.members[id]
	prev := p.tier
	p.tier = tier
	rec := r.record(p)
	r.mu.Unlock()

	if err := r.recorder.UpsertParticipant(ctx, rec); err != nil {
		r.mu.Lock()
		p.tier = prev
		r.mu.Unlock()
		return fmt.Errorf("identity: persist tier for %d: %w", id, err)
	}
	return nil
}

// ActiveBan returns the participant's ban if one is currently in effect.
// An expired time-limited ban is cleared lazily and reported as no ban.
func (r *Registry) ActiveBan(id int64) (*Ban, bool) {
	r.mu.RLock()
	p, ok := r.members[id]
	if !ok || p.ban == nil {
		r.mu.RUnlock()
		return nil, false
	}
	ban := p.ban
	r.mu.RUnlock()

	if ban.Expired(r.now()) {
		r.mu.Lock()
		if p.ban == ban {
			p.ban = nil
		}
		r.mu.Unlock()
		return nil, false
	}
	return ban, true
}

// Ban marks a participant banned with the given reason. A nil until means
// the ban is indefinite.
func (r *Registry) Ban(ctx context.Context, id int64, reason string, until *time.Time) error {
	if err := r.Ensure(ctx, id, ""); err != nil {
		return err
	}

	r.mu.Lock()
	p := r.members[id]
	prev := p.ban
	p.ban = &Ban{Reason: reason, Until: until}
	rec := r.record(p)
	r.mu.Unlock()

	if err := r.recorder.UpsertParticipant(ctx, rec); err != nil {
		r.mu.Lock()
		p.ban = prev
		r.mu.Unlock()
		return fmt.Errorf("identity: persist ban for %d: %w", id, err)
	}
	return nil
}

// Unban clears a participant's ban status.
func (r *Registry) Unban(ctx context.Context, id int64) error {
	if err := r.Ensure(ctx, id, ""); err != nil {
		return err
	}

	r.mu.Lock()
	p := r.members[id]
	prev := p.ban
	p.ban = nil
	rec := r.record(p)
	r.mu.Unlock()

	if err := r.recorder.UpsertParticipant(ctx, rec); err != nil {
		r.mu.Lock()
		p.ban = prev
		r.mu.Unlock()
		return fmt.Errorf("identity: persist unban for %d: %w", id, err)
	}
	return nil
}

// record builds the store representation of a participant. Callers must hold
// at least a read lock.
func (r *Registry) record(p *participant) store.ParticipantRecord {
	rec := store.ParticipantRecord{
		ID:     p.id,
		Handle: p.handle,
		Tier:   p.tier.String(),
	}
	if p.ban != nil {
		rec.Banned = true
		rec.BanReason = p.ban.Reason
		rec.BanUntil = p.ban.Until
	}
	return rec
}
