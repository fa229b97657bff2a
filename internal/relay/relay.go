// Package relay resolves the recipient for an inbound payload and records
// the exchange. It performs no content inspection or transformation: text
// and media handles pass through untouched.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/store"
	"github.com/pairtalk/pairtalk/internal/transport"
)

// Relay addresses payloads between paired participants.
type Relay struct {
	sessions *session.Manager
	recorder store.Store
	history  *History
	now      func() time.Time
}

// New creates a Relay. history may be nil if no recent-exchange snapshots
// are wanted.
func New(sessions *session.Manager, recorder store.Store, history *History) *Relay {
	return &Relay{
		sessions: sessions,
		recorder: recorder,
		history:  history,
		now:      time.Now,
	}
}

// Forward resolves the sender's partner, appends the exchange record, and
// returns the forwarding instruction for the gateway. The instruction must
// not be executed if an error is returned: the exchange is only considered
// relayed once its durability write succeeded.
func (r *Relay) Forward(ctx context.Context, senderID int64, kind transport.Kind, payload string) (transport.Delivery, error) {
	s, ok := r.sessions.Active(senderID)
	if !ok {
		return transport.Delivery{}, fmt.Errorf("%w: participant %d", session.ErrNotPaired, senderID)
	}

	sentAt := r.now()
	rec := store.ExchangeRecord{
		ID:         uuid.New().String(),
		SessionID:  s.ID,
		SenderID:   senderID,
		Kind:       string(kind),
		PayloadRef: payload,
		SentAt:     sentAt,
	}
	if err := r.recorder.AppendExchange(ctx, rec); err != nil {
		return transport.Delivery{}, fmt.Errorf("relay: persist exchange: %w", err)
	}

	if r.history != nil {
		r.history.Add(s.ID, Entry{
			SenderID: senderID,
			Kind:     kind,
			Payload:  payload,
			SentAt:   sentAt.Unix(),
		})
	}

	return transport.Delivery{
		RecipientID: s.Partner(senderID),
		Kind:        kind,
		Payload:     payload,
	}, nil
}
