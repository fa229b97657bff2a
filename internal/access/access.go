// Package access gates every inbound operation on ban status and privilege
// tier before the core components see it.
package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/pairtalk/pairtalk/internal/identity"
)

// ErrInsufficientPrivilege is returned when a participant's tier does not
// meet the required level.
var ErrInsufficientPrivilege = errors.New("access: insufficient privilege")

// BannedError is returned by CheckEntry when the participant has an active
// ban. Until is nil for indefinite bans.
type BannedError struct {
	Reason string
	Until  *time.Time
}

func (e *BannedError) Error() string {
	if e.Until == nil {
		return fmt.Sprintf("access: banned: %s", e.Reason)
	}
	return fmt.Sprintf("access: banned until %s: %s", e.Until.Format(time.RFC3339), e.Reason)
}

// Gate checks participants against the identity registry.
type Gate struct {
	ids *identity.Registry
}

// NewGate creates a Gate backed by the given registry.
func NewGate(ids *identity.Registry) *Gate {
	return &Gate{ids: ids}
}

// CheckEntry returns a *BannedError if the participant has an active ban.
// Expired bans pass.
func (g *Gate) CheckEntry(id int64) error {
	if ban, ok := g.ids.ActiveBan(id); ok {
		return &BannedError{Reason: ban.Reason, Until: ban.Until}
	}
	return nil
}

// CheckPrivilege verifies that the participant's tier meets or exceeds the
// required tier. Owner satisfies every check.
func (g *Gate) CheckPrivilege(id int64, required identity.Tier) error {
	if g.ids.Tier(id) < required {
		return fmt.Errorf("%w: participant %d", ErrInsufficientPrivilege, id)
	}
	return nil
}
