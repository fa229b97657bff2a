package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/store/memory"
)

func TestCheckEntry(t *testing.T) {
	ids := identity.NewRegistry(memory.New(), 0)
	g := NewGate(ids)
	ctx := context.Background()

	if err := g.CheckEntry(100); err != nil {
		t.Fatalf("unknown participant should pass: %v", err)
	}

	if err := ids.Ban(ctx, 100, "abuse", nil); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	err := g.CheckEntry(100)
	var banned *BannedError
	if !errors.As(err, &banned) {
		t.Fatalf("expected *BannedError, got %v", err)
	}
	if banned.Reason != "abuse" || banned.Until != nil {
		t.Errorf("BannedError wrong: %+v", banned)
	}
}

func TestCheckEntryExpiredBanPasses(t *testing.T) {
	ids := identity.NewRegistry(memory.New(), 0)
	g := NewGate(ids)

	past := time.Now().Add(-time.Minute)
	if err := ids.Ban(context.Background(), 100, "timeout", &past); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := g.CheckEntry(100); err != nil {
		t.Errorf("expired ban must not block entry: %v", err)
	}
}

func TestCheckPrivilege(t *testing.T) {
	ids := identity.NewRegistry(memory.New(), 900)
	g := NewGate(ids)
	ctx := context.Background()

	ids.Ensure(ctx, 900, "boss")
	ids.Ensure(ctx, 100, "alice")
	ids.SetTier(ctx, 200, identity.TierElevated)

	cases := []struct {
		name     string
		id       int64
		required identity.Tier
		allowed  bool
	}{
		{"regular denied elevated", 100, identity.TierElevated, false},
		{"regular denied owner", 100, identity.TierOwner, false},
		{"elevated allowed elevated", 200, identity.TierElevated, true},
		{"elevated denied owner", 200, identity.TierOwner, false},
		{"owner allowed elevated", 900, identity.TierElevated, true},
		{"owner allowed owner", 900, identity.TierOwner, true},
		{"unknown denied elevated", 300, identity.TierElevated, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := g.CheckPrivilege(c.id, c.required)
			if c.allowed && err != nil {
				t.Errorf("expected allow, got %v", err)
			}
			if !c.allowed && !errors.Is(err, ErrInsufficientPrivilege) {
				t.Errorf("expected ErrInsufficientPrivilege, got %v", err)
			}
		})
	}
}

func TestBannedErrorMessage(t *testing.T) {
	e := &BannedError{Reason: "abuse"}
	if e.Error() != "access: banned: abuse" {
		t.Errorf("indefinite message = %q", e.Error())
	}

	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e = &BannedError{Reason: "spam", Until: &until}
	want := "access: banned until 2026-03-01T12:00:00Z: spam"
	if e.Error() != want {
		t.Errorf("dated message = %q, want %q", e.Error(), want)
	}
}
