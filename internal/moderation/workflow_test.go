package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/store"
	"github.com/pairtalk/pairtalk/internal/store/memory"
	"github.com/pairtalk/pairtalk/internal/transport"
)

type fixture struct {
	rec      *memory.Store
	ids      *identity.Registry
	sessions *session.Manager
	w        *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := memory.New()
	ids := identity.NewRegistry(rec, 0)
	sessions := session.NewManager(rec)
	return &fixture{
		rec:      rec,
		ids:      ids,
		sessions: sessions,
		w:        NewWorkflow(ids, sessions, rec),
	}
}

func (f *fixture) pair(t *testing.T, a, b int64) string {
	t.Helper()
	sid, err := f.sessions.Form(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Form(%d, %d): %v", a, b, err)
	}
	return sid
}

func TestSubmitReportRequiresLivePartner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Not paired at all.
	if _, err := f.w.SubmitReport(ctx, 100, 200, "spam", ""); !errors.Is(err, session.ErrNotPaired) {
		t.Errorf("unpaired reporter: expected ErrNotPaired, got %v", err)
	}

	// Paired, but with someone else.
	f.pair(t, 100, 200)
	if _, err := f.w.SubmitReport(ctx, 100, 300, "spam", ""); !errors.Is(err, session.ErrNotPaired) {
		t.Errorf("wrong subject: expected ErrNotPaired, got %v", err)
	}
}

func TestSubmitReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.pair(t, 100, 200)
	c, err := f.w.SubmitReport(ctx, 100, 200, "offensive messages", "file-xyz")
	if err != nil {
		t.Fatalf("SubmitReport() error: %v", err)
	}
	if c.Kind != store.CaseReport || c.SubmitterID != 100 || c.SubjectID != 200 {
		t.Errorf("case fields wrong: %+v", c)
	}
	if c.SessionID != sid {
		t.Errorf("case session = %q, want %q", c.SessionID, sid)
	}
	if c.Status() != store.CasePending {
		t.Errorf("new case status = %q, want pending", c.Status())
	}

	stored, err := f.rec.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("case not persisted: %v", err)
	}
	if stored.Status != store.CasePending || stored.MediaRef != "file-xyz" {
		t.Errorf("persisted case wrong: %+v", stored)
	}
}

func TestSubmitAppeal(t *testing.T) {
	f := newFixture(t)

	c, err := f.w.SubmitAppeal(context.Background(), 100, "I did nothing wrong")
	if err != nil {
		t.Fatalf("SubmitAppeal() error: %v", err)
	}
	if c.Kind != store.CaseAppeal || c.SubmitterID != 100 || c.SubjectID != 100 {
		t.Errorf("appeal fields wrong: %+v", c)
	}
}

func TestDecideAcceptReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.pair(t, 100, 200)
	c, err := f.w.SubmitReport(ctx, 100, 200, "spam", "")
	if err != nil {
		t.Fatalf("SubmitReport() error: %v", err)
	}

	out, err := f.w.Decide(ctx, c.ID, DecisionAccept, 900)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}

	ban, ok := f.ids.ActiveBan(200)
	if !ok {
		t.Fatal("subject should be banned")
	}
	if want := "Report " + c.ID; ban.Reason != want {
		t.Errorf("ban reason = %q, want %q", ban.Reason, want)
	}
	if ban.Until != nil {
		t.Error("report ban should be indefinite")
	}

	// The subject's live session is torn down; the reporter is the partner
	// left behind.
	if out.EndedPartnerID != 100 {
		t.Errorf("EndedPartnerID = %d, want 100", out.EndedPartnerID)
	}
	if out.EndedSessionID != sid {
		t.Errorf("EndedSessionID = %q, want %q", out.EndedSessionID, sid)
	}
	if _, paired := f.sessions.Partner(200); paired {
		t.Error("banned subject must not keep an active session")
	}

	if c.Status() != store.CaseAccepted {
		t.Errorf("case status = %q, want accepted", c.Status())
	}
	stored, _ := f.rec.GetCase(ctx, c.ID)
	if stored.Status != store.CaseAccepted {
		t.Errorf("persisted status = %q, want accepted", stored.Status)
	}

	if len(out.Notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(out.Notifications))
	}
	assertNotified(t, out.Notifications, 100, "has been accepted")
	assertNotified(t, out.Notifications, 200, "You have been banned")
}

func TestDecideAcceptReportAlreadyBanned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, 100, 200)
	c, _ := f.w.SubmitReport(ctx, 100, 200, "spam", "")
	if err := f.ids.Ban(ctx, 200, "prior offense", nil); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	out, err := f.w.Decide(ctx, c.ID, DecisionAccept, 900)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if !out.AlreadyBanned {
		t.Error("AlreadyBanned should be set")
	}
	// The earlier ban reason is kept.
	ban, _ := f.ids.ActiveBan(200)
	if ban.Reason != "prior offense" {
		t.Errorf("ban reason overwritten: %q", ban.Reason)
	}
	if c.Status() != store.CaseAccepted {
		t.Errorf("case status = %q, want accepted", c.Status())
	}
	if len(out.Notifications) != 1 {
		t.Fatalf("got %d notifications, want only the reporter's", len(out.Notifications))
	}
	assertNotified(t, out.Notifications, 100, "already banned")
}

func TestDecideRejectReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, 100, 200)
	c, _ := f.w.SubmitReport(ctx, 100, 200, "spam", "")

	out, err := f.w.Decide(ctx, c.ID, DecisionReject, 900)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if _, banned := f.ids.ActiveBan(200); banned {
		t.Error("rejected report must not ban the subject")
	}
	if _, paired := f.sessions.Partner(200); !paired {
		t.Error("rejected report must not end the session")
	}
	if len(out.Notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(out.Notifications))
	}
	assertNotified(t, out.Notifications, 100, "has been rejected")
}

func TestDecideAcceptAppeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ids.Ban(ctx, 100, "Report abc", nil); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	c, _ := f.w.SubmitAppeal(ctx, 100, "please reconsider")

	out, err := f.w.Decide(ctx, c.ID, DecisionAccept, 900)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if _, banned := f.ids.ActiveBan(100); banned {
		t.Error("accepted appeal must clear the ban")
	}
	assertNotified(t, out.Notifications, 100, "You have been unbanned")
}

func TestDecideRejectAppeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ids.Ban(ctx, 100, "Report abc", nil)
	c, _ := f.w.SubmitAppeal(ctx, 100, "please reconsider")

	out, err := f.w.Decide(ctx, c.ID, DecisionReject, 900)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if _, banned := f.ids.ActiveBan(100); !banned {
		t.Error("rejected appeal must keep the ban")
	}
	assertNotified(t, out.Notifications, 100, "The ban remains in effect")
}

func TestDecideUnknownCase(t *testing.T) {
	f := newFixture(t)
	if _, err := f.w.Decide(context.Background(), "nope", DecisionAccept, 900); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestDecideIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, 100, 200)
	c, _ := f.w.SubmitReport(ctx, 100, 200, "spam", "")

	if _, err := f.w.Decide(ctx, c.ID, DecisionReject, 900); err != nil {
		t.Fatalf("first Decide() error: %v", err)
	}
	if _, err := f.w.Decide(ctx, c.ID, DecisionAccept, 900); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	// The first verdict stands.
	if c.Status() != store.CaseRejected {
		t.Errorf("case status = %q, want rejected", c.Status())
	}
	if _, banned := f.ids.ActiveBan(200); banned {
		t.Error("the losing accept must not take effect")
	}
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, 100, 200)
	c, _ := f.w.SubmitReport(ctx, 100, 200, "spam", "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []Decision{DecisionAccept, DecisionReject} {
		wg.Add(1)
		go func(i int, d Decision) {
			defer wg.Done()
			_, errs[i] = f.w.Decide(ctx, c.ID, d, 900)
		}(i, d)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyResolved):
			losses++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("got %d winners and %d losers, want exactly one of each", wins, losses)
	}
}

// caseFailStore fails UpdateCase so the retryability of a decision can be
// checked.
type caseFailStore struct {
	*memory.Store
	failUpdate bool
}

func (s *caseFailStore) UpdateCase(ctx context.Context, rec store.CaseRecord) error {
	if s.failUpdate {
		return store.Unavailable("update case", errors.New("injected failure"))
	}
	return s.Store.UpdateCase(ctx, rec)
}

func TestDecideStoreFailureLeavesCaseRetryable(t *testing.T) {
	rec := &caseFailStore{Store: memory.New()}
	ids := identity.NewRegistry(rec, 0)
	sessions := session.NewManager(rec)
	w := NewWorkflow(ids, sessions, rec)
	ctx := context.Background()

	if _, err := sessions.Form(ctx, 100, 200); err != nil {
		t.Fatalf("Form() error: %v", err)
	}
	c, err := w.SubmitReport(ctx, 100, 200, "spam", "")
	if err != nil {
		t.Fatalf("SubmitReport() error: %v", err)
	}

	rec.failUpdate = true
	if _, err := w.Decide(ctx, c.ID, DecisionAccept, 900); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// The case stays pending and the ban effect is reverted.
	if c.Status() != store.CasePending {
		t.Errorf("case status = %q, want pending", c.Status())
	}
	if _, banned := ids.ActiveBan(200); banned {
		t.Error("ban must be reverted when the case write fails")
	}

	rec.failUpdate = false
	out, err := w.Decide(ctx, c.ID, DecisionAccept, 900)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if out.AlreadyBanned {
		t.Error("retry must see a clean slate, not a leftover ban")
	}
	if _, banned := ids.ActiveBan(200); !banned {
		t.Error("retry should ban the subject")
	}
}

func TestBanUserTearsDownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.pair(t, 100, 200)
	out, err := f.w.BanUser(ctx, 200, "manual ban", nil)
	if err != nil {
		t.Fatalf("BanUser() error: %v", err)
	}
	if out.EndedPartnerID != 100 {
		t.Errorf("EndedPartnerID = %d, want 100", out.EndedPartnerID)
	}
	if out.EndedSessionID != sid {
		t.Errorf("EndedSessionID = %q, want %q", out.EndedSessionID, sid)
	}
	if _, banned := f.ids.ActiveBan(200); !banned {
		t.Error("target should be banned")
	}
	if _, paired := f.sessions.Partner(100); paired {
		t.Error("session should be torn down")
	}
}

func TestBanUserWithoutSession(t *testing.T) {
	f := newFixture(t)

	out, err := f.w.BanUser(context.Background(), 200, "manual ban", nil)
	if err != nil {
		t.Fatalf("BanUser() error: %v", err)
	}
	if out.EndedPartnerID != 0 {
		t.Errorf("EndedPartnerID = %d, want 0", out.EndedPartnerID)
	}
	if out.EndedSessionID != "" {
		t.Errorf("EndedSessionID = %q, want empty", out.EndedSessionID)
	}
}

func TestUnbanUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ids.Ban(ctx, 200, "manual ban", nil)
	if err := f.w.UnbanUser(ctx, 200); err != nil {
		t.Fatalf("UnbanUser() error: %v", err)
	}
	if _, banned := f.ids.ActiveBan(200); banned {
		t.Error("target should be unbanned")
	}
}

func TestParseDecision(t *testing.T) {
	if d, ok := ParseDecision("accept"); !ok || d != DecisionAccept {
		t.Errorf("ParseDecision(accept) = (%v, %v)", d, ok)
	}
	if d, ok := ParseDecision("reject"); !ok || d != DecisionReject {
		t.Errorf("ParseDecision(reject) = (%v, %v)", d, ok)
	}
	if _, ok := ParseDecision("maybe"); ok {
		t.Error("ParseDecision(maybe) should fail")
	}
}

func TestPendingCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pair(t, 100, 200)
	c1, _ := f.w.SubmitReport(ctx, 100, 200, "spam", "")
	f.w.SubmitAppeal(ctx, 300, "please")

	if got := f.w.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}
	f.w.Decide(ctx, c1.ID, DecisionReject, 900)
	if got := f.w.PendingCount(); got != 1 {
		t.Errorf("PendingCount() after decide = %d, want 1", got)
	}
}

func assertNotified(t *testing.T, ds []transport.Delivery, recipient int64, fragment string) {
	t.Helper()
	for _, d := range ds {
		if d.RecipientID == recipient && strings.Contains(d.Payload, fragment) {
			return
		}
	}
	t.Errorf("no notification to %d containing %q in %+v", recipient, fragment, ds)
}
