// Package moderation runs the report/appeal workflow: case submission,
// operator decisions, and the resulting ban state transitions. It is the
// only component allowed to mutate ban status in the identity registry.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/store"
	"github.com/pairtalk/pairtalk/internal/transport"
)

// ErrCaseNotFound is returned for decisions on unknown case ids.
var ErrCaseNotFound = errors.New("moderation: case not found")

// ErrAlreadyResolved is returned when a decision targets a case that has
// already left the pending state. The first decision stands.
var ErrAlreadyResolved = errors.New("moderation: case already resolved")

// Decision is an operator's verdict on a case.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision validates a wire decision string.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionAccept, DecisionReject:
		return Decision(s), true
	}
	return "", false
}

// Case is a report or appeal awaiting adjudication. Identity fields are
// immutable after creation; status transitions exactly once, guarded by the
// case's own lock.
type Case struct {
	ID          string
	Kind        string // store.CaseReport | store.CaseAppeal
	SubmitterID int64
	SubjectID   int64
	Reason      string
	MediaRef    string
	SessionID   string // reporting session, reports only; not persisted

	mu     sync.Mutex
	status string
}

// Status returns the case's current status.
func (c *Case) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Outcome describes a processed decision and the notifications it produced.
type Outcome struct {
	CaseID        string
	Kind          string
	Decision      Decision
	AlreadyBanned bool
	// EndedPartnerID and EndedSessionID identify the session torn down when
	// accepting a report banned its subject. Zero values when none ended.
	EndedPartnerID int64
	EndedSessionID string
	Notifications  []transport.Delivery
}

// BanOutcome describes a direct operator ban.
type BanOutcome struct {
	// EndedPartnerID and EndedSessionID identify the session torn down by
	// the ban. Zero values when the target was not in a chat.
	EndedPartnerID int64
	EndedSessionID string
}

// Workflow owns case records and drives ban state transitions.
type Workflow struct {
	mu    sync.Mutex
	cases map[string]*Case

	ids      *identity.Registry
	sessions *session.Manager
	recorder store.Store
}

// NewWorkflow creates a moderation workflow.
func NewWorkflow(ids *identity.Registry, sessions *session.Manager, recorder store.Store) *Workflow {
	return &Workflow{
		cases:    make(map[string]*Case),
		ids:      ids,
		sessions: sessions,
		recorder: recorder,
	}
}

// SubmitReport files a report against the reporter's current chat partner.
// The subject must be the live partner; reports against arbitrary ids are
// rejected with session.ErrNotPaired.
func (w *Workflow) SubmitReport(ctx context.Context, reporterID, subjectID int64, reason, mediaRef string) (*Case, error) {
	s, ok := w.sessions.Active(reporterID)
	if !ok || s.Partner(reporterID) != subjectID {
		return nil, fmt.Errorf("%w: participant %d has no active session with %d", session.ErrNotPaired, reporterID, subjectID)
	}

	c := &Case{
		ID:          uuid.New().String(),
		Kind:        store.CaseReport,
		SubmitterID: reporterID,
		SubjectID:   subjectID,
		Reason:      reason,
		MediaRef:    mediaRef,
		SessionID:   s.ID,
		status:      store.CasePending,
	}
	return w.register(ctx, c)
}

// SubmitAppeal files a ban appeal. The subject is the submitter; there is no
// partner precondition, so banned participants can always appeal.
func (w *Workflow) SubmitAppeal(ctx context.Context, submitterID int64, reason string) (*Case, error) {
	c := &Case{
		ID:          uuid.New().String(),
		Kind:        store.CaseAppeal,
		SubmitterID: submitterID,
		SubjectID:   submitterID,
		Reason:      reason,
		status:      store.CasePending,
	}
	return w.register(ctx, c)
}

func (w *Workflow) register(ctx context.Context, c *Case) (*Case, error) {
	w.mu.Lock()
	w.cases[c.ID] = c
	w.mu.Unlock()

	rec := store.CaseRecord{
		ID:          c.ID,
		Kind:        c.Kind,
		SubmitterID: c.SubmitterID,
		SubjectID:   c.SubjectID,
		Reason:      c.Reason,
		MediaRef:    c.MediaRef,
		Status:      store.CasePending,
	}
	if err := w.recorder.CreateCase(ctx, rec); err != nil {
		w.mu.Lock()
		delete(w.cases, c.ID)
		w.mu.Unlock()
		return nil, fmt.Errorf("moderation: persist case %s: %w", c.ID, err)
	}
	return c, nil
}

// Lookup returns a case by id.
func (w *Workflow) Lookup(caseID string) (*Case, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cases[caseID]
	return c, ok
}

// PendingCount returns the number of cases still awaiting a decision.
func (w *Workflow) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.cases {
		if c.Status() == store.CasePending {
			n++
		}
	}
	return n
}

// Decide applies an operator decision to a pending case. The transition is
// terminal: a second decision on the same case yields ErrAlreadyResolved and
// leaves the first verdict in place.
//
// Accepting a report bans the subject (reason "Report <caseID>") unless they
// are already banned, in which case the case still resolves accepted and the
// reporter is told so. Accepting an appeal clears the subject's ban.
// Rejections change no ban status.
func (w *Workflow) Decide(ctx context.Context, caseID string, decision Decision, operatorID int64) (*Outcome, error) {
	w.mu.Lock()
	c, ok := w.cases[caseID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.CasePending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, caseID, c.status)
	}

	out := &Outcome{CaseID: c.ID, Kind: c.Kind, Decision: decision}

	// Apply the ban effect first so that a durability failure there leaves
	// the case pending and the whole decision retryable.
	var banned bool
	var priorBan *identity.Ban
	if decision == DecisionAccept {
		switch c.Kind {
		case store.CaseReport:
			if _, active := w.ids.ActiveBan(c.SubjectID); active {
				out.AlreadyBanned = true
			} else {
				if err := w.ids.Ban(ctx, c.SubjectID, "Report "+c.ID, nil); err != nil {
					return nil, err
				}
				banned = true
			}
		case store.CaseAppeal:
			priorBan, _ = w.ids.ActiveBan(c.SubjectID)
			if err := w.ids.Unban(ctx, c.SubjectID); err != nil {
				return nil, err
			}
		}
	}

	newStatus := store.CaseRejected
	if decision == DecisionAccept {
		newStatus = store.CaseAccepted
	}
	c.status = newStatus

	rec := store.CaseRecord{
		ID:          c.ID,
		Kind:        c.Kind,
		SubmitterID: c.SubmitterID,
		SubjectID:   c.SubjectID,
		Reason:      c.Reason,
		MediaRef:    c.MediaRef,
		Status:      newStatus,
	}
	if err := w.recorder.UpdateCase(ctx, rec); err != nil {
		c.status = store.CasePending
		w.revertBanEffect(ctx, c, banned, priorBan)
		return nil, fmt.Errorf("moderation: persist decision on %s: %w", c.ID, err)
	}

	// A freshly banned participant cannot keep a live session.
	if banned {
		if s, live := w.sessions.Active(c.SubjectID); live {
			partner, err := w.sessions.End(ctx, c.SubjectID)
			switch {
			case err == nil:
				out.EndedPartnerID = partner
				out.EndedSessionID = s.ID
			case errors.Is(err, session.ErrNotPaired):
				// ended concurrently
			default:
				log.Printf("[moderation] end session for banned %d: %v", c.SubjectID, err)
			}
		}
	}

	out.Notifications = w.notifications(c, out)
	log.Printf("[moderation] case %s (%s) %sed by operator %d", c.ID, c.Kind, decision, operatorID)
	return out, nil
}

// revertBanEffect undoes the ban mutation after a failed case write, so the
// decision can be retried cleanly. Best effort: a failure here is logged.
func (w *Workflow) revertBanEffect(ctx context.Context, c *Case, banned bool, priorBan *identity.Ban) {
	if banned {
		if err := w.ids.Unban(ctx, c.SubjectID); err != nil {
			log.Printf("[moderation] revert ban of %d: %v", c.SubjectID, err)
		}
	}
	if priorBan != nil {
		if err := w.ids.Ban(ctx, c.SubjectID, priorBan.Reason, priorBan.Until); err != nil {
			log.Printf("[moderation] restore ban of %d: %v", c.SubjectID, err)
		}
	}
}

// notifications builds the user-facing result messages for a resolved case.
// Reports: the submitter always hears the verdict; the subject is notified
// only when the report was accepted. Appeals: subject == submitter, one
// notification carrying the verdict.
func (w *Workflow) notifications(c *Case, out *Outcome) []transport.Delivery {
	var ds []transport.Delivery
	switch c.Kind {
	case store.CaseReport:
		switch {
		case out.Decision == DecisionAccept && out.AlreadyBanned:
			ds = append(ds, transport.Text(c.SubmitterID,
				fmt.Sprintf("Your report (ID: %s) has been accepted, but user %d was already banned.", c.ID, c.SubjectID)))
		case out.Decision == DecisionAccept:
			ds = append(ds, transport.Text(c.SubmitterID,
				fmt.Sprintf("Your report (ID: %s) has been accepted.", c.ID)))
			ds = append(ds, transport.Text(c.SubjectID,
				fmt.Sprintf("You have been banned. Reason: Report %s", c.ID)))
		default:
			ds = append(ds, transport.Text(c.SubmitterID,
				fmt.Sprintf("Your report (ID: %s) has been rejected.", c.ID)))
		}
	case store.CaseAppeal:
		if out.Decision == DecisionAccept {
			ds = append(ds, transport.Text(c.SubmitterID,
				fmt.Sprintf("Your appeal (ID: %s) has been accepted. You have been unbanned.", c.ID)))
		} else {
			ds = append(ds, transport.Text(c.SubmitterID,
				fmt.Sprintf("Your appeal (ID: %s) has been rejected. The ban remains in effect.", c.ID)))
		}
	}
	return ds
}

// BanUser applies a direct operator ban and tears down the target's live
// session if any. Privilege checks are the caller's responsibility.
func (w *Workflow) BanUser(ctx context.Context, targetID int64, reason string, until *time.Time) (*BanOutcome, error) {
	if err := w.ids.Ban(ctx, targetID, reason, until); err != nil {
		return nil, err
	}

	out := &BanOutcome{}
	if s, live := w.sessions.Active(targetID); live {
		partner, err := w.sessions.End(ctx, targetID)
		switch {
		case err == nil:
			out.EndedPartnerID = partner
			out.EndedSessionID = s.ID
		case errors.Is(err, session.ErrNotPaired):
			// ended concurrently
		default:
			log.Printf("[moderation] end session for banned %d: %v", targetID, err)
		}
	}
	return out, nil
}

// UnbanUser clears a direct operator ban.
func (w *Workflow) UnbanUser(ctx context.Context, targetID int64) error {
	return w.ids.Unban(ctx, targetID)
}
