// Package service routes inbound gateway events through access control to
// the matchmaker, session manager, relay, and moderation workflow, and
// executes the resulting delivery instructions. Outbound effects are always
// produced as result values by the core components and sent from here, after
// the state transition and its durability write have committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pairtalk/pairtalk/internal/access"
	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/matching"
	"github.com/pairtalk/pairtalk/internal/metrics"
	"github.com/pairtalk/pairtalk/internal/moderation"
	"github.com/pairtalk/pairtalk/internal/protocol"
	"github.com/pairtalk/pairtalk/internal/relay"
	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/store"
	"github.com/pairtalk/pairtalk/internal/transport"
)

// OpsNotifier publishes case notices to the operator channel.
type OpsNotifier interface {
	NotifyOps(notice protocol.OpsNotice) error
}

// Router is the command loop of the relay core.
type Router struct {
	ids      *identity.Registry
	gate     *access.Gate
	match    *matching.Matchmaker
	sessions *session.Manager
	relay    *relay.Relay
	mod      *moderation.Workflow
	history  *relay.History
	gateway  transport.Gateway
	ops      OpsNotifier
}

// NewRouter wires the core components behind a single event entry point.
func NewRouter(
	ids *identity.Registry,
	gate *access.Gate,
	match *matching.Matchmaker,
	sessions *session.Manager,
	rel *relay.Relay,
	mod *moderation.Workflow,
	history *relay.History,
	gateway transport.Gateway,
	ops OpsNotifier,
) *Router {
	return &Router{
		ids:      ids,
		gate:     gate,
		match:    match,
		sessions: sessions,
		relay:    rel,
		mod:      mod,
		history:  history,
		gateway:  gateway,
		ops:      ops,
	}
}

// HandleRaw parses and dispatches one inbound gateway event. Intended as the
// NATS command subscription callback.
func (r *Router) HandleRaw(ctx context.Context, data []byte) {
	cmdType, cmd, err := protocol.ParseCommand(data)
	if err != nil {
		log.Printf("[router] parse command: %v", err)
		return
	}
	if err := r.Handle(ctx, cmdType, cmd); err != nil {
		log.Printf("[router] handle %s: %v", cmdType, err)
	}
}

// Handle dispatches one parsed command.
func (r *Router) Handle(ctx context.Context, cmdType string, cmd interface{}) error {
	switch c := cmd.(type) {
	case protocol.SimpleCmd:
		switch cmdType {
		case protocol.TypeStart:
			return r.handleStatic(ctx, c, TextWelcome)
		case protocol.TypeHelp:
			return r.handleStatic(ctx, c, TextHelp)
		case protocol.TypeRules:
			return r.handleStatic(ctx, c, TextRules)
		case protocol.TypeConnect:
			return r.handleConnect(ctx, c)
		case protocol.TypeDisconnect:
			return r.handleDisconnect(ctx, c)
		}
	case protocol.MessageCmd:
		return r.handleMessage(ctx, c)
	case protocol.ReportCmd:
		return r.handleReport(ctx, c)
	case protocol.AppealCmd:
		return r.handleAppeal(ctx, c)
	case protocol.TargetCmd:
		return r.handleTarget(ctx, cmdType, c)
	case protocol.DecideCmd:
		return r.handleDecide(ctx, c)
	}
	return fmt.Errorf("service: unhandled command type %q", cmdType)
}

func (r *Router) handleStatic(ctx context.Context, c protocol.SimpleCmd, text string) error {
	if err := r.ids.Ensure(ctx, c.UserID, c.Handle); err != nil {
		return err
	}
	return r.send(ctx, transport.Text(c.UserID, text))
}

// checkEntry ensures the participant exists and is not banned. A banned
// participant gets the ban notice and ok=false; the requested operation must
// not proceed.
func (r *Router) checkEntry(ctx context.Context, userID int64, handle string) (bool, error) {
	if err := r.ids.Ensure(ctx, userID, handle); err != nil {
		return false, err
	}
	var banned *access.BannedError
	if err := r.gate.CheckEntry(userID); errors.As(err, &banned) {
		text := fmt.Sprintf("You are banned from using this bot. Reason: %s", banned.Reason)
		if banned.Until != nil {
			text = fmt.Sprintf("You are banned from using this bot until %s. Reason: %s",
				banned.Until.UTC().Format("2006-01-02 15:04:05"), banned.Reason)
		}
		return false, r.send(ctx, transport.Text(userID, text))
	}
	return true, nil
}

func (r *Router) handleConnect(ctx context.Context, c protocol.SimpleCmd) error {
	ok, err := r.checkEntry(ctx, c.UserID, c.Handle)
	if err != nil || !ok {
		return err
	}

	res, err := r.match.RequestPairing(ctx, c.UserID)
	if err != nil {
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
	r.updateGauges()

	switch res.Status {
	case matching.StatusWaiting:
		return r.send(ctx, transport.Text(c.UserID, TextWaiting))
	case matching.StatusAlreadyPaired:
		return r.send(ctx, transport.Text(c.UserID, TextAlreadyConnected))
	case matching.StatusMatched:
		if err := r.send(ctx, transport.Text(c.UserID, TextConnected)); err != nil {
			return err
		}
		return r.send(ctx, transport.Text(res.PartnerID, TextConnected))
	}
	return nil
}

func (r *Router) handleDisconnect(ctx context.Context, c protocol.SimpleCmd) error {
	ok, err := r.checkEntry(ctx, c.UserID, c.Handle)
	if err != nil || !ok {
		return err
	}

	s, active := r.sessions.Active(c.UserID)
	partner, err := r.sessions.End(ctx, c.UserID)
	switch {
	case err == nil:
		if active {
			r.history.Remove(s.ID)
		}
		r.updateGauges()
		if err := r.send(ctx, transport.Text(c.UserID, TextDisconnected)); err != nil {
			return err
		}
		return r.send(ctx, transport.Text(partner, TextPartnerDisconnected))
	case errors.Is(err, session.ErrNotPaired):
		if r.match.CancelWaiting(c.UserID) {
			r.updateGauges()
			return r.send(ctx, transport.Text(c.UserID, TextDisconnected))
		}
		return r.send(ctx, transport.Text(c.UserID, TextNotConnected))
	default:
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
}

func (r *Router) handleMessage(ctx context.Context, c protocol.MessageCmd) error {
	ok, err := r.checkEntry(ctx, c.UserID, "")
	if err != nil || !ok {
		return err
	}

	kind, valid := transport.ParseKind(c.Kind)
	if !valid {
		return r.send(ctx, transport.Text(c.UserID, TextUnsupportedKind))
	}

	payload := c.Payload
	if kind != transport.KindText {
		handle, err := r.gateway.FetchMediaHandle(ctx, c.Payload)
		if err != nil {
			if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
				return sendErr
			}
			return err
		}
		payload = handle
	}

	d, err := r.relay.Forward(ctx, c.UserID, kind, payload)
	switch {
	case err == nil:
		metrics.RelayedTotal.WithLabelValues(string(kind)).Inc()
		return r.send(ctx, d)
	case errors.Is(err, session.ErrNotPaired):
		return r.send(ctx, transport.Text(c.UserID, TextNotConnected))
	default:
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
}

func (r *Router) handleReport(ctx context.Context, c protocol.ReportCmd) error {
	ok, err := r.checkEntry(ctx, c.UserID, "")
	if err != nil || !ok {
		return err
	}

	partner, paired := r.sessions.Partner(c.UserID)
	if !paired {
		return r.send(ctx, transport.Text(c.UserID, TextNotConnected))
	}

	mediaRef := c.MediaRef
	if mediaRef != "" {
		handle, err := r.gateway.FetchMediaHandle(ctx, mediaRef)
		if err == nil {
			mediaRef = handle
		} else {
			log.Printf("[router] media fetch for report by %d: %v", c.UserID, err)
		}
	}

	kase, err := r.mod.SubmitReport(ctx, c.UserID, partner, c.Reason, mediaRef)
	switch {
	case err == nil:
		// proceed
	case errors.Is(err, session.ErrNotPaired):
		return r.send(ctx, transport.Text(c.UserID, TextNotConnected))
	default:
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
	metrics.CasesTotal.WithLabelValues(kase.Kind).Inc()

	notice := protocol.NewOpsNotice(kase.ID, kase.Kind, kase.SubmitterID, kase.SubjectID, kase.Reason, kase.MediaRef)
	for _, e := range r.history.Recent(kase.SessionID) {
		notice.Recent = append(notice.Recent, protocol.ExchangeSnapshot{
			SenderID: e.SenderID,
			Kind:     string(e.Kind),
			Payload:  e.Payload,
			SentAt:   e.SentAt,
		})
	}
	if err := r.ops.NotifyOps(notice); err != nil {
		log.Printf("[router] ops notice for case %s: %v", kase.ID, err)
	}

	return r.send(ctx, transport.Text(c.UserID,
		fmt.Sprintf("Report submitted successfully! Report ID: %s", kase.ID)))
}

func (r *Router) handleAppeal(ctx context.Context, c protocol.AppealCmd) error {
	// No entry check: appeals must remain available to banned participants.
	if err := r.ids.Ensure(ctx, c.UserID, ""); err != nil {
		return err
	}

	reason := c.Reason
	if reason == "" {
		reason = "No reason provided"
	}

	kase, err := r.mod.SubmitAppeal(ctx, c.UserID, reason)
	if err != nil {
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
	metrics.CasesTotal.WithLabelValues(kase.Kind).Inc()

	notice := protocol.NewOpsNotice(kase.ID, kase.Kind, kase.SubmitterID, kase.SubjectID, kase.Reason, "")
	if err := r.ops.NotifyOps(notice); err != nil {
		log.Printf("[router] ops notice for case %s: %v", kase.ID, err)
	}

	return r.send(ctx, transport.Text(c.UserID,
		fmt.Sprintf("Appeal submitted successfully! Appeal ID: %s", kase.ID)))
}

func (r *Router) handleTarget(ctx context.Context, cmdType string, c protocol.TargetCmd) error {
	if err := r.ids.Ensure(ctx, c.UserID, ""); err != nil {
		return err
	}

	required := identity.TierElevated
	if cmdType == protocol.TypeAddSudo || cmdType == protocol.TypeDelSudo {
		required = identity.TierOwner
	}
	if err := r.gate.CheckPrivilege(c.UserID, required); err != nil {
		return r.send(ctx, transport.Text(c.UserID, TextNoPermission))
	}

	switch cmdType {
	case protocol.TypeBan:
		if r.ids.Tier(c.TargetID) >= identity.TierElevated {
			return r.send(ctx, transport.Text(c.UserID, TextCannotBanOperator))
		}
		out, err := r.mod.BanUser(ctx, c.TargetID, c.Reason, nil)
		if err != nil {
			if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
				return sendErr
			}
			return err
		}
		metrics.BansTotal.WithLabelValues("ban").Inc()
		r.updateGauges()
		if out.EndedSessionID != "" {
			r.history.Remove(out.EndedSessionID)
		}
		if out.EndedPartnerID != 0 {
			if err := r.send(ctx, transport.Text(out.EndedPartnerID, TextPartnerDisconnected)); err != nil {
				return err
			}
		}
		return r.send(ctx, transport.Text(c.UserID,
			fmt.Sprintf("User %d has been banned for: %s", c.TargetID, c.Reason)))

	case protocol.TypeUnban:
		if err := r.mod.UnbanUser(ctx, c.TargetID); err != nil {
			if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
				return sendErr
			}
			return err
		}
		metrics.BansTotal.WithLabelValues("unban").Inc()
		return r.send(ctx, transport.Text(c.UserID,
			fmt.Sprintf("User %d has been unbanned.", c.TargetID)))

	case protocol.TypeAddSudo:
		if err := r.ids.SetTier(ctx, c.TargetID, identity.TierElevated); err != nil {
			return err
		}
		return r.send(ctx, transport.Text(c.UserID,
			fmt.Sprintf("User %d has been added as a sudo user.", c.TargetID)))

	case protocol.TypeDelSudo:
		if err := r.ids.SetTier(ctx, c.TargetID, identity.TierRegular); err != nil {
			return err
		}
		return r.send(ctx, transport.Text(c.UserID,
			fmt.Sprintf("User %d has been removed as a sudo user.", c.TargetID)))
	}
	return fmt.Errorf("service: unhandled target command %q", cmdType)
}

func (r *Router) handleDecide(ctx context.Context, c protocol.DecideCmd) error {
	if err := r.ids.Ensure(ctx, c.UserID, ""); err != nil {
		return err
	}
	if err := r.gate.CheckPrivilege(c.UserID, identity.TierElevated); err != nil {
		return r.send(ctx, transport.Text(c.UserID, TextNoPermission))
	}

	decision, valid := moderation.ParseDecision(c.Action)
	if !valid {
		return fmt.Errorf("service: invalid decision %q on case %s", c.Action, c.CaseID)
	}

	started := time.Now()
	out, err := r.mod.Decide(ctx, c.CaseID, decision, c.UserID)
	metrics.DecideLatency.Observe(time.Since(started).Seconds())
	switch {
	case err == nil:
		// proceed
	case errors.Is(err, moderation.ErrCaseNotFound):
		return r.send(ctx, transport.Text(c.UserID, TextCaseNotFound))
	case errors.Is(err, moderation.ErrAlreadyResolved):
		return r.send(ctx, transport.Text(c.UserID, TextCaseResolved))
	default:
		if sendErr := r.send(ctx, transport.Text(c.UserID, TextRetry)); sendErr != nil {
			return sendErr
		}
		return err
	}
	metrics.DecisionsTotal.WithLabelValues(out.Kind, string(out.Decision)).Inc()
	if out.Decision == moderation.DecisionAccept {
		switch out.Kind {
		case store.CaseReport:
			if !out.AlreadyBanned {
				metrics.BansTotal.WithLabelValues("ban").Inc()
			}
		case store.CaseAppeal:
			metrics.BansTotal.WithLabelValues("unban").Inc()
		}
	}
	r.updateGauges()

	if out.EndedSessionID != "" {
		r.history.Remove(out.EndedSessionID)
	}
	if out.EndedPartnerID != 0 {
		if err := r.send(ctx, transport.Text(out.EndedPartnerID, TextPartnerDisconnected)); err != nil {
			return err
		}
	}
	for _, d := range out.Notifications {
		if err := r.send(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// send executes one delivery instruction. An unreachable recipient is not a
// failure of the triggering operation: their session (if any) is torn down,
// the surviving partner notified, and any waiting-queue entry dropped.
func (r *Router) send(ctx context.Context, d transport.Delivery) error {
	err := r.gateway.Deliver(ctx, d)
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrUnreachable) {
		return err
	}

	log.Printf("[router] participant %d unreachable, tearing down", d.RecipientID)
	r.match.CancelWaiting(d.RecipientID)
	if s, ok := r.sessions.Active(d.RecipientID); ok {
		partner, endErr := r.sessions.End(ctx, d.RecipientID)
		if endErr == nil {
			r.history.Remove(s.ID)
			if notifyErr := r.gateway.Deliver(ctx, transport.Text(partner, TextPartnerDisconnected)); notifyErr != nil {
				log.Printf("[router] notify partner %d: %v", partner, notifyErr)
			}
		} else if !errors.Is(endErr, session.ErrNotPaired) {
			log.Printf("[router] end session for unreachable %d: %v", d.RecipientID, endErr)
		}
	}
	r.updateGauges()
	return nil
}

func (r *Router) updateGauges() {
	metrics.QueueSize.Set(float64(r.match.QueueSize()))
	metrics.ActiveSessions.Set(float64(r.sessions.ActiveCount()))
}
