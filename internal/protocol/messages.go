// Package protocol defines the message types exchanged with the external
// command gateway and the operator channel. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
// Textual command parsing happens in the gateway; by the time a message
// reaches this core it is already structured.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Gateway -> core command types.
const (
	TypeStart      = "start"
	TypeHelp       = "help"
	TypeRules      = "rules"
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypeMessage    = "message"
	TypeReport     = "report"
	TypeAppeal     = "appeal"
	TypeBan        = "ban"
	TypeUnban      = "unban"
	TypeAddSudo    = "add_sudo"
	TypeDelSudo    = "del_sudo"
	TypeDecide     = "decide"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Gateway -> core command structs. UserID is the numeric identity the
// gateway authenticated for this event.
// ---------------------------------------------------------------------------

// SimpleCmd covers the commands that carry no arguments beyond the sender:
// start, help, rules, connect, disconnect.
type SimpleCmd struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Handle string `json:"handle,omitempty"`
}

// MessageCmd is an inbound payload to be relayed to the sender's partner.
// Payload is text for kind "text" and an opaque media handle otherwise.
type MessageCmd struct {
	Type    string `json:"type"`
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// ReportCmd files a report against the sender's current partner.
type ReportCmd struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Reason   string `json:"reason"`
	MediaRef string `json:"media_ref,omitempty"`
}

// AppealCmd files a ban appeal for the sender.
type AppealCmd struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// TargetCmd covers operator commands addressed at another participant:
// ban (with reason), unban, add_sudo, del_sudo.
type TargetCmd struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	TargetID int64  `json:"target_id"`
	Reason   string `json:"reason,omitempty"`
}

// DecideCmd is an operator verdict on a pending case, issued via the action
// identifiers embedded in the operator notification.
type DecideCmd struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	CaseID string `json:"case_id"`
	Action string `json:"action"` // "accept" | "reject"
}

// ---------------------------------------------------------------------------
// Core -> operator channel structs.
// ---------------------------------------------------------------------------

// CaseAction is one of the decision actions offered to operators.
type CaseAction struct {
	Label  string `json:"label"`  // "Accept" | "Reject"
	Action string `json:"action"` // e.g. "accept_<case_id>"
}

// ExchangeSnapshot is one recent exchange attached to a report notice for
// operator review.
type ExchangeSnapshot struct {
	SenderID int64  `json:"sender_id"`
	Kind     string `json:"kind"`
	Payload  string `json:"payload"`
	SentAt   int64  `json:"sent_at"`
}

// OpsNotice announces a new pending case on the operator channel, carrying
// the accept/reject action pair keyed by the case id.
type OpsNotice struct {
	CaseID      string             `json:"case_id"`
	Kind        string             `json:"kind"` // "report" | "appeal"
	SubmitterID int64              `json:"submitter_id"`
	SubjectID   int64              `json:"subject_id"`
	Reason      string             `json:"reason"`
	MediaRef    string             `json:"media_ref,omitempty"`
	Recent      []ExchangeSnapshot `json:"recent,omitempty"`
	Actions     []CaseAction       `json:"actions"`
}

// NewOpsNotice builds the operator notice for a pending case with its
// standard accept/reject action pair.
func NewOpsNotice(caseID, kind string, submitterID, subjectID int64, reason, mediaRef string) OpsNotice {
	return OpsNotice{
		CaseID:      caseID,
		Kind:        kind,
		SubmitterID: submitterID,
		SubjectID:   subjectID,
		Reason:      reason,
		MediaRef:    mediaRef,
		Actions: []CaseAction{
			{Label: "Accept", Action: "accept_" + caseID},
			{Label: "Reject", Action: "reject_" + caseID},
		},
	}
}

// ParseCommand parses raw gateway bytes into a typed command. It returns the
// command type string, the decoded struct, and any error encountered during
// parsing. Unknown types are an error.
func ParseCommand(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse command: %w", err)
	}

	var (
		cmd interface{}
		err error
	)

	switch env.Type {
	case TypeStart, TypeHelp, TypeRules, TypeConnect, TypeDisconnect:
		var c SimpleCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	case TypeMessage:
		var c MessageCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	case TypeReport:
		var c ReportCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	case TypeAppeal:
		var c AppealCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	case TypeBan, TypeUnban, TypeAddSudo, TypeDelSudo:
		var c TargetCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	case TypeDecide:
		var c DecideCmd
		err = json.Unmarshal(env.Raw, &c)
		cmd = c
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown command type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, cmd, nil
}
