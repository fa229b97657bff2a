package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeUnmarshal(t *testing.T) {
	raw := []byte(`{"type":"connect","user_id":100}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Type != "connect" {
		t.Errorf("type = %q, want connect", env.Type)
	}
	if string(env.Raw) != string(raw) {
		t.Errorf("raw payload not preserved: %s", env.Raw)
	}
}

func TestEnvelopeRejectsMissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"user_id":100}`), &env); err == nil {
		t.Error("expected error for missing type")
	}
	if err := json.Unmarshal([]byte(`not json`), &env); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, typ string, cmd interface{})
	}{
		{
			name: "connect",
			raw:  `{"type":"connect","user_id":100,"handle":"alice"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				c, ok := cmd.(SimpleCmd)
				if !ok {
					t.Fatalf("cmd is %T, want SimpleCmd", cmd)
				}
				if c.UserID != 100 || c.Handle != "alice" {
					t.Errorf("decoded wrong: %+v", c)
				}
			},
		},
		{
			name: "message",
			raw:  `{"type":"message","user_id":100,"kind":"photo","payload":"file-abc"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				c, ok := cmd.(MessageCmd)
				if !ok {
					t.Fatalf("cmd is %T, want MessageCmd", cmd)
				}
				if c.Kind != "photo" || c.Payload != "file-abc" {
					t.Errorf("decoded wrong: %+v", c)
				}
			},
		},
		{
			name: "report",
			raw:  `{"type":"report","user_id":100,"reason":"spam","media_ref":"file-x"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				c, ok := cmd.(ReportCmd)
				if !ok {
					t.Fatalf("cmd is %T, want ReportCmd", cmd)
				}
				if c.Reason != "spam" || c.MediaRef != "file-x" {
					t.Errorf("decoded wrong: %+v", c)
				}
			},
		},
		{
			name: "appeal",
			raw:  `{"type":"appeal","user_id":100,"reason":"unfair"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				if c, ok := cmd.(AppealCmd); !ok || c.Reason != "unfair" {
					t.Errorf("decoded wrong: %#v", cmd)
				}
			},
		},
		{
			name: "ban",
			raw:  `{"type":"ban","user_id":900,"target_id":200,"reason":"abuse"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				c, ok := cmd.(TargetCmd)
				if !ok {
					t.Fatalf("cmd is %T, want TargetCmd", cmd)
				}
				if c.TargetID != 200 || c.Reason != "abuse" {
					t.Errorf("decoded wrong: %+v", c)
				}
			},
		},
		{
			name: "add_sudo",
			raw:  `{"type":"add_sudo","user_id":900,"target_id":200}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				if c, ok := cmd.(TargetCmd); !ok || c.TargetID != 200 {
					t.Errorf("decoded wrong: %#v", cmd)
				}
			},
		},
		{
			name: "decide",
			raw:  `{"type":"decide","user_id":900,"case_id":"c1","action":"accept"}`,
			check: func(t *testing.T, typ string, cmd interface{}) {
				c, ok := cmd.(DecideCmd)
				if !ok {
					t.Fatalf("cmd is %T, want DecideCmd", cmd)
				}
				if c.CaseID != "c1" || c.Action != "accept" {
					t.Errorf("decoded wrong: %+v", c)
				}
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			typ, cmd, err := ParseCommand([]byte(c.raw))
			if err != nil {
				t.Fatalf("ParseCommand() error: %v", err)
			}
			if typ != c.name {
				t.Errorf("type = %q, want %q", typ, c.name)
			}
			c.check(t, typ, cmd)
		})
	}
}

func TestParseCommandUnknownType(t *testing.T) {
	if _, _, err := ParseCommand([]byte(`{"type":"dance","user_id":100}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNewOpsNotice(t *testing.T) {
	n := NewOpsNotice("c1", "report", 100, 200, "spam", "file-x")

	if n.CaseID != "c1" || n.SubmitterID != 100 || n.SubjectID != 200 {
		t.Errorf("notice fields wrong: %+v", n)
	}
	if len(n.Actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(n.Actions))
	}
	if n.Actions[0].Action != "accept_c1" || n.Actions[1].Action != "reject_c1" {
		t.Errorf("action ids wrong: %+v", n.Actions)
	}

	// The notice round-trips through JSON for the operator channel.
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var got OpsNotice
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.CaseID != "c1" || len(got.Actions) != 2 {
		t.Errorf("round-trip wrong: %+v", got)
	}
}
