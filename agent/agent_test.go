package agent

import (
	"encoding/json"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSpawned, StatusRunning, true},
		{StatusSpawned, StatusWaiting, false},
		{StatusSpawned, StatusClosed, false},
		{StatusRunning, StatusWaiting, true},
		{StatusRunning, StatusBlocked, true},
		{StatusRunning, StatusClosed, true},
		{StatusWaiting, StatusRunning, true},
		{StatusWaiting, StatusBlocked, false},
		{StatusBlocked, StatusRunning, true},
		{StatusClosed, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusRunning, StatusRunning, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range Statuses {
		if s.Terminal() {
			continue
		}
		if !CanTransition(s, StatusFailed) {
			t.Errorf("failed must be reachable from %s", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus("  Running ")
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if got != StatusRunning {
		t.Errorf("ParseStatus() = %s, want running", got)
	}

	if _, err := ParseStatus("sleeping"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCloseReasonStatus(t *testing.T) {
	if (CloseReason{}).Status() != StatusClosed {
		t.Error("zero reason should close")
	}
	if (CloseReason{Failed: true}).Status() != StatusFailed {
		t.Error("failed reason should fail")
	}
}

func TestMessage(t *testing.T) {
	t.Run("NewMessage marshals payload", func(t *testing.T) {
		msg, err := NewMessage("finding", map[string]string{"path": "main.go"})
		if err != nil {
			t.Fatalf("NewMessage() error = %v", err)
		}
		if msg.ID == "" {
			t.Error("expected generated ID")
		}
		var out map[string]string
		if err := msg.UnmarshalPayload(&out); err != nil {
			t.Fatalf("UnmarshalPayload() error = %v", err)
		}
		if out["path"] != "main.go" {
			t.Errorf("payload path = %q", out["path"])
		}
	})

	t.Run("NewMessage keeps raw JSON", func(t *testing.T) {
		msg, err := NewMessage("", json.RawMessage(`{"a":1}`))
		if err != nil {
			t.Fatalf("NewMessage() error = %v", err)
		}
		if msg.Payload != `{"a":1}` {
			t.Errorf("Payload = %s", msg.Payload)
		}
	})

	t.Run("NewMessage rejects invalid raw JSON", func(t *testing.T) {
		if _, err := NewMessage("", json.RawMessage(`{`)); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Clone is deep", func(t *testing.T) {
		msg, _ := NewMessage("note", "hello")
		msg.WithMetadata("k", "v")
		clone := msg.Clone()
		clone.Metadata["k"] = "changed"
		if msg.Metadata["k"] != "v" {
			t.Error("clone shares metadata with original")
		}
	})
}
