package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nopWriter{})
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestInfo_WritesJSON(t *testing.T) {
	buf := capture(t)

	Info("campaign tick", "campaign_id", "c-1", "queued", 20)

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "INFO" || entry["msg"] != "campaign tick" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["queued"] != "20" {
		t.Errorf("queued = %q, want 20", entry["queued"])
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Error("INFO entry written at WARN level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("WARN entry missing")
	}
}

func TestRedaction(t *testing.T) {
	buf := capture(t)

	Info("inbound", "phone", "79001234567", "sender", "79001234567@c.us", "note", "from 79001234567 ok")

	out := buf.String()
	if strings.Contains(out, "79001234567") {
		t.Errorf("phone leaked into log: %s", out)
	}
	if !strings.Contains(out, "***4567@c.us") {
		t.Errorf("chat id suffix should survive redaction: %s", out)
	}
}

func TestRedaction_LeavesIDsAlone(t *testing.T) {
	buf := capture(t)

	id := "550e8400-e29b-41d4-a716-446655440000"
	Info("tick", "campaign_id", id)

	if !strings.Contains(buf.String(), id) {
		t.Errorf("uuid was redacted: %s", buf.String())
	}
}

func TestRedactPhone(t *testing.T) {
	tests := map[string]string{
		"79001234567":      "***4567",
		"79001234567@c.us": "***4567@c.us",
		"123":              "***",
	}
	for in, want := range tests {
		if got := RedactPhone(in); got != want {
			t.Errorf("RedactPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"WARN":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"loud":    INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
