package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_SessionFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Session{SessionID: "sess-1", Project: "/repo"}, &buf)

	l.Info("cycle complete", map[string]any{"changed": 3})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw %q)", err, buf.String())
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["project"] != "/repo" {
		t.Errorf("project = %v", entry["project"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["message"] != "cycle complete" {
		t.Errorf("message = %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["changed"] != float64(3) {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_OmitsEmptyProject(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Session{SessionID: "sess-2"}, &buf)
	l.Warn("busy", nil)

	if strings.Contains(buf.String(), `"project"`) {
		t.Errorf("expected no project field, got %s", buf.String())
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Session{SessionID: "s"}, &buf).Named("upload")
	l.Debug("chunk done", nil)

	if !strings.Contains(buf.String(), `"component":"upload"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}

func TestLogger_Sugar(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Session{SessionID: "s"}, &buf)
	l.Sugar().With("bundle_id", "b-1").Infof("extended %d files", 2)

	out := buf.String()
	if !strings.Contains(out, "extended 2 files") || !strings.Contains(out, `"bundle_id":"b-1"`) {
		t.Errorf("unexpected sugared output: %s", out)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("discarded", map[string]any{"k": "v"})
}

func TestNewLoggerAt(t *testing.T) {
	if _, err := NewLoggerAt(Session{SessionID: "s"}, "info"); err != nil {
		t.Errorf("info: %v", err)
	}
	if _, err := NewLoggerAt(Session{SessionID: "s"}, "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
