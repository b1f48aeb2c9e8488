package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/babi2707/segmark/types"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestForRun_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := newLoggerWithWriter(&buf, zapcore.DebugLevel)

	base.ForRun("run-1", types.KindMarkers, types.ByImageID(42)).
		Info("starting run", map[string]any{"script": "gradcam.py"})

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["run_id"] != "run-1" || e["kind"] != "markers" || e["image_id"] != float64(42) {
		t.Errorf("missing context fields: %v", e)
	}
	if e["level"] != "info" || e["message"] != "starting run" {
		t.Errorf("unexpected level/message: %v", e)
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["script"] != "gradcam.py" {
		t.Errorf("fields = %v", e["fields"])
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestForRun_FilenameIdentity(t *testing.T) {
	var buf bytes.Buffer
	newLoggerWithWriter(&buf, zapcore.DebugLevel).
		ForRun("run-2", types.KindSegmentation, types.ByFilename("scan.png")).
		Warn("slow tool", nil)

	e := decodeEntries(t, &buf)[0]
	if e["filename"] != "scan.png" {
		t.Errorf("filename = %v", e["filename"])
	}
	if _, ok := e["image_id"]; ok {
		t.Error("image_id should be absent for filename identities")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter(&buf, zapcore.WarnLevel)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Error("shown", nil)

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "shown" {
		t.Errorf("entries = %v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	if err != nil || lvl != zapcore.InfoLevel {
		t.Errorf("ParseLevel(\"\") = (%v, %v)", lvl, err)
	}
	lvl, err = ParseLevel("debug")
	if err != nil || lvl != zapcore.DebugLevel {
		t.Errorf("ParseLevel(debug) = (%v, %v)", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSugar_WithOutput(t *testing.T) {
	var buf bytes.Buffer
	NewNop().WithOutput(&buf).Sugar().With("cmd", "segment").Infof("wrote %d files", 2)

	e := decodeEntries(t, &buf)[0]
	if e["message"] != "wrote 2 files" || e["cmd"] != "segment" {
		t.Errorf("entry = %v", e)
	}
}
