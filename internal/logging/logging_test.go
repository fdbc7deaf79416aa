package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)

	logger.Debug().Str("hidden", "x").Msg("below level")
	logger.Info().Str("document_id", "d1").Int("chunks", 3).Msg("ingested")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["message"] != "ingested" || entry["document_id"] != "d1" || entry["chunks"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_AutoOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	New("debug", "auto", &buf).Debug().Msg("hello")

	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("expected JSON output for non-terminal writer, got %q", buf.String())
	}
}
