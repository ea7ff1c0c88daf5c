package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestConfigureJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := Configure("debug", "json", &buf)
	log.WithComponent("dispatch").WithOperator("Jo").WithError(errors.New("boom")).Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "dispatch" || entry["operator"] != "Jo" || entry["error"] != "boom" || entry["msg"] != "hello" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConfigureLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	log := Configure("nonsense", "text", &buf)
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level, got %q", buf.String())
	}
	log.WithFields(map[string]any{"a": 1}).Info("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("expected info output, got %q", buf.String())
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatalf("expected discard logger")
	}
	l := New()
	if OrDiscard(l) != l {
		t.Fatalf("expected same logger")
	}
}
