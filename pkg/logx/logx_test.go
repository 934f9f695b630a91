package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriterLoggerKeepsWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("job done", Int("worker", 2), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["comp"] != "dispatch" || rec["message"] != "job done" || rec["err"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["worker"].(float64) != 2 {
		t.Fatalf("worker=%v", rec["worker"])
	}
}

func TestZeroLoggerIsSilent(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestFormatRecordSortsFields(t *testing.T) {
	got := formatRecord([]byte(`{"level":"warn","message":"refresh failed","time":"x","zeta":1,"alpha":"a"}`))
	want := "[WARN] refresh failed\n- alpha=a\n- zeta=1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !strings.HasPrefix(formatRecord([]byte("plain")), "plain") {
		t.Fatalf("non-JSON input should pass through")
	}
}

func TestParseLevelFallback(t *testing.T) {
	if ParseLevel("warning", LevelDebug) != LevelWarn {
		t.Fatalf("warning should map to warn")
	}
	if ParseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("unknown should fall back")
	}
}
