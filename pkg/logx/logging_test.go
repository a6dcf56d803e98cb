package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("logger with fields should not report IsZero")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Warn("fire failed", Int64("user_id", 7), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "fire failed" || m["err"] != "boom" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["user_id"] != float64(7) {
		t.Fatalf("user_id = %v, want 7", m["user_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"delivery failed","user_id":42,"comp":"notifier"}` + "\n")
	got, key := formatAlert(line)
	want := "⚠️ WARN [notifier] delivery failed\nuser_id: 42"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
	if key != "warn|notifier|delivery failed" {
		t.Fatalf("key = %q", key)
	}

	raw, _ := formatAlert([]byte("not json"))
	if raw != "not json" {
		t.Fatalf("formatAlert(raw) = %q", raw)
	}
}

type sentAlerts struct{ ch chan string }

func (s sentAlerts) SendAlert(_ context.Context, _ int64, text string) error {
	s.ch <- text
	return nil
}

func TestAlertSinkFoldsRepeats(t *testing.T) {
	t.Parallel()
	sent := sentAlerts{ch: make(chan string, 8)}
	a := newAlertSink(sent)
	a.configure(AlertConfig{Enabled: true, ChatID: 1, RatePerSec: 100})
	defer a.stop()

	line := []byte(`{"level":"error","message":"boom"}`)
	other := []byte(`{"level":"error","message":"different"}`)
	for i := 0; i < 3; i++ {
		_, _ = a.WriteLevel(zerolog.ErrorLevel, line)
	}
	_, _ = a.WriteLevel(zerolog.InfoLevel, other)
	_, _ = a.WriteLevel(zerolog.ErrorLevel, other)

	var got []string
	for len(got) < 2 {
		select {
		case text := <-sent.ch:
			got = append(got, text)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d alerts, want 2: %q", len(got), got)
		}
	}
	if !strings.Contains(got[1], "repeated 2 more times") {
		t.Fatalf("second alert = %q, want repeat count", got[1])
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "WARNING", " info "} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false, want true", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true, want false")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 20)
	if got := clip(s, 12); got != "aaaaaaaaa..." {
		t.Fatalf("clip = %q", got)
	}
	if got := clip(s, 40); got != s {
		t.Fatalf("clip long cap = %q", got)
	}
}
