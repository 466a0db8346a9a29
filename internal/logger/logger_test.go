package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestWithComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	log := WithComponent(base, "events")
	log.Info("room opened")

	line := buf.String()
	if !strings.Contains(line, `"component":"events"`) {
		t.Fatalf("expected component attribute, got %q", line)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.WithComponent("auth").Info("session created")

	if !strings.Contains(buf.String(), `"component":"auth"`) {
		t.Fatalf("expected component attribute, got %q", buf.String())
	}
}
