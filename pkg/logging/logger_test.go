package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roadspeed/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A previous run's log is rotated away
	if err := os.WriteFile(serverLog, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server:   config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Requests: config.LogSettings{Path: requestLog, Level: "INFO"},
	}

	prev := slog.Default()
	defer slog.SetDefault(prev)

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("graph loaded", "nodes", 12)
	RequestLogger.Info("request", "url", "http://example.invalid")
	cleanup()

	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || string(old) != "previous run\n" {
		t.Errorf("expected rotated log, got %q (%v)", old, err)
	}

	content, err := os.ReadFile(serverLog)
	if err != nil {
		t.Fatalf("server log not created: %v", err)
	}
	if !strings.Contains(string(content), "graph loaded") {
		t.Errorf("debug record missing from server log: %q", content)
	}

	content, err = os.ReadFile(requestLog)
	if err != nil {
		t.Fatalf("request log not created: %v", err)
	}
	if !strings.Contains(string(content), "example.invalid") {
		t.Errorf("request record missing from request log: %q", content)
	}
}

func TestParseLevel(t *testing.T) {
	defer func() { EnableTrace = false }()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"trace", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !EnableTrace {
		t.Error("TRACE level should enable trace logs")
	}
}

func TestMultiHandler_Levels(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}
	logger := slog.New(h).With("component", "test")

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug enabled on at least one handler")
	}

	logger.Debug("only file")
	logger.Info("both")

	if !strings.Contains(debugBuf.String(), "only file") || !strings.Contains(debugBuf.String(), "both") {
		t.Errorf("debug handler output: %q", debugBuf.String())
	}
	if strings.Contains(infoBuf.String(), "only file") || !strings.Contains(infoBuf.String(), "component=test") {
		t.Errorf("info handler output: %q", infoBuf.String())
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	EnableTrace = false
	Trace(logger, "hidden")
	EnableTrace = true
	Trace(logger, "shown")
	EnableTrace = false

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected trace output: %q", buf.String())
	}
}
