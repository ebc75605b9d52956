package logging

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesToDatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, f, err := Setup(dir, "debug")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	logger.Debug("hello", "k", "v")
	name := f.Name()
	f.Close()

	if !strings.HasPrefix(name, dir) || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log path %s", name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") || !strings.Contains(string(data), "k=v") {
		t.Errorf("log line missing, got %q", data)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("expected a logger")
	}
}
