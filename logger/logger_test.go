package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/najoast/strand/config"
	"github.com/najoast/strand/core"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestContext(t *testing.T) *core.Context {
	t.Helper()
	ctx := core.NewContext(core.WithThreads(2), core.WithNetThreads(1))
	ctx.Start(0)
	t.Cleanup(func() {
		ctx.Stop()
		ctx.Join()
	})
	return ctx
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogLevelTrace, LevelTrace},
		{config.LogLevelDebug, slog.LevelDebug},
		{config.LogLevelInfo, slog.LevelInfo},
		{config.LogLevelWarn, slog.LevelWarn},
		{config.LogLevelError, slog.LevelError},
		{config.LogLevelFatal, LevelFatal},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, level, closer, err := New(config.LogConfig{
		Level:  config.LogLevelWarn,
		Format: "json",
		Output: path,
		Fields: map[string]interface{}{"app": "test"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")
	level.Set(LevelTrace)
	logger.Log(context.Background(), LevelTrace, "traced")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("Info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"app":"test"`) {
		t.Errorf("Missing warn record or fields: %s", out)
	}
	if !strings.Contains(out, `"level":"TRACE"`) {
		t.Errorf("Expected TRACE level name after level change: %s", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, _, err := New(config.LogConfig{Format: "xml", Output: "stdout"}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func newLoggerService(t *testing.T, ctx *core.Context) (*Service, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	out := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: LevelTrace, ReplaceAttr: replaceLevel}))
	s, err := NewService(ctx, "logger", out)
	if err != nil {
		t.Fatalf("Failed to create logger service: %v", err)
	}
	return s, buf
}

func TestServiceRegistersName(t *testing.T) {
	ctx := newTestContext(t)
	s, _ := newLoggerService(t, ctx)

	if ctx.QueryName(ServiceName) != s.Service() {
		t.Errorf("Expected service bound to %q", ServiceName)
	}
	if ctx.QueryName("logger") != s.Service() {
		t.Error("Expected service bound to its own name too")
	}
	if _, err := NewService(ctx, "logger2", nil); err == nil {
		t.Error("Expected error creating a second Logger")
	}
}

func TestServiceLogsWithSenderName(t *testing.T) {
	ctx := newTestContext(t)
	_, buf := newLoggerService(t, ctx)
	sender := core.NewService(ctx, "gateway")

	Log(sender, "plain text")
	Logf(sender, slog.LevelError, "failed %d times", 3)

	waitFor(t, time.Second, func() bool {
		return strings.Contains(buf.String(), "failed 3 times")
	})

	out := buf.String()
	if !strings.Contains(out, `msg="plain text"`) || !strings.Contains(out, "level=INFO") {
		t.Errorf("Missing info record: %s", out)
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("Missing error record: %s", out)
	}
	if strings.Count(out, "service=gateway") != 2 {
		t.Errorf("Expected both records tagged with the sender: %s", out)
	}
}

func TestServiceDropsUnknownSender(t *testing.T) {
	ctx := newTestContext(t)
	s, buf := newLoggerService(t, ctx)

	// Source id 0 resolves to no service
	core.DispatchFrom(ctx, s.Service().ID(), core.LogText{Text: "orphan"})

	sender := core.NewService(ctx, "known")
	Log(sender, "marker")
	waitFor(t, time.Second, func() bool { return strings.Contains(buf.String(), "marker") })

	if strings.Contains(buf.String(), "orphan") {
		t.Error("Record from unknown sender should be dropped")
	}
}

func TestServiceWritesLogFile(t *testing.T) {
	ctx := newTestContext(t)
	path := filepath.Join(t.TempDir(), "service.log")
	ctx.SetSettings(map[string]any{
		"logger": map[string]any{
			"log_file_enable": 1,
			"log_file_name":   path,
		},
	})
	s, _ := newLoggerService(t, ctx)

	Log(core.NewService(ctx, "writer"), "to file")

	waitFor(t, time.Second, func() bool {
		data, _ := os.ReadFile(path)
		return strings.Contains(string(data), "to file")
	})
	s.Close()
	s.Close()
}
