// Package logger builds the process logger and provides the Logger
// service, which writes records on behalf of other services on its own
// single-worker executor.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/najoast/strand/config"
)

// Extra levels beyond the four slog defines.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelFatal = slog.LevelError + 4
)

// ParseLevel maps a configured level to a slog level. Unknown values map
// to info.
func ParseLevel(level config.LogLevel) slog.Level {
	switch config.LogLevel(strings.ToLower(string(level))) {
	case config.LogLevelTrace:
		return LevelTrace
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	case config.LogLevelFatal:
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// replaceLevel names the extra levels in output.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case level < slog.LevelDebug:
		a.Value = slog.StringValue("TRACE")
	case level > slog.LevelError:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger from cfg. The returned LevelVar changes
// the level of the live logger; the closer releases a log file if one
// was opened.
func New(cfg config.LogConfig) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		w, closer = f, f
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	handler, err := newHandler(w, cfg.Format, level)
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}

	logger := slog.New(handler)
	for k, v := range cfg.Fields {
		logger = logger.With(k, v)
	}
	return logger, level, closer, nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// Fatal logs at LevelFatal and exits the process.
func Fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}
