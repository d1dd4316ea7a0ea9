package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/najoast/strand/core"
)

// ServiceName is the name the Logger service registers under.
const ServiceName = "Logger"

// Service writes log records sent to it as LogText and LogRecord
// messages. Writes happen on a dedicated single-worker executor so that
// slow output never holds up the actor pool.
type Service struct {
	svc  *core.Service
	exec *core.Executor
	out  *slog.Logger

	// optional per-service file, see "<name>.log_file_enable"
	file    *os.File
	fileOut *slog.Logger

	closeOnce sync.Once
}

// NewService creates the Logger service. Records go to out, or to the
// context logger when out is nil. Setting "<name>.log_file_enable" to a
// positive value also appends them to "<name>.log_file_name".
func NewService(ctx *core.Context, name string, out *slog.Logger) (*Service, error) {
	if ctx.QueryName(ServiceName) != nil {
		return nil, fmt.Errorf("logger: name %q is already registered", ServiceName)
	}
	if out == nil {
		out = ctx.Logger()
	}

	s := &Service{out: out}

	if ctx.ConfigInt(name+".log_file_enable", 0) > 0 {
		if path := ctx.Config(name+".log_file_name", ""); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
			}
			s.file = f
			s.fileOut = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
				Level:       LevelTrace,
				ReplaceAttr: replaceLevel,
			}))
		}
	}

	s.svc = core.NewService(ctx, name)
	if name != ServiceName {
		if status := ctx.RegisterName(s.svc, ServiceName); status != core.NameOK {
			s.closeFile()
			ctx.Remove(s.svc)
			return nil, fmt.Errorf("logger: cannot register %q: %s", ServiceName, status)
		}
	}

	s.exec = core.NewExecutor("logger", 1, ctx.Logger())
	s.exec.Run()

	core.On(s.svc, func(from core.ServiceID, m core.LogText) {
		s.write(from, slog.LevelInfo, m.Text)
	})
	core.On(s.svc, func(from core.ServiceID, m core.LogRecord) {
		s.write(from, m.Level, m.Text)
	})

	// The writer executor lives as long as the runtime
	if !ctx.Executor().Go(func() {
		<-ctx.Done()
		s.Close()
	}) {
		s.Close()
		return nil, fmt.Errorf("logger: executor is stopped")
	}
	return s, nil
}

// Service returns the underlying service.
func (s *Service) Service() *core.Service {
	return s.svc
}

// write records text for the sender. Records from senders that are no
// longer registered are dropped.
func (s *Service) write(from core.ServiceID, level slog.Level, text string) {
	sender := s.svc.Context().Query(from)
	if sender == nil {
		return
	}
	name := sender.Name()

	s.exec.Post(func() {
		s.out.Log(context.Background(), level, text, "service", name, "service_id", uint32(from))
		if s.fileOut != nil {
			s.fileOut.Log(context.Background(), level, text, "service", name, "service_id", uint32(from))
		}
	})
}

// Close drains pending records and releases the log file.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.exec.Stop()
		s.exec.Join()
		s.closeFile()
	})
}

func (s *Service) closeFile() {
	if s.file != nil {
		s.file.Close()
	}
}

// Log sends text to the Logger service of from's runtime at info level.
func Log(from *core.Service, text string) {
	if from == nil {
		return
	}
	core.DispatchTo(from, from.Context().QueryName(ServiceName), core.LogText{Text: text})
}

// Logf sends a formatted record at level to the Logger service.
func Logf(from *core.Service, level slog.Level, format string, args ...any) {
	if from == nil {
		return
	}
	core.DispatchTo(from, from.Context().QueryName(ServiceName), core.LogRecord{
		Level: level,
		Text:  fmt.Sprintf(format, args...),
	})
}
