package core

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// HandlerID identifies one handler registration on a Service.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn func(from ServiceID, msg Message)
}

// Service is the actor base. Every message delivered to a service runs on
// its strand, so handlers of one service never run concurrently and need
// no locking for state only they touch.
type Service struct {
	ctx    *Context
	id     atomic.Uint32
	name   string
	strand *Strand
	logger *slog.Logger

	handlersMu  sync.RWMutex
	handlers    map[handlerKey][]handlerEntry
	nextHandler HandlerID

	session atomix.Uint32
}

// NewService creates a service on ctx's actor executor and registers it.
// A non-empty name is bound as well; a name conflict leaves the service
// registered but unnamed.
func NewService(ctx *Context, name string) *Service {
	s := &Service{
		ctx:      ctx,
		name:     name,
		strand:   NewStrand(ctx.Executor()),
		handlers: make(map[handlerKey][]handlerEntry),
	}

	id := ctx.Register(s)
	s.logger = ctx.Logger().With("service", name, "service_id", uint32(id))

	if name != "" {
		if status := ctx.RegisterName(s, name); status != NameOK {
			s.logger.Warn("service name not bound", "status", status.String())
		}
	}
	return s
}

// ID returns the registry id, or 0 before registration.
func (s *Service) ID() ServiceID {
	if s == nil {
		return 0
	}
	return ServiceID(s.id.Load())
}

// Name returns the name given at creation.
func (s *Service) Name() string {
	return s.name
}

// Context returns the owning runtime.
func (s *Service) Context() *Context {
	return s.ctx
}

// Logger returns a logger tagged with this service.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Post runs task on the service's strand.
func (s *Service) Post(task func()) bool {
	return s.strand.Post(task)
}

// Session returns a fresh correlation id. Ids start at 1 and are unique
// only within this service.
func (s *Service) Session() uint32 {
	return s.session.Add(1)
}

// On registers fn for the payload type M. Several handlers may be
// registered for the same type; they run in registration order.
func On[M Message](s *Service, fn func(from ServiceID, msg M)) HandlerID {
	var zero M
	if any(zero) == nil {
		panic("core: On needs a concrete message type")
	}
	key := keyOf(zero)

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	s.nextHandler++
	id := s.nextHandler
	s.handlers[key] = append(s.handlers[key], handlerEntry{
		id: id,
		fn: func(from ServiceID, msg Message) {
			fn(from, msg.(M))
		},
	})
	return id
}

// Unregister removes the registration id. It reports whether it was found.
func (s *Service) Unregister(id HandlerID) bool {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	for key, entries := range s.handlers {
		for i, e := range entries {
			if e.id != id {
				continue
			}
			rest := make([]handlerEntry, 0, len(entries)-1)
			rest = append(rest, entries[:i]...)
			rest = append(rest, entries[i+1:]...)
			if len(rest) == 0 {
				delete(s.handlers, key)
			} else {
				s.handlers[key] = rest
			}
			return true
		}
	}
	return false
}

// HasHandler reports whether any handler accepts msg's payload type.
func (s *Service) HasHandler(msg Message) bool {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers[keyOf(msg)]) > 0
}

// call runs the handlers for msg. It must be invoked on the strand.
// Messages without a handler are dropped.
func (s *Service) call(from ServiceID, msg Message) {
	s.handlersMu.RLock()
	entries := s.handlers[keyOf(msg)]
	s.handlersMu.RUnlock()

	for _, e := range entries {
		e.fn(from, msg)
	}
}
