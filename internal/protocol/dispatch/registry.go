package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("dispatch: unknown message kind")
	ErrHandlerExists = errors.New("dispatch: handler already registered")
	ErrHandlerNil    = errors.New("dispatch: handler is nil")
)

// Handler consumes one message payload. length always equals len(payload).
type Handler interface {
	Handle(payload []byte, length uint32) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload []byte, length uint32) error

func (f HandlerFunc) Handle(payload []byte, length uint32) error {
	return f(payload, length)
}

// Registry maps known kinds to handlers. It is filled before a session
// starts and only read afterwards.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds h to kind. Kinds outside the built-in set are refused.
func (r *Registry) Register(kind Kind, h Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	if !kind.Known() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint32(kind))
	}
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	r.handlers[kind] = h
	return nil
}

// HandleFunc registers fn for kind.
func (r *Registry) HandleFunc(kind Kind, fn func(payload []byte, length uint32) error) error {
	if fn == nil {
		return ErrHandlerNil
	}
	return r.Register(kind, HandlerFunc(fn))
}

// Lookup resolves a raw wire kind.
func (r *Registry) Lookup(kind uint32) (Handler, bool) {
	h, ok := r.handlers[Kind(kind)]
	return h, ok
}
