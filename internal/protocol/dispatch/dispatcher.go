package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the dispatcher's position in the read cycle.
type State int

const (
	StateAwaitingHeader State = iota
	StateAwaitingPayload
	StateDispatching
	// StateTerminated is absorbing. Err reports why.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAwaitingPayload:
		return "awaiting_payload"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config carries the per-session limits shared by Dispatcher and Sender.
type Config struct {
	Name  string
	Frame frame.Limits
	Codec codec.Limits
}

func DefaultConfig() Config {
	return Config{
		Name:  "session",
		Frame: frame.DefaultLimits(),
		Codec: codec.DefaultLimits(),
	}
}

// Dispatcher reads one message per readiness notification and routes it to
// the registered handler. Any violation moves it to StateTerminated.
type Dispatcher struct {
	cfg      Config
	r        io.Reader
	registry *Registry
	state    State
	err      error
	logger   zerolog.Logger
}

func New(r io.Reader, registry *Registry, cfg Config) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		cfg:      cfg,
		r:        r,
		registry: registry,
		state:    StateAwaitingHeader,
		logger:   log.With().Str("component", "dispatch").Str("session", cfg.Name).Logger(),
	}
}

func (d *Dispatcher) State() State {
	return d.state
}

// Err returns the cause of termination, or nil while the session is live.
// A peer that closed cleanly between messages yields io.EOF.
func (d *Dispatcher) Err() error {
	return d.err
}

// HandleReadable runs exactly one header -> payload -> dispatch cycle.
func (d *Dispatcher) HandleReadable() error {
	if d.state == StateTerminated {
		return fmt.Errorf("%w: %w", protocol.ErrSessionTerminated, d.err)
	}

	d.state = StateAwaitingHeader
	h, err := frame.ReadHeader(d.r)
	if err != nil {
		return d.terminate(err)
	}

	kind := Kind(h.Kind)
	handler, ok := d.registry.Lookup(h.Kind)
	if !ok {
		if kind.Known() {
			return d.terminate(fmt.Errorf("%w: no handler registered for kind %s", protocol.ErrProtocolViolation, kind))
		}
		return d.terminate(fmt.Errorf("%w: unknown message kind %d", protocol.ErrProtocolViolation, h.Kind))
	}

	d.state = StateAwaitingPayload
	payload, err := frame.ReadPayload(d.r, h, d.cfg.Frame)
	if err != nil {
		return d.terminate(fmt.Errorf("kind %s: %w", kind, err))
	}

	d.state = StateDispatching
	d.logger.Trace().Str("kind", kind.String()).Uint32("length", h.Length).Msg("dispatch")
	if err := handler.Handle(payload, h.Length); err != nil {
		return d.terminate(fmt.Errorf("handler %s: %w", kind, err))
	}
	observability.RecordDispatch(d.cfg.Name, kind.String(), len(payload))

	d.state = StateAwaitingHeader
	return nil
}

// Serve runs cycles until the session ends. A peer closing between messages
// ends the session without error. When the reader is an io.Closer it is
// closed on ctx cancellation so a blocked read returns, and Serve reports
// ctx.Err() instead of the read failure.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if c, ok := d.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.HandleReadable(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) && d.err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (d *Dispatcher) terminate(err error) error {
	d.state = StateTerminated
	d.err = err

	reason := terminationReason(err)
	observability.RecordTermination(d.cfg.Name, reason)
	if reason == "closed" {
		d.logger.Debug().Msg("peer closed channel")
	} else {
		d.logger.Error().Err(err).Str("reason", reason).Msg("session terminated")
	}
	return err
}

func terminationReason(err error) string {
	switch {
	case err == io.EOF:
		return "closed"
	case errors.Is(err, protocol.ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, protocol.ErrChannel):
		return "channel_error"
	default:
		return "handler_error"
	}
}
