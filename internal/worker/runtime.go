package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/dispatch"
	"github.com/danmuck/extbridge/internal/value"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// Config configures one worker session.
type Config struct {
	Session dispatch.Config
}

func DefaultConfig() Config {
	cfg := dispatch.DefaultConfig()
	cfg.Name = "worker"
	return Config{Session: cfg}
}

// Runtime owns the Lua state and the channel to the host. It is driven by
// a single goroutine; handlers run on the dispatching goroutine.
type Runtime struct {
	cfg        Config
	L          *lua.LState
	sender     *dispatch.Sender
	dispatcher *dispatch.Dispatcher
	functions  map[string]*lua.LFunction
	modules    map[string]lua.LValue
	logger     zerolog.Logger
}

// New wires a runtime reading requests from r and writing to w.
func New(r io.Reader, w io.Writer, cfg Config) (*Runtime, error) {
	rt := &Runtime{
		cfg:       cfg,
		L:         lua.NewState(),
		sender:    dispatch.NewSender(w, cfg.Session),
		functions: make(map[string]*lua.LFunction),
		modules:   make(map[string]lua.LValue),
		logger:    log.With().Str("component", "worker").Str("session", cfg.Session.Name).Logger(),
	}

	reg := dispatch.NewRegistry()
	handlers := map[dispatch.Kind]dispatch.HandlerFunc{
		dispatch.KindRequireModule:  rt.handleRequireModule,
		dispatch.KindModuleMessage:  rt.handleModuleMessage,
		dispatch.KindEvalScript:     rt.handleEvalScript,
		dispatch.KindScriptCall:     rt.handleScriptCall,
		dispatch.KindScriptRegister: rt.handleScriptRegister,
		dispatch.KindScriptRelease:  rt.handleScriptRelease,
	}
	for kind, h := range handlers {
		if err := reg.Register(kind, h); err != nil {
			rt.L.Close()
			return nil, fmt.Errorf("worker: register %s: %w", kind, err)
		}
	}
	rt.dispatcher = dispatch.New(r, reg, cfg.Session)
	rt.installBridgeModule()
	return rt, nil
}

// Run announces readiness and serves requests until the host closes the
// channel, the session terminates or ctx is cancelled. Cancellation closes
// r when it is an io.Closer and is returned as ctx.Err().
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.sender.SendValues(dispatch.KindExtensionReady); err != nil {
		return err
	}
	rt.logger.Info().Msg("worker ready")
	err := rt.dispatcher.Serve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			rt.logger.Info().Err(err).Msg("worker cancelled")
			return err
		}
		rt.logger.Error().Err(err).Msg("worker stopped")
		return err
	}
	rt.logger.Info().Msg("host closed channel")
	return nil
}

func (rt *Runtime) Dispatcher() *dispatch.Dispatcher {
	return rt.dispatcher
}

func (rt *Runtime) Close() {
	rt.L.Close()
}

func (rt *Runtime) remoteLog(level, msg string) error {
	rt.logger.Debug().Str("level", level).Msg(msg)
	return rt.sender.SendValues(dispatch.KindLog, value.String(level), value.String(msg))
}

func (rt *Runtime) replyError(id float64, msg string) error {
	return rt.sender.SendValues(dispatch.KindReply, value.Number(id), value.Boolean(false), value.String(msg))
}

func (rt *Runtime) replyHeader(id float64) ([]byte, error) {
	return codec.AppendRange(nil, codec.Values{value.Number(id), value.Boolean(true)}, 0, 2, rt.cfg.Session.Codec)
}
