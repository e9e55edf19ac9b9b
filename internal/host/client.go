// Package host drives a worker process over the bridge protocol.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/dispatch"
	"github.com/danmuck/extbridge/internal/value"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed    = errors.New("host: session closed")
	ErrNotReady  = errors.New("host: worker not ready")
	ErrUnknownID = errors.New("host: reply for unknown call id")
)

// ScriptError is a Lua-side failure reported by the worker.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "host: script error: " + e.Message
}

// ModuleMessageFunc receives ModuleMessage traffic sent by worker scripts.
// Calls arrive in wire order on a delivery goroutine separate from the
// reply dispatcher, so a callback may issue Eval or Call.
type ModuleMessageFunc func(module string, args codec.Values)

// Config configures the host side of one session.
type Config struct {
	Session         dispatch.Config
	OnModuleMessage ModuleMessageFunc
}

func DefaultConfig() Config {
	cfg := dispatch.DefaultConfig()
	cfg.Name = "host"
	return Config{Session: cfg}
}

type moduleEvent struct {
	module string
	args   codec.Values
}

type result struct {
	values codec.Values
	err    error
}

// Client sends requests to a worker and matches replies by call id. Its
// dispatcher runs on one goroutine; requests may be issued concurrently.
type Client struct {
	cfg        Config
	sender     *dispatch.Sender
	dispatcher *dispatch.Dispatcher
	closer     io.Closer
	cmd        *exec.Cmd
	logger     zerolog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan result
	err     error

	ready     chan struct{}
	readyOnce sync.Once
	started   atomic.Bool
	done      chan struct{}

	inboxMu sync.Mutex
	inbox   []moduleEvent
	wake    chan struct{}
}

// Attach builds a client over an existing channel. w is closed by Close
// when it implements io.Closer.
func Attach(r io.Reader, w io.Writer, cfg Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		sender:  dispatch.NewSender(w, cfg.Session),
		pending: make(map[uint64]chan result),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		logger:  log.With().Str("component", "host").Str("session", cfg.Session.Name).Logger(),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}

	reg := dispatch.NewRegistry()
	if err := reg.HandleFunc(dispatch.KindExtensionReady, c.handleReady); err != nil {
		return nil, err
	}
	if err := reg.HandleFunc(dispatch.KindReply, c.handleReply); err != nil {
		return nil, err
	}
	if err := reg.HandleFunc(dispatch.KindLog, c.handleLog); err != nil {
		return nil, err
	}
	if err := reg.HandleFunc(dispatch.KindModuleMessage, c.handleModuleMessage); err != nil {
		return nil, err
	}
	c.dispatcher = dispatch.New(r, reg, cfg.Session)
	return c, nil
}

// Spawn starts path as a worker process talking over its stdin/stdout.
func Spawn(ctx context.Context, path string, args []string, cfg Config) (*Client, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: start worker %s: %w", path, err)
	}
	c, err := Attach(stdout, stdin, cfg)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	c.cmd = cmd
	c.logger.Info().Str("worker", path).Int("pid", cmd.Process.Pid).Msg("worker started")
	return c, nil
}

// Start runs the reply dispatcher in the background.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		err := c.dispatcher.Serve(ctx)
		if err == nil {
			err = ErrClosed
		}
		c.fail(err)
	}()
	if c.cfg.OnModuleMessage != nil {
		go c.deliverModuleMessages()
	}
}

// WaitReady blocks until the worker announced itself.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %w", ErrNotReady, c.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the reason the session ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Eval runs source in the worker and returns the chunk's results.
func (c *Client) Eval(ctx context.Context, source string) (codec.Values, error) {
	return c.request(ctx, dispatch.KindEvalScript, value.String(source))
}

// Call invokes a registered or global worker function.
func (c *Client) Call(ctx context.Context, name string, args ...value.Value) (codec.Values, error) {
	vals := make([]value.Value, 0, len(args)+1)
	vals = append(vals, value.String(name))
	vals = append(vals, args...)
	return c.request(ctx, dispatch.KindScriptCall, vals...)
}

func (c *Client) Require(name, source string) error {
	return c.sender.SendValues(dispatch.KindRequireModule, value.String(name), value.String(source))
}

func (c *Client) Register(name, source string) error {
	return c.sender.SendValues(dispatch.KindScriptRegister, value.String(name), value.String(source))
}

func (c *Client) Release(name string) error {
	return c.sender.SendValues(dispatch.KindScriptRelease, value.String(name))
}

func (c *Client) SendModuleMessage(module string, args ...value.Value) error {
	vals := make([]value.Value, 0, len(args)+1)
	vals = append(vals, value.String(module))
	vals = append(vals, args...)
	return c.sender.SendValues(dispatch.KindModuleMessage, vals...)
}

// Close closes the outbound channel, which ends the worker's session. For a
// spawned worker it then waits for the reply loop to drain and the process
// to exit.
func (c *Client) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	if c.started.Load() && c.cmd != nil {
		<-c.done
	}
	if c.cmd != nil {
		if werr := c.cmd.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (c *Client) request(ctx context.Context, kind dispatch.Kind, vals ...value.Value) (codec.Values, error) {
	ch := make(chan result, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	msg := make([]value.Value, 0, len(vals)+1)
	msg = append(msg, value.Number(id))
	msg = append(msg, vals...)
	if err := c.sender.SendValues(kind, msg...); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.values, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		ch <- result{err: fmt.Errorf("%w: %w", ErrClosed, err)}
		delete(c.pending, id)
	}
}

func (c *Client) handleReady(payload []byte, length uint32) error {
	if length != 0 {
		return fmt.Errorf("%w: ExtensionReady carries %d payload bytes", protocol.ErrProtocolViolation, length)
	}
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Debug().Msg("worker ready")
	return nil
}

func (c *Client) handleReply(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, c.cfg.Session.Codec)
	if err != nil {
		return err
	}
	rawID, err := args.NumberAt(0, "id")
	if err != nil {
		return err
	}
	ok, err := args.BoolAt(1, "ok")
	if err != nil {
		return err
	}
	res := result{values: args.Rest(2)}
	if !ok {
		msg, err := args.StringAt(2, "error")
		if err != nil {
			return err
		}
		res = result{err: &ScriptError{Message: msg}}
	}

	id := uint64(rawID)
	c.mu.Lock()
	ch, found := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !found {
		// The caller may have given up on ctx; anything else is skew.
		if id == 0 || id > c.lastID() {
			return fmt.Errorf("%w: %w: %v", protocol.ErrProtocolViolation, ErrUnknownID, rawID)
		}
		c.logger.Debug().Uint64("id", id).Msg("dropping reply for abandoned call")
		return nil
	}
	ch <- res
	return nil
}

func (c *Client) lastID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

func (c *Client) handleLog(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, c.cfg.Session.Codec)
	if err != nil {
		return err
	}
	level, err := args.StringAt(0, "level")
	if err != nil {
		return err
	}
	msg, err := args.StringAt(1, "message")
	if err != nil {
		return err
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	c.logger.WithLevel(lvl).Str("source", "worker").Msg(msg)
	return nil
}

func (c *Client) handleModuleMessage(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, c.cfg.Session.Codec)
	if err != nil {
		return err
	}
	module, err := args.StringAt(0, "module")
	if err != nil {
		return err
	}
	if c.cfg.OnModuleMessage == nil {
		return nil
	}
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, moduleEvent{module: module, args: args.Rest(1)})
	c.inboxMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// deliverModuleMessages runs callbacks until the session ends, then flushes
// whatever was queued before it ended.
func (c *Client) deliverModuleMessages() {
	for {
		select {
		case <-c.wake:
			c.drainModuleMessages()
		case <-c.done:
			c.drainModuleMessages()
			return
		}
	}
}

func (c *Client) drainModuleMessages() {
	for {
		c.inboxMu.Lock()
		batch := c.inbox
		c.inbox = nil
		c.inboxMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			c.cfg.OnModuleMessage(ev.module, ev.args)
		}
	}
}
