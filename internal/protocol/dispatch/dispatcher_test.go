package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	"github.com/danmuck/extbridge/internal/testutil/testlog"
	"github.com/danmuck/extbridge/internal/value"
)

type recorder struct {
	calls    int
	payloads [][]byte
	lengths  []uint32
}

func (r *recorder) Handle(payload []byte, length uint32) error {
	r.calls++
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	r.lengths = append(r.lengths, length)
	return nil
}

func testConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	return cfg
}

func frameBytes(kind uint32, declared uint32, payload []byte) []byte {
	buf := frame.EncodeHeader(frame.Header{Kind: kind, Length: declared})
	return append(buf, payload...)
}

func TestDispatchExactPayload(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	other := &recorder{}
	reg := NewRegistry()
	if err := reg.Register(KindEvalScript, rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(KindLog, other); err != nil {
		t.Fatalf("register: %v", err)
	}

	payload := []byte("0123456789")
	d := New(bytes.NewReader(frameBytes(uint32(KindEvalScript), 10, payload)), reg, testConfig(t.Name()))
	if err := d.HandleReadable(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.calls != 1 || other.calls != 0 {
		t.Fatalf("unexpected calls: eval=%d log=%d", rec.calls, other.calls)
	}
	if !bytes.Equal(rec.payloads[0], payload) || rec.lengths[0] != 10 {
		t.Fatalf("unexpected payload %q length %d", rec.payloads[0], rec.lengths[0])
	}
	if d.State() != StateAwaitingHeader {
		t.Fatalf("unexpected state %s", d.State())
	}
}

func TestDispatchShortPayloadIsChannelError(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := NewRegistry()
	_ = reg.Register(KindEvalScript, rec)

	d := New(bytes.NewReader(frameBytes(uint32(KindEvalScript), 10, make([]byte, 9))), reg, testConfig(t.Name()))
	err := d.HandleReadable()
	if !errors.Is(err, protocol.ErrChannel) {
		t.Fatalf("expected ErrChannel, got %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("handler must not run on short payload")
	}
	if d.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", d.State())
	}
}

func TestDispatchOverlongPayloadIsRejected(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := NewRegistry()
	_ = reg.Register(KindEvalScript, rec)

	d := New(bytes.NewReader(frameBytes(uint32(KindEvalScript), 10, make([]byte, 11))), reg, testConfig(t.Name()))
	if err := d.HandleReadable(); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if len(rec.payloads[0]) != 10 {
		t.Fatalf("handler saw %d bytes, want 10", len(rec.payloads[0]))
	}
	// The stray byte is read as the start of the next header.
	err := d.HandleReadable()
	if !errors.Is(err, frame.ErrShortHeader) || !protocol.Fatal(err) {
		t.Fatalf("expected short header, got %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", rec.calls)
	}
}

func TestDispatchOverlongDeclaredRangeIsViolation(t *testing.T) {
	testlog.Start(t)
	enc, err := codec.EncodeRange(codec.Values{value.Number(1), value.String("abc")}, codec.DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reg := NewRegistry()
	_ = reg.HandleFunc(KindScriptCall, func(payload []byte, length uint32) error {
		var args codec.Values
		_, err := codec.DecodeRange(&args, payload, length, codec.DefaultLimits())
		return err
	})

	// Header claims one byte fewer than the sender produced.
	short := uint32(len(enc) - 1)
	d := New(bytes.NewReader(frameBytes(uint32(KindScriptCall), short, enc[:short])), reg, testConfig(t.Name()))
	err = d.HandleReadable()
	if !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
	if d.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", d.State())
	}
}

func TestDispatchUnknownKindTerminates(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := NewRegistry()
	_ = reg.Register(KindEvalScript, rec)

	stream := frameBytes(0xBEEF, 2, []byte{1, 2})
	stream = append(stream, frameBytes(uint32(KindEvalScript), 0, nil)...)
	d := New(bytes.NewReader(stream), reg, testConfig(t.Name()))

	err := d.HandleReadable()
	if !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
	if d.State() != StateTerminated || !errors.Is(d.Err(), protocol.ErrProtocolViolation) {
		t.Fatalf("expected terminal state, got %s (%v)", d.State(), d.Err())
	}

	err = d.HandleReadable()
	if !errors.Is(err, protocol.ErrSessionTerminated) {
		t.Fatalf("expected ErrSessionTerminated, got %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("handler invoked after termination")
	}
}

func TestDispatchKnownKindWithoutHandlerTerminates(t *testing.T) {
	testlog.Start(t)
	d := New(bytes.NewReader(frameBytes(uint32(KindLog), 0, nil)), NewRegistry(), testConfig(t.Name()))
	if err := d.HandleReadable(); !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestDispatchHandlerErrorTerminates(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	boom := errors.New("boom")
	_ = reg.HandleFunc(KindLog, func([]byte, uint32) error { return boom })

	d := New(bytes.NewReader(frameBytes(uint32(KindLog), 0, nil)), reg, testConfig(t.Name()))
	if err := d.HandleReadable(); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if d.State() != StateTerminated {
		t.Fatalf("expected terminated")
	}
}

func TestDispatchPayloadLimit(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := NewRegistry()
	_ = reg.Register(KindEvalScript, rec)
	cfg := testConfig(t.Name())
	cfg.Frame.MaxPayloadBytes = 4

	d := New(bytes.NewReader(frameBytes(uint32(KindEvalScript), 0xFFFFFFFF, nil)), reg, cfg)
	if err := d.HandleReadable(); !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("handler must not run")
	}
}

func TestServeDispatchesUntilCleanClose(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := NewRegistry()
	_ = reg.Register(KindModuleMessage, rec)

	var stream bytes.Buffer
	sender := NewSender(&stream, testConfig(t.Name()))
	for i := 0; i < 3; i++ {
		if err := sender.SendValues(KindModuleMessage, value.String("mod"), value.Number(i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	d := New(&stream, reg, testConfig(t.Name()))
	if err := d.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.calls != 3 {
		t.Fatalf("expected 3 dispatches, got %d", rec.calls)
	}
	if d.Err() != io.EOF {
		t.Fatalf("expected io.EOF cause, got %v", d.Err())
	}
	for i, p := range rec.payloads {
		vals, err := codec.DecodeAll(p, codec.DefaultLimits())
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if len(vals) != 2 || vals[1] != value.Number(i) {
			t.Fatalf("payload %d: unexpected values %v", i, vals)
		}
	}
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(bytes.NewReader(nil), NewRegistry(), testConfig(t.Name()))
	if err := d.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestServeCancelReleasesBlockedRead(t *testing.T) {
	testlog.Start(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := New(pr, NewRegistry(), testConfig(t.Name()))
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve still blocked after cancel")
	}
	if _, err := pw.Write([]byte{0}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected reader closed, write returned %v", err)
	}
}
