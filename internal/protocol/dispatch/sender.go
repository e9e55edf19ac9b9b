package dispatch

import (
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	"github.com/danmuck/extbridge/internal/value"
)

// Sender writes whole messages to a channel. Each message is encoded in
// full before its header is written, so the declared length always equals
// the payload produced.
type Sender struct {
	mu  sync.Mutex
	w   io.Writer
	cfg Config
}

func NewSender(w io.Writer, cfg Config) *Sender {
	return &Sender{w: w, cfg: cfg}
}

// Send encodes every value of src as one message of the given kind.
func (s *Sender) Send(kind Kind, src codec.ValueSource) error {
	payload, err := codec.EncodeRange(src, s.cfg.Codec)
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return s.SendRaw(kind, payload)
}

func (s *Sender) SendValues(kind Kind, vals ...value.Value) error {
	return s.Send(kind, codec.Values(vals))
}

// SendRaw frames an already-encoded payload.
func (s *Sender) SendRaw(kind Kind, payload []byte) error {
	if !kind.Known() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint32(kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := frame.WriteFrame(s.w, uint32(kind), payload, s.cfg.Frame); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	observability.RecordSend(s.cfg.Name, kind.String())
	return nil
}
