package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/extbridge/internal/protocol"
)

// HeaderLen is the encoded size of Header: kind u32 | length u32.
const HeaderLen = 8

var (
	ErrShortHeader     = fmt.Errorf("%w: frame: short header", protocol.ErrChannel)
	ErrShortPayload    = fmt.Errorf("%w: frame: short payload", protocol.ErrChannel)
	ErrPayloadTooLarge = fmt.Errorf("%w: frame: payload too large", protocol.ErrProtocolViolation)
)

// Header precedes every message payload on the wire.
type Header struct {
	Kind   uint32
	Length uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains payload allocation.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], h.Length)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	return Header{
		Kind:   binary.LittleEndian.Uint32(b[0:4]),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// ReadHeader reads exactly HeaderLen bytes. A clean EOF before the first
// byte is returned as io.EOF so callers can tell a closed peer from a torn
// header.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderLen]byte
	n, err := io.ReadFull(r, fixed[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Header{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: want %d bytes, got %d", ErrShortHeader, HeaderLen, n)
		}
		return Header{}, fmt.Errorf("%w: read header: %w", protocol.ErrChannel, err)
	}
	return DecodeHeader(fixed[:])
}

// ReadPayload reads exactly h.Length bytes. The length is checked against
// limits before anything is allocated.
func ReadPayload(r io.Reader, h Header, limits Limits) ([]byte, error) {
	if h.Length > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, h.Length, limits.MaxPayloadBytes)
	}
	payload := make([]byte, h.Length)
	if h.Length == 0 {
		return payload, nil
	}
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrShortPayload, h.Length, n)
		}
		return nil, fmt.Errorf("%w: read payload: %w", protocol.ErrChannel, err)
	}
	return payload, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	payload, err := ReadPayload(r, h, limits)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes the header and payload in a single Write call. The
// header length is always taken from the payload itself.
func WriteFrame(w io.Writer, kind uint32, payload []byte, limits Limits) error {
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, EncodeHeader(Header{Kind: kind, Length: uint32(len(payload))})...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write frame: %w", protocol.ErrChannel, err)
	}
	return nil
}
