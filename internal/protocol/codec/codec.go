// Package codec converts dynamic values to and from their self-describing
// byte form.
//
// Every encoded value starts with a u32 tag. All fields are little-endian:
//
//	Nil      tag
//	Boolean  tag | u8 (0|1)
//	Number   tag | f64
//	String   tag | u64 n | n bytes | 0x00
//	Table    tag | (key, value)* | End tag
//
// The trailing zero after string bytes is not counted in n. It is always
// written as zero and never checked on decode.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/value"
)

// Tag identifies the variant of an encoded value. The numbering follows the
// scripting engine's own type numbers.
type Tag uint32

const (
	TagNil     Tag = 0
	TagBoolean Tag = 1
	TagNumber  Tag = 3
	TagString  Tag = 4
	TagTable   Tag = 5
	// TagEnd closes a table's pair stream. It carries no payload.
	TagEnd Tag = 0xFFFFFFFF
)

const (
	TagSize    = 4
	boolSize   = 1
	numberSize = 8
	lengthSize = 8
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagBoolean:
		return "boolean"
	case TagNumber:
		return "number"
	case TagString:
		return "string"
	case TagTable:
		return "table"
	case TagEnd:
		return "end"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

var ErrDepthExceeded = errors.New("codec: table nesting too deep")

// UnserializableTypeError names the kind that could not be encoded.
type UnserializableTypeError struct {
	Kind value.Kind
}

func (e *UnserializableTypeError) Error() string {
	return fmt.Sprintf("%v: cannot serialize variable of type %s", protocol.ErrUnserializableType, e.Kind)
}

func (e *UnserializableTypeError) Unwrap() error {
	return protocol.ErrUnserializableType
}

// Limits constrains recursion on encode and decode.
type Limits struct {
	MaxDepth int
}

func DefaultLimits() Limits {
	return Limits{MaxDepth: 64}
}

func (l Limits) maxDepth() int {
	if l.MaxDepth <= 0 {
		return DefaultLimits().MaxDepth
	}
	return l.MaxDepth
}

// Encode returns the encoding of v.
func Encode(v value.Value, limits Limits) ([]byte, error) {
	return AppendValue(nil, v, limits)
}

// AppendValue appends the encoding of v to dst. On error dst is returned
// with its original length, so a failed value leaves no fragment behind.
func AppendValue(dst []byte, v value.Value, limits Limits) ([]byte, error) {
	mark := len(dst)
	out, err := appendValue(dst, v, 0, limits.maxDepth())
	if err != nil {
		return dst[:mark], err
	}
	return out, nil
}

func appendValue(dst []byte, v value.Value, depth, maxDepth int) ([]byte, error) {
	if v == nil {
		return dst, fmt.Errorf("%w: missing value", protocol.ErrUnserializableType)
	}
	if !v.Kind().Serializable() {
		return dst, &UnserializableTypeError{Kind: v.Kind()}
	}

	switch val := v.(type) {
	case value.Nil:
		dst = appendTag(dst, TagNil)
	case value.Boolean:
		dst = appendTag(dst, TagBoolean)
		if val {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case value.Number:
		dst = appendTag(dst, TagNumber)
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(val)))
	case value.String:
		dst = appendTag(dst, TagString)
		dst = binary.LittleEndian.AppendUint64(dst, uint64(len(val)))
		dst = append(dst, string(val)...)
		dst = append(dst, 0)
	case *value.Table:
		if depth >= maxDepth {
			return dst, fmt.Errorf("%w: limit %d", ErrDepthExceeded, maxDepth)
		}
		dst = appendTag(dst, TagTable)
		var err error
		val.Range(func(k, item value.Value) bool {
			if dst, err = appendValue(dst, k, depth+1, maxDepth); err != nil {
				return false
			}
			dst, err = appendValue(dst, item, depth+1, maxDepth)
			return err == nil
		})
		if err != nil {
			return dst, err
		}
		dst = appendTag(dst, TagEnd)
	default:
		return dst, &UnserializableTypeError{Kind: v.Kind()}
	}
	return dst, nil
}

func appendTag(dst []byte, t Tag) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(t))
}

// DecodeValue decodes exactly one value from the front of src and reports
// how many bytes it consumed. It never reads past len(src).
func DecodeValue(src []byte, limits Limits) (value.Value, int, error) {
	d := decoder{buf: src, maxDepth: limits.maxDepth()}
	v, end, err := d.next(0)
	if err != nil {
		return nil, d.off, err
	}
	if end {
		return nil, d.off, violation("end-of-container tag outside a table at offset %d", d.off-TagSize)
	}
	return v, d.off, nil
}

type decoder struct {
	buf      []byte
	off      int
	maxDepth int
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{protocol.ErrProtocolViolation}, args...)...)
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, violation("truncated %s at offset %d: need %d bytes, have %d", what, d.off, n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// next decodes one value. end is true when the tag read was TagEnd; that
// answer is only meaningful to a table asking for its next key.
func (d *decoder) next(depth int) (v value.Value, end bool, err error) {
	raw, err := d.take(TagSize, "tag")
	if err != nil {
		return nil, false, err
	}
	tag := Tag(binary.LittleEndian.Uint32(raw))

	switch tag {
	case TagEnd:
		return nil, true, nil
	case TagNil:
		return value.Nil{}, false, nil
	case TagBoolean:
		b, err := d.take(boolSize, "boolean")
		if err != nil {
			return nil, false, err
		}
		switch b[0] {
		case 0:
			return value.Boolean(false), false, nil
		case 1:
			return value.Boolean(true), false, nil
		default:
			return nil, false, violation("invalid boolean byte 0x%02x at offset %d", b[0], d.off-1)
		}
	case TagNumber:
		b, err := d.take(numberSize, "number")
		if err != nil {
			return nil, false, err
		}
		return value.Number(math.Float64frombits(binary.LittleEndian.Uint64(b))), false, nil
	case TagString:
		b, err := d.take(lengthSize, "string length")
		if err != nil {
			return nil, false, err
		}
		n := binary.LittleEndian.Uint64(b)
		remaining := uint64(len(d.buf) - d.off)
		if n >= remaining {
			return nil, false, violation("truncated string at offset %d: declared %d bytes plus terminator, have %d", d.off, n, remaining)
		}
		s, _ := d.take(int(n)+1, "string")
		return value.String(s[:n]), false, nil
	case TagTable:
		return d.table(depth)
	default:
		return nil, false, violation("unknown value tag %d at offset %d", uint32(tag), d.off-TagSize)
	}
}

func (d *decoder) table(depth int) (value.Value, bool, error) {
	if depth >= d.maxDepth {
		return nil, false, fmt.Errorf("%w: %w: limit %d", protocol.ErrProtocolViolation, ErrDepthExceeded, d.maxDepth)
	}
	t := value.NewTable()
	for {
		keyAt := d.off
		k, end, err := d.next(depth + 1)
		if err != nil {
			return nil, false, err
		}
		if end {
			return t, false, nil
		}
		v, end, err := d.next(depth + 1)
		if err != nil {
			return nil, false, err
		}
		if end {
			return nil, false, violation("table key at offset %d has no value", keyAt)
		}
		if err := value.ValidKey(k); err != nil {
			return nil, false, violation("table key at offset %d: %v", keyAt, err)
		}
		if t.Has(k) {
			return nil, false, violation("duplicate table key %s at offset %d", value.Format(k), keyAt)
		}
		_ = t.Set(k, v)
	}
}
