package codec

import (
	"fmt"

	"github.com/danmuck/extbridge/internal/value"
)

// ValueSource is an indexable view over an execution context's values.
type ValueSource interface {
	Len() int
	At(i int) value.Value
}

// ValueSink receives decoded values in order.
type ValueSink interface {
	Push(v value.Value) error
}

// Values is an in-memory ValueSource and ValueSink.
type Values []value.Value

func (vs Values) Len() int             { return len(vs) }
func (vs Values) At(i int) value.Value { return vs[i] }

func (vs *Values) Push(v value.Value) error {
	*vs = append(*vs, v)
	return nil
}

// AppendRange appends the encodings of src[start:end] in order. The value
// count is not written; the reader must know it. If any value fails, the
// whole range is abandoned and dst is returned at its original length.
func AppendRange(dst []byte, src ValueSource, start, end int, limits Limits) ([]byte, error) {
	if start < 0 || end > src.Len() || start > end {
		return dst, fmt.Errorf("codec: range [%d:%d] out of bounds for %d values", start, end, src.Len())
	}
	mark := len(dst)
	out := dst
	for i := start; i < end; i++ {
		var err error
		if out, err = AppendValue(out, src.At(i), limits); err != nil {
			return dst[:mark], fmt.Errorf("range value %d: %w", i, err)
		}
	}
	return out, nil
}

// EncodeRange encodes every value in src.
func EncodeRange(src ValueSource, limits Limits) ([]byte, error) {
	return AppendRange(nil, src, 0, src.Len(), limits)
}

// DecodeRange decodes values from payload until exactly length bytes are
// consumed and pushes each into sink. A zero length decodes nothing. It
// returns the number of values pushed.
func DecodeRange(sink ValueSink, payload []byte, length uint32, limits Limits) (int, error) {
	if uint64(len(payload)) != uint64(length) {
		return 0, violation("payload holds %d bytes, header declared %d", len(payload), length)
	}
	if length == 0 {
		return 0, nil
	}
	count := 0
	for consumed := 0; consumed < len(payload); {
		v, n, err := DecodeValue(payload[consumed:], limits)
		if err != nil {
			return count, fmt.Errorf("range value %d at offset %d: %w", count, consumed, err)
		}
		consumed += n
		if err := sink.Push(v); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DecodeAll decodes a whole payload into a fresh slice.
func DecodeAll(payload []byte, limits Limits) (Values, error) {
	var out Values
	if _, err := DecodeRange(&out, payload, uint32(len(payload)), limits); err != nil {
		return nil, err
	}
	return out, nil
}
