package dispatch

import (
	"fmt"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/value"
)

// Args is a decoded handler argument list with typed accessors. A missing
// or mistyped argument is a protocol violation: both peers are built
// against the same message layouts.
type Args codec.Values

func DecodeArgs(payload []byte, length uint32, limits codec.Limits) (Args, error) {
	var vals codec.Values
	if _, err := codec.DecodeRange(&vals, payload, length, limits); err != nil {
		return nil, err
	}
	return Args(vals), nil
}

func (a Args) Len() int { return len(a) }

func (a Args) at(i int, want value.Kind, name string) (value.Value, error) {
	if i >= len(a) {
		return nil, fmt.Errorf("%w: missing argument %d (%s)", protocol.ErrProtocolViolation, i, name)
	}
	if a[i].Kind() != want {
		return nil, fmt.Errorf("%w: argument %d (%s) is %s, want %s", protocol.ErrProtocolViolation, i, name, a[i].Kind(), want)
	}
	return a[i], nil
}

func (a Args) StringAt(i int, name string) (string, error) {
	v, err := a.at(i, value.KindString, name)
	if err != nil {
		return "", err
	}
	return string(v.(value.String)), nil
}

func (a Args) NumberAt(i int, name string) (float64, error) {
	v, err := a.at(i, value.KindNumber, name)
	if err != nil {
		return 0, err
	}
	return float64(v.(value.Number)), nil
}

func (a Args) BoolAt(i int, name string) (bool, error) {
	v, err := a.at(i, value.KindBoolean, name)
	if err != nil {
		return false, err
	}
	return bool(v.(value.Boolean)), nil
}

// Rest returns the arguments from position i on.
func (a Args) Rest(i int) codec.Values {
	if i >= len(a) {
		return codec.Values{}
	}
	return codec.Values(a[i:])
}
