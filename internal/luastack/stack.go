// Package luastack exposes a gopher-lua state as the codec's execution
// context: stack slots are read as a ValueSource and decoded values are
// pushed as a ValueSink.
package luastack

import (
	"fmt"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/value"
	lua "github.com/yuin/gopher-lua"
)

// Stack adapts an LState. Position 0 is the bottom slot (Lua index 1).
type Stack struct {
	L *lua.LState
}

func New(L *lua.LState) *Stack {
	return &Stack{L: L}
}

func (s *Stack) Len() int {
	return s.L.GetTop()
}

func (s *Stack) At(i int) value.Value {
	return FromLua(s.L.Get(i + 1))
}

func (s *Stack) Push(v value.Value) error {
	lv, err := ToLua(s.L, v)
	if err != nil {
		return err
	}
	s.L.Push(lv)
	return nil
}

// AppendSlots encodes the Lua stack slots first..last (1-based, inclusive,
// negative indices count from the top).
func AppendSlots(dst []byte, L *lua.LState, first, last int, limits codec.Limits) ([]byte, error) {
	top := L.GetTop()
	first, last = absIndex(top, first), absIndex(top, last)
	if last < first {
		return dst, nil
	}
	return codec.AppendRange(dst, New(L), first-1, last, limits)
}

func absIndex(top, idx int) int {
	if idx < 0 {
		return top + idx + 1
	}
	return idx
}

// PushPayload decodes payload onto the Lua stack and returns the number of
// values pushed. On error the stack is restored to its previous height.
func PushPayload(L *lua.LState, payload []byte, length uint32, limits codec.Limits) (int, error) {
	top := L.GetTop()
	n, err := codec.DecodeRange(New(L), payload, length, limits)
	if err != nil {
		L.SetTop(top)
		return 0, err
	}
	return n, nil
}

// FromLua converts a Lua value. Tables shared or cycled on the Lua side map
// to shared *value.Table instances.
func FromLua(lv lua.LValue) value.Value {
	return fromLua(lv, make(map[*lua.LTable]*value.Table))
}

func fromLua(lv lua.LValue, seen map[*lua.LTable]*value.Table) value.Value {
	switch v := lv.(type) {
	case nil:
		return value.Nil{}
	case *lua.LNilType:
		return value.Nil{}
	case lua.LBool:
		return value.Boolean(bool(v))
	case lua.LNumber:
		return value.Number(float64(v))
	case lua.LString:
		return value.String(string(v))
	case *lua.LTable:
		if t, ok := seen[v]; ok {
			return t
		}
		t := value.NewTable()
		seen[v] = t
		v.ForEach(func(k, item lua.LValue) {
			_ = t.Set(fromLua(k, seen), fromLua(item, seen))
		})
		return t
	case *lua.LFunction:
		return value.Function{Name: v.String()}
	case *lua.LState:
		return value.Thread{Name: v.String()}
	default:
		return value.Handle{Ref: fmt.Sprintf("%s: %s", lv.Type(), lv.String())}
	}
}

// ToLua builds the Lua form of v inside L. Host variants have no Lua form
// outside the state that produced them and are rejected.
func ToLua(L *lua.LState, v value.Value) (lua.LValue, error) {
	return toLua(L, v, make(map[*value.Table]*lua.LTable))
}

func toLua(L *lua.LState, v value.Value, seen map[*value.Table]*lua.LTable) (lua.LValue, error) {
	switch val := v.(type) {
	case nil, value.Nil:
		return lua.LNil, nil
	case value.Boolean:
		return lua.LBool(val), nil
	case value.Number:
		return lua.LNumber(val), nil
	case value.String:
		return lua.LString(val), nil
	case *value.Table:
		if t, ok := seen[val]; ok {
			return t, nil
		}
		t := L.NewTable()
		seen[val] = t
		var err error
		val.Range(func(k, item value.Value) bool {
			var lk, li lua.LValue
			if lk, err = toLua(L, k, seen); err != nil {
				return false
			}
			if li, err = toLua(L, item, seen); err != nil {
				return false
			}
			t.RawSet(lk, li)
			return true
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: cannot rebuild %s in a lua state", protocol.ErrUnserializableType, v.Kind())
	}
}
