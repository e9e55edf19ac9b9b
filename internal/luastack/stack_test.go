package luastack

import (
	"errors"
	"testing"

	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/value"
	lua "github.com/yuin/gopher-lua"
)

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	return L
}

func TestStackRoundTripBetweenStates(t *testing.T) {
	src := newState(t)
	if err := src.DoString(`t = {10, 20, name = "ext", nested = {a = {b = {c = {d = true}}}}}`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	src.Push(src.GetGlobal("t"))
	src.Push(lua.LNumber(3.14))
	src.Push(lua.LString("hi"))
	src.Push(lua.LNil)

	enc, err := AppendSlots(nil, src, 1, -1, codec.DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dst := newState(t)
	n, err := PushPayload(dst, enc, uint32(len(enc)), codec.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 4 || dst.GetTop() != 4 {
		t.Fatalf("expected 4 values, got n=%d top=%d", n, dst.GetTop())
	}
	dst.SetGlobal("t", dst.Get(1))
	dst.SetGlobal("n", dst.Get(2))
	dst.SetGlobal("s", dst.Get(3))
	check := `assert(t[1] == 10 and t[2] == 20 and t.name == "ext")
assert(t.nested.a.b.c.d == true)
assert(n == 3.14 and s == "hi")`
	if err := dst.DoString(check); err != nil {
		t.Fatalf("check: %v", err)
	}
	if dst.Get(4) != lua.LNil {
		t.Fatalf("expected nil in slot 4, got %v", dst.Get(4))
	}
}

func TestStackRejectsHostValues(t *testing.T) {
	L := newState(t)
	L.Push(lua.LNumber(1))
	L.Push(L.NewFunction(func(*lua.LState) int { return 0 }))
	_, err := AppendSlots(nil, L, 1, 2, codec.DefaultLimits())
	if !errors.Is(err, protocol.ErrUnserializableType) {
		t.Fatalf("expected ErrUnserializableType for function, got %v", err)
	}

	L.SetTop(0)
	L.Push(L.NewUserData())
	if _, err := AppendSlots(nil, L, 1, 1, codec.DefaultLimits()); !errors.Is(err, protocol.ErrUnserializableType) {
		t.Fatalf("expected ErrUnserializableType for userdata, got %v", err)
	}

	L.SetTop(0)
	co, cancel := L.NewThread()
	if cancel != nil {
		defer cancel()
	}
	L.Push(co)
	if _, err := AppendSlots(nil, L, 1, 1, codec.DefaultLimits()); !errors.Is(err, protocol.ErrUnserializableType) {
		t.Fatalf("expected ErrUnserializableType for thread, got %v", err)
	}
}

func TestStackCyclicTableHitsDepthLimit(t *testing.T) {
	L := newState(t)
	if err := L.DoString(`c = {}; c.self = c`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	L.Push(L.GetGlobal("c"))
	_, err := AppendSlots(nil, L, 1, 1, codec.Limits{MaxDepth: 8})
	if !errors.Is(err, codec.ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestPushPayloadRestoresStackOnError(t *testing.T) {
	L := newState(t)
	L.Push(lua.LString("keep"))

	enc, _ := codec.EncodeRange(codec.Values{value.Number(1), value.String("x")}, codec.DefaultLimits())
	broken := enc[:len(enc)-2]
	if _, err := PushPayload(L, broken, uint32(len(broken)), codec.DefaultLimits()); !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
	if L.GetTop() != 1 || L.Get(1).String() != "keep" {
		t.Fatalf("stack not restored: top=%d", L.GetTop())
	}
}

func TestPushPayloadEmpty(t *testing.T) {
	L := newState(t)
	n, err := PushPayload(L, nil, 0, codec.DefaultLimits())
	if err != nil || n != 0 || L.GetTop() != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v top=%d", n, err, L.GetTop())
	}
}

func TestFromLuaSharesTables(t *testing.T) {
	L := newState(t)
	if err := L.DoString(`shared = {x = 1}; outer = {a = shared, b = shared}`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	v := FromLua(L.GetGlobal("outer"))
	tbl, ok := v.(*value.Table)
	if !ok {
		t.Fatalf("expected table, got %T", v)
	}
	a, _ := tbl.Get(value.String("a"))
	b, _ := tbl.Get(value.String("b"))
	if a != b {
		t.Fatalf("expected shared table identity")
	}
}
