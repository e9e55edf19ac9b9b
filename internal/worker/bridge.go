package worker

import (
	"github.com/danmuck/extbridge/internal/luastack"
	"github.com/danmuck/extbridge/internal/protocol/dispatch"
	"github.com/danmuck/extbridge/internal/value"
	lua "github.com/yuin/gopher-lua"
)

// installBridgeModule exposes `bridge.log(level, msg)` and
// `bridge.send(module, ...)` to scripts. Encoding failures are raised as
// Lua errors in the calling script.
func (rt *Runtime) installBridgeModule() {
	mod := rt.L.SetFuncs(rt.L.NewTable(), map[string]lua.LGFunction{
		"log":  rt.luaLog,
		"send": rt.luaSend,
	})
	rt.L.SetGlobal("bridge", mod)
	if loaded, ok := rt.L.GetField(rt.L.GetGlobal("package"), "loaded").(*lua.LTable); ok {
		loaded.RawSetString("bridge", mod)
	}
}

func (rt *Runtime) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	if err := rt.sender.SendValues(dispatch.KindLog, value.String(level), value.String(msg)); err != nil {
		L.RaiseError("bridge.log: %v", err)
	}
	return 0
}

func (rt *Runtime) luaSend(L *lua.LState) int {
	L.CheckString(1)
	payload, err := luastack.AppendSlots(nil, L, 1, L.GetTop(), rt.cfg.Session.Codec)
	if err != nil {
		L.RaiseError("bridge.send: %v", err)
		return 0
	}
	if err := rt.sender.SendRaw(dispatch.KindModuleMessage, payload); err != nil {
		L.RaiseError("bridge.send: %v", err)
	}
	return 0
}
