package worker

import (
	"errors"
	"fmt"

	"github.com/danmuck/extbridge/internal/luastack"
	"github.com/danmuck/extbridge/internal/protocol"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/protocol/dispatch"
	lua "github.com/yuin/gopher-lua"
)

// RequireModule: name, source. The chunk's return value becomes the module.
func (rt *Runtime) handleRequireModule(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	name, err := args.StringAt(0, "name")
	if err != nil {
		return err
	}
	source, err := args.StringAt(1, "source")
	if err != nil {
		return err
	}

	fn, err := rt.L.LoadString(source)
	if err != nil {
		return rt.remoteLog("error", fmt.Sprintf("require %s: %v", name, err))
	}
	base := rt.L.GetTop()
	rt.L.Push(fn)
	if err := rt.L.PCall(0, 1, nil); err != nil {
		rt.L.SetTop(base)
		return rt.remoteLog("error", fmt.Sprintf("require %s: %v", name, err))
	}
	mod := rt.L.Get(-1)
	rt.L.SetTop(base)
	if mod == lua.LNil {
		mod = lua.LTrue
	}
	rt.modules[name] = mod
	if loaded, ok := rt.L.GetField(rt.L.GetGlobal("package"), "loaded").(*lua.LTable); ok {
		loaded.RawSetString(name, mod)
	}
	rt.logger.Debug().Str("module", name).Msg("module loaded")
	return nil
}

// ModuleMessage: module, args... Delivered to the module's on_message.
func (rt *Runtime) handleModuleMessage(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	name, err := args.StringAt(0, "module")
	if err != nil {
		return err
	}
	loaded, ok := rt.modules[name]
	if !ok {
		return rt.remoteLog("warn", fmt.Sprintf("message for unloaded module %s", name))
	}
	mod, ok := loaded.(*lua.LTable)
	if !ok {
		return rt.remoteLog("warn", fmt.Sprintf("module %s is not a table", name))
	}
	handler, ok := rt.L.GetField(mod, "on_message").(*lua.LFunction)
	if !ok {
		return nil
	}

	base := rt.L.GetTop()
	rt.L.Push(handler)
	rest := args.Rest(1)
	stack := luastack.New(rt.L)
	for _, v := range rest {
		if err := stack.Push(v); err != nil {
			rt.L.SetTop(base)
			return err
		}
	}
	err = rt.L.PCall(len(rest), 0, nil)
	rt.L.SetTop(base)
	if err != nil {
		return rt.remoteLog("error", fmt.Sprintf("module %s on_message: %v", name, err))
	}
	return nil
}

// EvalScript: id, source. Replies with every value the chunk returns.
func (rt *Runtime) handleEvalScript(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	id, err := args.NumberAt(0, "id")
	if err != nil {
		return err
	}
	source, err := args.StringAt(1, "source")
	if err != nil {
		return err
	}
	fn, err := rt.L.LoadString(source)
	if err != nil {
		return rt.replyError(id, err.Error())
	}
	return rt.callAndReply(id, fn, nil)
}

// ScriptCall: id, name, args... Registered functions shadow globals.
func (rt *Runtime) handleScriptCall(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	id, err := args.NumberAt(0, "id")
	if err != nil {
		return err
	}
	name, err := args.StringAt(1, "function")
	if err != nil {
		return err
	}
	fn, ok := rt.functions[name]
	if !ok {
		if fn, ok = rt.L.GetGlobal(name).(*lua.LFunction); !ok {
			return rt.replyError(id, fmt.Sprintf("no function %q", name))
		}
	}
	return rt.callAndReply(id, fn, args.Rest(2))
}

// ScriptRegister: name, source. The compiled chunk is the function; its
// arguments are reachable through `...`.
func (rt *Runtime) handleScriptRegister(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	name, err := args.StringAt(0, "name")
	if err != nil {
		return err
	}
	source, err := args.StringAt(1, "source")
	if err != nil {
		return err
	}
	fn, err := rt.L.LoadString(source)
	if err != nil {
		return rt.remoteLog("error", fmt.Sprintf("register %s: %v", name, err))
	}
	rt.functions[name] = fn
	rt.logger.Debug().Str("function", name).Msg("function registered")
	return nil
}

// ScriptRelease: name.
func (rt *Runtime) handleScriptRelease(payload []byte, length uint32) error {
	args, err := dispatch.DecodeArgs(payload, length, rt.cfg.Session.Codec)
	if err != nil {
		return err
	}
	name, err := args.StringAt(0, "name")
	if err != nil {
		return err
	}
	delete(rt.functions, name)
	return nil
}

// callAndReply runs fn with args and sends id, true, results... or, on a
// Lua error or unserializable result, id, false, message.
func (rt *Runtime) callAndReply(id float64, fn *lua.LFunction, args codec.Values) error {
	L := rt.L
	base := L.GetTop()
	defer L.SetTop(base)

	L.Push(fn)
	stack := luastack.New(L)
	for _, v := range args {
		if err := stack.Push(v); err != nil {
			return err
		}
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return rt.replyError(id, err.Error())
	}

	out, err := rt.replyHeader(id)
	if err != nil {
		return err
	}
	out, err = luastack.AppendSlots(out, L, base+1, L.GetTop(), rt.cfg.Session.Codec)
	if err != nil {
		if errors.Is(err, protocol.ErrUnserializableType) || errors.Is(err, codec.ErrDepthExceeded) {
			return rt.replyError(id, err.Error())
		}
		return err
	}
	return rt.sender.SendRaw(dispatch.KindReply, out)
}
