package dispatch

import "fmt"

// Kind is the closed set of message kinds both peers are built with.
type Kind uint32

const (
	KindRequireModule  Kind = 1
	KindModuleMessage  Kind = 2
	KindEvalScript     Kind = 3
	KindScriptCall     Kind = 4
	KindScriptRegister Kind = 5
	KindScriptRelease  Kind = 6
	KindExtensionReady Kind = 7
	KindReply          Kind = 8
	KindLog            Kind = 9
)

var kindNames = map[Kind]string{
	KindRequireModule:  "RequireModule",
	KindModuleMessage:  "ModuleMessage",
	KindEvalScript:     "EvalScript",
	KindScriptCall:     "ScriptCall",
	KindScriptRegister: "ScriptRegister",
	KindScriptRelease:  "ScriptRelease",
	KindExtensionReady: "ExtensionReady",
	KindReply:          "Reply",
	KindLog:            "Log",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Known reports whether k belongs to the built-in set.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}
