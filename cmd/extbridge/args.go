package main

import (
	"strconv"
	"strings"

	"github.com/danmuck/extbridge/internal/value"
)

// parseArg maps a command-line word to a value: numbers, true/false and nil
// are recognised, anything else is a string. A leading "s:" forces a string.
func parseArg(raw string) value.Value {
	if s, ok := strings.CutPrefix(raw, "s:"); ok {
		return value.String(s)
	}
	switch raw {
	case "nil":
		return value.Nil{}
	case "true":
		return value.Boolean(true)
	case "false":
		return value.Boolean(false)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return value.Number(n)
	}
	return value.String(raw)
}

func parseArgs(raw []string) []value.Value {
	out := make([]value.Value, 0, len(raw))
	for _, r := range raw {
		out = append(out, parseArg(r))
	}
	return out
}
