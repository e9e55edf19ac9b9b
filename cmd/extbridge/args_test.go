package main

import (
	"testing"

	"github.com/danmuck/extbridge/internal/value"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"1.5", "true", "nil", "hello", "s:42", "-3"})
	want := []value.Value{
		value.Number(1.5),
		value.Boolean(true),
		value.Nil{},
		value.String("hello"),
		value.String("42"),
		value.Number(-3),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(got))
	}
	for i := range want {
		if !value.Equal(want[i], got[i]) {
			t.Fatalf("arg %d: got %s want %s", i, value.Format(got[i]), value.Format(want[i]))
		}
	}
}
