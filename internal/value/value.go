// Package value defines the dynamically-typed values exchanged between the
// host and a worker.
//
// Only Nil, Boolean, Number, String and Table cross the process boundary.
// Handle, Function and Thread exist so an execution context can describe what
// it holds; the codec rejects them.
package value

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidKey = errors.New("value: invalid table key")

// Kind enumerates the closed set of value variants.
type Kind uint8

const (
	KindNil Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindTable
	KindHandle
	KindFunction
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindHandle:
		return "userdata"
	case KindFunction:
		return "function"
	case KindThread:
		return "thread"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Serializable reports whether values of kind k may be encoded.
func (k Kind) Serializable() bool {
	return k <= KindTable
}

// Value is one dynamic value. Implementations are limited to this package.
type Value interface {
	Kind() Kind
	sealed()
}

// Nil is the explicit first-class "no value".
type Nil struct{}

// Boolean is a true/false value.
type Boolean bool

// Number is an IEEE-754 double.
type Number float64

// String is an owned byte sequence; it need not be valid UTF-8.
type String string

// Handle stands for an opaque host object (userdata).
type Handle struct {
	Ref string
}

// Function stands for a function or closure reference.
type Function struct {
	Name string
}

// Thread stands for a coroutine handle.
type Thread struct {
	Name string
}

func (Nil) Kind() Kind      { return KindNil }
func (Boolean) Kind() Kind  { return KindBoolean }
func (Number) Kind() Kind   { return KindNumber }
func (String) Kind() Kind   { return KindString }
func (*Table) Kind() Kind   { return KindTable }
func (Handle) Kind() Kind   { return KindHandle }
func (Function) Kind() Kind { return KindFunction }
func (Thread) Kind() Kind   { return KindThread }

func (Nil) sealed()      {}
func (Boolean) sealed()  {}
func (Number) sealed()   {}
func (String) sealed()   {}
func (*Table) sealed()   {}
func (Handle) sealed()   {}
func (Function) sealed() {}
func (Thread) sealed()   {}

// Table maps values to values with unique keys. Traversal order is
// unspecified and may differ between two walks of the same table.
type Table struct {
	items map[Value]Value
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{items: make(map[Value]Value)}
}

// ValidKey reports whether k may be used as a table key. Nil and NaN are
// rejected, as they are by the scripting engine.
func ValidKey(k Value) error {
	switch key := k.(type) {
	case nil:
		return fmt.Errorf("%w: missing key", ErrInvalidKey)
	case Nil:
		return fmt.Errorf("%w: nil", ErrInvalidKey)
	case Number:
		if math.IsNaN(float64(key)) {
			return fmt.Errorf("%w: NaN", ErrInvalidKey)
		}
	case *Table:
		if key == nil {
			return fmt.Errorf("%w: nil table", ErrInvalidKey)
		}
	}
	return nil
}

// Set stores v under k. Assigning Nil (or a nil Value) removes the key.
func (t *Table) Set(k, v Value) error {
	if err := ValidKey(k); err != nil {
		return err
	}
	if t.items == nil {
		t.items = make(map[Value]Value)
	}
	if v == nil || v.Kind() == KindNil {
		delete(t.items, k)
		return nil
	}
	t.items[k] = v
	return nil
}

// Has reports whether k is present.
func (t *Table) Has(k Value) bool {
	_, ok := t.items[k]
	return ok
}

func (t *Table) Get(k Value) (Value, bool) {
	v, ok := t.items[k]
	return v, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.items)
}

// Range calls fn for each pair until fn returns false.
func (t *Table) Range(fn func(k, v Value) bool) {
	if t == nil {
		return
	}
	for k, v := range t.items {
		if !fn(k, v) {
			return
		}
	}
}
