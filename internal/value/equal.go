package value

import "math"

// Equal reports whether a and b hold the same value. Tables compare as sets
// of (key, value) pairs regardless of traversal order; table-valued keys are
// matched structurally.
func Equal(a, b Value) bool {
	return equal(a, b, make(map[[2]*Table]struct{}))
}

func equal(a, b Value, seen map[[2]*Table]struct{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if na, ok := a.(Number); ok {
		nb := b.(Number)
		return na == nb || (math.IsNaN(float64(na)) && math.IsNaN(float64(nb)))
	}
	ta, ok := a.(*Table)
	if !ok {
		return a == b
	}
	tb := b.(*Table)
	if ta == tb {
		return true
	}
	pair := [2]*Table{ta, tb}
	if _, ok := seen[pair]; ok {
		return true
	}
	seen[pair] = struct{}{}

	if ta.Len() != tb.Len() {
		return false
	}
	same := true
	ta.Range(func(k, va Value) bool {
		if _, isTable := k.(*Table); !isTable {
			vb, ok := tb.Get(k)
			same = ok && equal(va, vb, seen)
			return same
		}
		same = false
		tb.Range(func(kb, vb Value) bool {
			if equal(k, kb, seen) && equal(va, vb, seen) {
				same = true
				return false
			}
			return true
		})
		return same
	})
	return same
}
