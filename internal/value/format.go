package value

import (
	"sort"
	"strconv"
	"strings"
)

// Format renders v for logs and CLI output. Table pairs are sorted by their
// rendered key so output is stable.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v, 0)
	return b.String()
}

const maxFormatDepth = 16

func format(b *strings.Builder, v Value, depth int) {
	switch val := v.(type) {
	case nil:
		b.WriteString("<none>")
	case Nil:
		b.WriteString("nil")
	case Boolean:
		b.WriteString(strconv.FormatBool(bool(val)))
	case Number:
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case String:
		b.WriteString(strconv.Quote(string(val)))
	case *Table:
		if depth >= maxFormatDepth {
			b.WriteString("{...}")
			return
		}
		pairs := make([][2]string, 0, val.Len())
		val.Range(func(k, v Value) bool {
			var kb, vb strings.Builder
			format(&kb, k, depth+1)
			format(&vb, v, depth+1)
			pairs = append(pairs, [2]string{kb.String(), vb.String()})
			return true
		})
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
		b.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('[')
			b.WriteString(p[0])
			b.WriteString("]=")
			b.WriteString(p[1])
		}
		b.WriteByte('}')
	default:
		b.WriteByte('<')
		b.WriteString(v.Kind().String())
		b.WriteByte('>')
	}
}
