package process

import "strings"

// Substitute expands %k parameters in s using subs. "%%" yields a literal
// percent sign; a % followed by a key missing from subs is kept verbatim.
func Substitute(s string, subs map[rune]string) string {
	if len(subs) == 0 || !strings.ContainsRune(s, '%') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '%' || i+1 == len(runes) {
			b.WriteRune(r)
			continue
		}
		next := runes[i+1]
		if next == '%' {
			b.WriteRune('%')
			i++
			continue
		}
		if v, ok := subs[next]; ok {
			b.WriteString(v)
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
