package pyast

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// stringLiteral is a single string token split into its parts.
type stringLiteral struct {
	raw   bool
	bytes bool
	fmt   bool
	body  string
}

// splitStringLiteral separates prefix, quotes and body of a Python string
// token such as rb'''x''' or f"{a}".
func splitStringLiteral(tok string) (stringLiteral, bool) {
	i := strings.IndexAny(tok, `'"`)
	if i < 0 {
		return stringLiteral{}, false
	}
	prefix := strings.ToLower(tok[:i])
	rest := tok[i:]

	q := rest[:1]
	if strings.HasPrefix(rest, q+q+q) && len(rest) >= 6 {
		q = q + q + q
	}
	if len(rest) < 2*len(q) || !strings.HasSuffix(rest, q) {
		return stringLiteral{}, false
	}
	return stringLiteral{
		raw:   strings.ContainsRune(prefix, 'r'),
		bytes: strings.ContainsRune(prefix, 'b'),
		fmt:   strings.ContainsRune(prefix, 'f'),
		body:  rest[len(q) : len(rest)-len(q)],
	}, true
}

// decode returns the runtime value of the literal body.
func (s stringLiteral) decode() string {
	if s.raw {
		return s.body
	}
	return unescape(s.body)
}

// unescape interprets Python backslash escapes. Unknown escapes are kept
// verbatim, as Python does.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 32)
			b.WriteRune(rune(v))
			i = j - 1
		case 'x', 'u', 'U':
			n := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+n < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+1+n], 16, 32); err == nil && utf8.ValidRune(rune(v)) {
					b.WriteRune(rune(v))
					i += n
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte(e)
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String()
}
