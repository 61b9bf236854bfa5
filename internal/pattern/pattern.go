// Package pattern compiles expression templates such as
//
//	`*_df`.to_csv(r'.+\.csv')
//
// into call-shaped matchers and matches them against calls found in Python
// source. A template holds exactly one string literal, a regular expression
// the matched file name must satisfy, and any number of backtick-delimited
// globs standing in for identifiers.
package pattern

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/jward/deba/internal/pyast"
)

// markerFormat names the identifier substituted for the n-th backtick glob.
const markerFormat = "deba_backtick_pat_%03d"

var markerRe = regexp.MustCompile(`^deba_backtick_pat_(\d{3})$`)

// ParseError reports a template that cannot be compiled.
type ParseError struct {
	Pattern string
	Msg     string
	Err     error
}

func (e *ParseError) Error() string { return e.Msg }

func (e *ParseError) Unwrap() error { return e.Err }

// Pattern is a compiled expression template. It is immutable and safe for
// concurrent use.
type Pattern struct {
	text  string
	call  *pyast.Call
	file  *regexp.Regexp
	globs []string
}

// String returns the template text the pattern was compiled from.
func (p *Pattern) String() string { return p.text }

// Regexp returns the anchored file name expression.
func (p *Pattern) Regexp() *regexp.Regexp { return p.file }

// Globs returns the backtick globs in template order.
func (p *Pattern) Globs() []string { return append([]string(nil), p.globs...) }

// MustCompile is like Compile but panics on error.
func MustCompile(text string) *Pattern {
	p, err := Compile(text)
	if err != nil {
		panic(fmt.Sprintf("pattern: Compile(%q): %v", text, err))
	}
	return p
}

// Compile parses and validates a template.
func Compile(text string) (*Pattern, error) {
	src, globs, err := replaceBackticks(text)
	if err != nil {
		return nil, err
	}
	fail := func(format string, args ...any) error {
		return &ParseError{Pattern: text, Msg: fmt.Sprintf(format, args...)}
	}

	mod, err := pyast.Parse([]byte(src), "<pattern>")
	if err != nil {
		return nil, &ParseError{Pattern: text, Msg: err.Error(), Err: err}
	}
	if len(mod.Body) != 1 {
		return nil, fail("expect exactly 1 expression, found %d", len(mod.Body))
	}
	stmt, ok := mod.Body[0].(*pyast.ExprStmt)
	if !ok {
		return nil, fail("expression must be a function call, found %s", pyast.Kind(mod.Body[0]))
	}
	call, ok := stmt.Value.(*pyast.Call)
	if !ok {
		return nil, fail("expression must be a function call, found %s", pyast.Kind(stmt.Value))
	}

	p := &Pattern{text: text, call: call, globs: globs}
	strCount := 0
	pyast.Walk(call, func(n pyast.Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *pyast.Call:
			if len(n.Args)+len(n.Keywords) != 1 {
				err = fail("function call must have exactly one argument or one keyword argument")
			}
		case *pyast.Constant:
			if !n.IsString() {
				err = fail("expect exactly 1 string constant, found %s", n.Kind)
				return false
			}
			strCount++
			p.file, err = compileFileRegexp(n.Value)
			if err != nil {
				err = &ParseError{Pattern: text, Msg: err.Error(), Err: err}
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if strCount != 1 {
		return nil, fail("expect exactly 1 string, found %d", strCount)
	}
	return p, nil
}

// compileFileRegexp anchors s at both ends unless it already is.
func compileFileRegexp(s string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(s); err != nil {
		msg := strings.TrimPrefix(err.Error(), "error parsing regexp: ")
		return nil, fmt.Errorf("invalid regular expression r'%s': %s", s, msg)
	}
	if !strings.HasPrefix(s, "^") {
		s = "^" + s
	}
	if !strings.HasSuffix(s, "$") {
		s += "$"
	}
	return regexp.Compile(s)
}

// replaceBackticks substitutes every backtick-delimited glob outside string
// literals with a marker identifier, returning the rewritten text and the
// globs in order.
func replaceBackticks(text string) (string, []string, error) {
	var globs []string
	for {
		i := findBacktick(text)
		if i < 0 {
			return text, globs, nil
		}
		lineStart := strings.LastIndexByte(text[:i], '\n') + 1
		lineEnd := len(text)
		if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
			lineEnd = i + j
		}
		end := strings.IndexByte(text[i+1:lineEnd], '`')
		if end < 0 {
			return "", nil, &ParseError{
				Pattern: text,
				Msg: fmt.Sprintf("backtick pattern not closed at line %d, offset %d",
					strings.Count(text[:i], "\n")+1, i-lineStart+1),
			}
		}
		end += i + 1

		glob := strings.ReplaceAll(text[i+1:end], "[!", "[^")
		if _, err := path.Match(glob, ""); errors.Is(err, path.ErrBadPattern) {
			return "", nil, &ParseError{
				Pattern: text,
				Msg:     fmt.Sprintf("invalid wildcard pattern %q", text[i+1:end]),
				Err:     err,
			}
		}
		text = text[:i] + fmt.Sprintf(markerFormat, len(globs)) + text[end+1:]
		globs = append(globs, glob)
	}
}

// findBacktick returns the index of the first backtick that is not inside a
// string literal or comment, or -1.
func findBacktick(text string) int {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '`':
			return i
		case '#':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case '\'', '"':
			quote := string(c)
			if strings.HasPrefix(text[i:], quote+quote+quote) {
				quote = quote + quote + quote
			}
			i += len(quote)
			for i < len(text) && !strings.HasPrefix(text[i:], quote) {
				if text[i] == '\\' {
					i++
				}
				i++
			}
			i += len(quote) - 1
		}
	}
	return -1
}
