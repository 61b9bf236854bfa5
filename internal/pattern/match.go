package pattern

import (
	"path"
	"slices"
	"strconv"

	"github.com/jward/deba/internal/pyast"
)

// Resolver dereferences a candidate expression to the syntax it is bound
// to in the current scope. It returns false when the expression cannot be
// resolved statically.
type Resolver interface {
	Resolve(n pyast.Node) (pyast.Node, bool)
}

// Match compares call against the pattern. On success it returns the file
// name captured by the pattern's string slot. A nil scope resolves nothing.
func (p *Pattern) Match(scope Resolver, call *pyast.Call) (string, bool) {
	m := matcher{p: p, scope: scope}
	return m.match(p.call, call)
}

type matcher struct {
	p     *Pattern
	scope Resolver
}

func (m matcher) match(pat, cand pyast.Node) (string, bool) {
	if pat == nil || cand == nil {
		return "", pat == nil && cand == nil
	}

	if pc, ok := pat.(*pyast.Constant); ok {
		cc, ok := cand.(*pyast.Constant)
		if !ok {
			if m.scope == nil {
				return "", false
			}
			resolved, found := m.scope.Resolve(cand)
			if !found {
				return "", false
			}
			if cc, ok = resolved.(*pyast.Constant); !ok {
				return "", false
			}
		}
		return m.matchConstant(pc, cc)
	}

	switch pat := pat.(type) {
	case *pyast.Name:
		cand, ok := cand.(*pyast.Name)
		if !ok {
			return "", false
		}
		return "", m.matchName(pat.ID, cand.ID)

	case *pyast.Call:
		cand, ok := cand.(*pyast.Call)
		if !ok {
			return "", false
		}
		if _, ok := m.match(pat.Func, cand.Func); !ok {
			return "", false
		}
		switch {
		case len(pat.Args) > 0:
			for _, arg := range cand.Args {
				if s, ok := m.match(pat.Args[0], arg); ok {
					return s, true
				}
			}
			return "", false
		case len(pat.Keywords) > 0:
			for _, kw := range cand.Keywords {
				if s, ok := m.match(pat.Keywords[0].Value, kw.Value); ok {
					return s, true
				}
			}
			return "", false
		}
		return "", true

	case *pyast.Attribute:
		cand, ok := cand.(*pyast.Attribute)
		if !ok || !m.matchName(pat.Attr, cand.Attr) {
			return "", false
		}
		return m.match(pat.Value, cand.Value)

	case *pyast.Keyword:
		cand, ok := cand.(*pyast.Keyword)
		if !ok || pat.Arg != cand.Arg {
			return "", false
		}
		return m.match(pat.Value, cand.Value)

	case *pyast.Tuple:
		cand, ok := cand.(*pyast.Tuple)
		if !ok {
			return "", false
		}
		return m.matchList(pat.Elts, cand.Elts)

	case *pyast.Compare:
		cand, ok := cand.(*pyast.Compare)
		if !ok || !slices.Equal(pat.Ops, cand.Ops) {
			return "", false
		}
		return m.matchList(append([]pyast.Node{pat.Left}, pat.Comparators...),
			append([]pyast.Node{cand.Left}, cand.Comparators...))

	case *pyast.Generic:
		cand, ok := cand.(*pyast.Generic)
		if !ok || pat.Type != cand.Type || pat.Text != cand.Text {
			return "", false
		}
		return m.matchList(pat.Children, cand.Children)
	}

	if pyast.Kind(pat) != pyast.Kind(cand) {
		return "", false
	}
	return m.matchList(pyast.Children(pat), pyast.Children(cand))
}

// matchList compares element-wise; a length mismatch never matches. The
// last non-empty capture wins.
func (m matcher) matchList(pats, cands []pyast.Node) (string, bool) {
	if len(pats) != len(cands) {
		return "", false
	}
	var captured string
	for i := range pats {
		s, ok := m.match(pats[i], cands[i])
		if !ok {
			return "", false
		}
		if s != "" {
			captured = s
		}
	}
	return captured, true
}

func (m matcher) matchConstant(pat, cand *pyast.Constant) (string, bool) {
	if pat.IsString() && cand.IsString() {
		if !m.p.file.MatchString(cand.Value) {
			return "", false
		}
		return cand.Value, true
	}
	return "", pat.Kind == cand.Kind && pat.Value == cand.Value
}

func (m matcher) matchName(pat, cand string) bool {
	if pat == cand {
		return true
	}
	sub := markerRe.FindStringSubmatch(pat)
	if sub == nil {
		return false
	}
	idx, _ := strconv.Atoi(sub[1])
	if idx >= len(m.p.globs) {
		return false
	}
	ok, err := path.Match(m.p.globs[idx], cand)
	return err == nil && ok
}
