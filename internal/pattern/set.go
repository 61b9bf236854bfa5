package pattern

import (
	"fmt"

	"github.com/jward/deba/internal/pyast"
)

// Role says which list of a Set a pattern belongs to.
type Role int

const (
	Target Role = iota
	Prerequisite
	Reference
)

func (r Role) String() string {
	switch r {
	case Target:
		return "target"
	case Prerequisite:
		return "prerequisite"
	case Reference:
		return "reference"
	}
	return "unknown"
}

// Set holds the three ordered pattern lists used to classify calls.
type Set struct {
	Targets       []*Pattern
	Prerequisites []*Pattern
	References    []*Pattern
}

// NewSet compiles the three template lists. The first failing template is
// reported together with its role and index.
func NewSet(prerequisites, references, targets []string) (*Set, error) {
	s := &Set{}
	var err error
	if s.Prerequisites, err = compileAll(Prerequisite, prerequisites); err != nil {
		return nil, err
	}
	if s.References, err = compileAll(Reference, references); err != nil {
		return nil, err
	}
	if s.Targets, err = compileAll(Target, targets); err != nil {
		return nil, err
	}
	return s, nil
}

func compileAll(role Role, texts []string) ([]*Pattern, error) {
	out := make([]*Pattern, 0, len(texts))
	for i, text := range texts {
		p, err := Compile(text)
		if err != nil {
			return nil, fmt.Errorf("%s pattern #%d %q: %w", role, i, text, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Match tries targets, then prerequisites, then references, and returns the
// role and capture of the first pattern that matches call.
func (s *Set) Match(scope Resolver, call *pyast.Call) (Role, string, bool) {
	for _, group := range []struct {
		role     Role
		patterns []*Pattern
	}{
		{Target, s.Targets},
		{Prerequisite, s.Prerequisites},
		{Reference, s.References},
	} {
		for _, p := range group.patterns {
			if file, ok := p.Match(scope, call); ok {
				return group.role, file, true
			}
		}
	}
	return 0, "", false
}

// Empty reports whether the set holds no patterns at all.
func (s *Set) Empty() bool {
	return len(s.Targets)+len(s.Prerequisites)+len(s.References) == 0
}
