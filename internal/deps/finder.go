// Package deps discovers the files a pipeline script reads and writes by
// scanning its main block for calls that match the configured patterns.
package deps

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jward/deba/internal/pattern"
	"github.com/jward/deba/internal/pyast"
	"github.com/jward/deba/internal/scope"
)

// ErrMainBlockNotFound is reported for scripts without an
// `if __name__ == "__main__":` block.
var ErrMainBlockNotFound = errors.New("main block not found")

// ModuleParseError reports a script that cannot be analyzed: it failed to
// parse, imports a module that failed to parse, or has no main block.
type ModuleParseError struct {
	Path string
	Err  error
}

func (e *ModuleParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ModuleParseError) Unwrap() error { return e.Err }

// Result lists what one script reads and writes, in discovery order and
// without deduplication.
type Result struct {
	Prerequisites []string
	References    []string
	Targets       []string

	// Files holds every module source file consulted during the scan,
	// the script included.
	Files []string
}

// Finder scans scripts. It shares the Resolver's caches across calls and is
// therefore no more concurrency-safe than the Resolver.
type Finder struct {
	resolver *scope.Resolver
	patterns *pattern.Set
	logger   *slog.Logger
}

// NewFinder returns a Finder. A nil logger discards output.
func NewFinder(resolver *scope.Resolver, patterns *pattern.Set, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Finder{resolver: resolver, patterns: patterns, logger: logger}
}

// FindDependencies loads the script at path, binds its top-level statements
// up to the main block, and scans the main block.
func (f *Finder) FindDependencies(path string) (*Result, error) {
	f.resolver.ResetTouched()
	mod, err := f.resolver.LoadFile(path)
	if err != nil {
		return nil, wrapParseError(path, err)
	}
	syntax := mod.Syntax.(*pyast.Module)

	s := &scanner{Finder: f, res: &Result{}, active: make(map[*pyast.FunctionDef]bool)}
	stack := scope.NewStack()
	for _, stmt := range syntax.Body {
		if guard, ok := stmt.(*pyast.If); ok && IsMainBlock(guard) {
			if err := s.scan(mod.Spec, stack.Push(), guard, guard.Body); err != nil {
				return nil, wrapParseError(path, err)
			}
			s.res.Files = f.resolver.Touched()
			return s.res, nil
		}
		if err := f.resolver.PopulateScope(mod.Spec, stack, syntax, stmt); err != nil {
			return nil, wrapParseError(path, err)
		}
	}
	return nil, &ModuleParseError{Path: path, Err: ErrMainBlockNotFound}
}

func wrapParseError(path string, err error) error {
	var pe *scope.ParseError
	if errors.As(err, &pe) {
		return &ModuleParseError{Path: path, Err: err}
	}
	return err
}

// IsMainBlock reports whether stmt is exactly `if __name__ == "__main__":`.
func IsMainBlock(stmt *pyast.If) bool {
	cmp, ok := stmt.Test.(*pyast.Compare)
	if !ok || len(cmp.Ops) != 1 || cmp.Ops[0] != "==" {
		return false
	}
	name, ok := cmp.Left.(*pyast.Name)
	if !ok || name.ID != "__name__" {
		return false
	}
	lit, ok := cmp.Comparators[0].(*pyast.Constant)
	return ok && lit.IsString() && lit.Value == "__main__"
}

type scanner struct {
	*Finder
	res    *Result
	active map[*pyast.FunctionDef]bool
}

// scan binds each statement of body and then classifies every call inside
// it, in pre-order.
func (s *scanner) scan(spec *scope.ModuleSpec, stack *scope.Stack, parent pyast.Node, body []pyast.Node) error {
	for _, stmt := range body {
		if err := s.resolver.PopulateScope(spec, stack, parent, stmt); err != nil {
			return err
		}
		var err error
		pyast.Walk(stmt, func(n pyast.Node) bool {
			if err != nil {
				return false
			}
			if call, ok := n.(*pyast.Call); ok {
				err = s.call(spec, stack, call)
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) call(spec *scope.ModuleSpec, stack *scope.Stack, call *pyast.Call) error {
	if role, file, ok := s.patterns.Match(stack, call); ok {
		switch role {
		case pattern.Target:
			s.res.Targets = append(s.res.Targets, file)
		case pattern.Prerequisite:
			s.res.Prerequisites = append(s.res.Prerequisites, file)
		case pattern.Reference:
			s.res.References = append(s.res.References, file)
		}
		return nil
	}

	callee, ok := stack.Dereference(call.Func)
	if !ok {
		return nil
	}
	fn, ok := callee.Function()
	if !ok {
		return nil
	}
	if s.active[fn] {
		s.logger.Debug("skipping recursive call", "function", fn.Name, "module", callee.Spec.Origin)
		return nil
	}
	s.active[fn] = true
	defer delete(s.active, fn)

	// A function from another module sees that module's globals.
	frame := stack
	if callee.Spec.Origin != spec.Origin {
		if mod, ok := s.resolver.Module(callee.Spec); ok {
			frame = frame.PushLayer(mod.Bindings())
		}
	}
	return s.scan(callee.Spec, frame.Push(), fn, fn.Body)
}
