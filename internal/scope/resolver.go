package scope

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/deba/internal/pyast"
)

const (
	initFile = "__init__.py"
	mainFile = "__main__.py"
)

// ParseError reports a module that could not be read or parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver finds, parses and builds modules. Parsed trees and built nodes
// are cached per absolute path for the Resolver's lifetime, so importing a
// module twice yields the same *Node.
//
// A Resolver is not safe for concurrent use. Give every goroutine its own.
type Resolver struct {
	paths  []string
	parser *pyast.Parser
	logger *slog.Logger

	trees map[string]*pyast.Module
	nodes map[string]*Node
	// failed remembers modules whose load failed, so every later import of
	// them reports the same error instead of a partly populated node.
	failed map[string]error
	// order lists the origins of nodes in registration order.
	order []string

	touched []*Node
}

// NewResolver returns a resolver searching paths, in order, for top-level
// modules. Call Close when done.
func NewResolver(paths []string, opts ...Option) *Resolver {
	r := &Resolver{
		parser: pyast.NewParser(),
		logger: slog.New(slog.DiscardHandler),
		trees:  make(map[string]*pyast.Module),
		nodes:  make(map[string]*Node),
		failed: make(map[string]error),
	}
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		r.paths = append(r.paths, p)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Close releases the parser.
func (r *Resolver) Close() {
	r.parser.Close()
}

// Paths returns the top-level search paths.
func (r *Resolver) Paths() []string { return append([]string(nil), r.paths...) }

// FindSpec resolves a dotted module name. parentPaths are searched before
// the resolver's own paths for the first segment; every later segment is
// searched only in the previous segment's package directories.
func (r *Resolver) FindSpec(name string, parentPaths []string) (*ModuleSpec, bool) {
	return r.findSpec(name, dedupe(append(append([]string{}, parentPaths...), r.paths...)))
}

func (r *Resolver) findSpec(name string, paths []string) (*ModuleSpec, bool) {
	parts := strings.Split(name, ".")
	var spec *ModuleSpec
	for _, part := range parts {
		if spec = findInPaths(part, paths); spec == nil {
			return nil, false
		}
		paths = spec.Locations
	}
	spec.Name = name
	return spec, true
}

// findInPaths looks for a package or module called name in each directory
// in turn. Plain directories are namespace package portions; they are used
// only when no regular package or module exists anywhere on the path.
func findInPaths(name string, paths []string) *ModuleSpec {
	var portions []string
	for _, dir := range paths {
		pkg := filepath.Join(dir, name)
		if fi, err := os.Stat(pkg); err == nil && fi.IsDir() {
			if isFile(filepath.Join(pkg, initFile)) {
				return &ModuleSpec{Name: name, Origin: filepath.Join(pkg, initFile), Locations: []string{pkg}}
			}
			portions = append(portions, pkg)
		}
		if mod := filepath.Join(dir, name+".py"); isFile(mod) {
			return &ModuleSpec{Name: name, Origin: mod}
		}
	}
	if len(portions) > 0 {
		return &ModuleSpec{Name: name, Locations: portions}
	}
	return nil
}

// Parse returns the syntax tree for origin, parsing the file at most once.
func (r *Resolver) Parse(origin string) (*pyast.Module, error) {
	if mod, ok := r.trees[origin]; ok {
		return mod, nil
	}
	src, err := os.ReadFile(origin)
	if err != nil {
		return nil, &ParseError{Path: origin, Err: err}
	}
	mod, err := r.parser.Parse(src, filepath.Base(origin))
	if err != nil {
		return nil, &ParseError{Path: origin, Err: err}
	}
	r.trees[origin] = mod
	return mod, nil
}

// FindModule resolves and loads a module. A module that cannot be found
// returns (nil, nil); only read and syntax errors are reported.
func (r *Resolver) FindModule(name string, parentPaths []string) (*Node, error) {
	spec, ok := r.FindSpec(name, parentPaths)
	if !ok {
		r.logger.Debug("module not found", "module", name)
		return nil, nil
	}
	return r.load(spec)
}

func (r *Resolver) load(spec *ModuleSpec) (*Node, error) {
	if spec.Origin == "" || !strings.HasSuffix(spec.Origin, ".py") {
		return nil, nil
	}
	if err, ok := r.failed[spec.Origin]; ok {
		return nil, err
	}
	if n, ok := r.nodes[spec.Origin]; ok {
		r.touched = append(r.touched, n)
		return n, nil
	}
	mark := len(r.order)
	n, err := r.populate(spec)
	if err != nil {
		// Modules loaded while this one was being populated may hold the
		// partial node through an import cycle, so they go too.
		for _, origin := range r.order[mark:] {
			delete(r.nodes, origin)
		}
		r.order = r.order[:mark]
		r.failed[spec.Origin] = err
		return nil, err
	}
	return n, nil
}

func (r *Resolver) populate(spec *ModuleSpec) (*Node, error) {
	mod, err := r.Parse(spec.Origin)
	if err != nil {
		return nil, err
	}

	// Registered before population so import cycles end at this node.
	n := NewNode(mod, spec, map[string]*Node{})
	r.nodes[spec.Origin] = n
	r.order = append(r.order, spec.Origin)
	r.touched = append(r.touched, n)

	if spec.IsPackage() {
		if err := r.collectSubmodules(n); err != nil {
			return nil, err
		}
	}
	stack := NewStack(n.children)
	for _, stmt := range mod.Body {
		if err := r.PopulateScope(spec, stack, mod, stmt); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (r *Resolver) collectSubmodules(pkg *Node) error {
	dir := pkg.Spec.Locations[0]
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &ParseError{Path: dir, Err: err}
	}
	pkg.submodules = make(map[string]*Node)
	for _, e := range entries {
		name := e.Name()
		var child string
		switch {
		case name == initFile || name == mainFile:
			continue
		case !e.IsDir() && strings.HasSuffix(name, ".py"):
			child = strings.TrimSuffix(name, ".py")
		case e.IsDir() && isFile(filepath.Join(dir, name, initFile)):
			child = name
		default:
			continue
		}
		spec, ok := r.findSpec(child, pkg.Spec.Locations)
		if !ok {
			continue
		}
		spec.Name = pkg.Spec.Name + "." + child
		sub, err := r.load(spec)
		if err != nil {
			return err
		}
		if sub != nil {
			pkg.submodules[child] = sub
			pkg.imports = append(pkg.imports, sub)
		}
	}
	return nil
}

// LoadFile loads a script or package directory as a module.
func (r *Resolver) LoadFile(path string) (*Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("scope: resolving %s: %w", path, err)
	}
	if !isFile(abs) && !isFile(filepath.Join(abs, initFile)) {
		return nil, fmt.Errorf("not a file path: %s", path)
	}
	parent, base := filepath.Split(abs)
	spec, ok := r.findSpec(strings.TrimSuffix(base, ".py"), []string{filepath.Clean(parent)})
	if !ok {
		return nil, fmt.Errorf("not a file path: %s", path)
	}
	return r.load(spec)
}

// Module returns the loaded node for spec's module.
func (r *Resolver) Module(spec *ModuleSpec) (*Node, bool) {
	n, ok := r.nodes[spec.Origin]
	return n, ok
}

// PopulateScope adds the bindings made by one statement to the innermost
// layer of stack. parent is the statement's enclosing construct.
func (r *Resolver) PopulateScope(spec *ModuleSpec, stack *Stack, parent pyast.Node, stmt pyast.Node) error {
	switch stmt := stmt.(type) {
	case *pyast.Import:
		for _, alias := range stmt.Names {
			name, bound := alias.Name, alias.Bound()
			if alias.AsName == "" {
				// import a.b binds a
				name, _, _ = strings.Cut(alias.Name, ".")
				bound = name
			}
			n, err := r.FindModule(name, spec.Locations)
			if err != nil {
				return err
			}
			if n != nil {
				r.recordImport(spec, n)
				stack.Store(bound, n)
			}
		}

	case *pyast.ImportFrom:
		n, err := r.importFromSource(spec, stmt)
		if err != nil || n == nil {
			return err
		}
		r.recordImport(spec, n)
		if stmt.Wildcard {
			for k, v := range n.children {
				if !strings.HasPrefix(k, "_") {
					stack.Store(k, v)
				}
			}
			return nil
		}
		for _, alias := range stmt.Names {
			if v, ok := n.Child(alias.Name); ok {
				stack.Store(alias.Bound(), v)
			}
		}

	case *pyast.FunctionDef:
		if _, inClass := parent.(*pyast.ClassDef); inClass && !isClassOrStaticMethod(stmt) {
			return nil
		}
		stack.Store(stmt.Name, NewNode(stmt, spec, nil))

	case *pyast.ClassDef:
		sub := stack.Push()
		for _, s := range stmt.Body {
			if err := r.PopulateScope(spec, sub, stmt, s); err != nil {
				return err
			}
		}
		stack.Store(stmt.Name, NewNode(stmt, spec, sub.Current()))

	case *pyast.Assign:
		val, ok := r.Dereference(spec, stack, stmt.Value)
		if !ok {
			return nil
		}
		for _, target := range stmt.Targets {
			switch target := target.(type) {
			case *pyast.Name:
				stack.Store(target.ID, &Node{
					Syntax:     val.Syntax,
					Spec:       val.Spec,
					children:   val.children,
					submodules: val.submodules,
				})
			case *pyast.Tuple:
				tup, ok := val.Syntax.(*pyast.Tuple)
				if !ok {
					continue
				}
				for i, el := range target.Elts {
					name, ok := el.(*pyast.Name)
					if ok && i < len(tup.Elts) {
						stack.Store(name.ID, NewNode(tup.Elts[i], spec, nil))
					}
				}
			}
		}
	}
	return nil
}

// importFromSource finds the module named by a from-import. Relative
// imports climb level directories from the importing file to the anchor
// package and search only there.
func (r *Resolver) importFromSource(spec *ModuleSpec, stmt *pyast.ImportFrom) (*Node, error) {
	if stmt.Level == 0 {
		return r.FindModule(stmt.Module, spec.Locations)
	}
	anchor := spec.Origin
	for i := 0; i < stmt.Level; i++ {
		anchor = filepath.Dir(anchor)
	}
	var (
		s  *ModuleSpec
		ok bool
	)
	if stmt.Module == "" {
		s, ok = r.findSpec(filepath.Base(anchor), []string{filepath.Dir(anchor)})
	} else {
		s, ok = r.findSpec(stmt.Module, []string{anchor})
	}
	if !ok {
		r.logger.Debug("relative import not found",
			"module", strings.Repeat(".", stmt.Level)+stmt.Module, "from", spec.Origin)
		return nil, nil
	}
	return r.load(s)
}

func (r *Resolver) recordImport(spec *ModuleSpec, n *Node) {
	if mod, ok := r.nodes[spec.Origin]; ok && mod != n {
		mod.imports = append(mod.imports, n)
	}
}

// Dereference resolves an expression to the Node carrying its value.
// Constants resolve to themselves and tuples element-wise into a new tuple;
// names and attributes are looked up in stack.
func (r *Resolver) Dereference(spec *ModuleSpec, stack *Stack, expr pyast.Node) (*Node, bool) {
	switch expr := expr.(type) {
	case *pyast.Constant:
		return NewNode(expr, spec, nil), true
	case *pyast.Tuple:
		elts := make([]pyast.Node, len(expr.Elts))
		for i, el := range expr.Elts {
			n, ok := r.Dereference(spec, stack, el)
			if !ok {
				return nil, false
			}
			elts[i] = n.Syntax
		}
		return NewNode(pyast.NewTuple(elts, expr.Position()), spec, nil), true
	}
	return stack.Dereference(expr)
}

// ResetTouched clears the record of modules used since the last reset.
func (r *Resolver) ResetTouched() {
	r.touched = r.touched[:0]
}

// Touched returns the sorted source files of every module loaded or reused
// since the last ResetTouched, including the modules they import.
func (r *Resolver) Touched() []string {
	seen := make(map[*Node]bool)
	var files []string
	var visit func(n *Node)
	visit = func(n *Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		files = append(files, n.Spec.Origin)
		for _, imp := range n.imports {
			visit(imp)
		}
	}
	for _, n := range r.touched {
		visit(n)
	}
	sort.Strings(files)
	return files
}

func isClassOrStaticMethod(fn *pyast.FunctionDef) bool {
	for _, d := range fn.Decorators {
		if name, ok := d.(*pyast.Name); ok && (name.ID == "classmethod" || name.ID == "staticmethod") {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
