// Package scope resolves Python names statically. It loads modules the way
// the import system finds them, builds a Node graph of their top-level
// bindings, and keeps the lexical Stack used while scanning scripts.
package scope

import (
	"path/filepath"
	"sort"

	"github.com/jward/deba/internal/pyast"
)

// ModuleSpec locates a module on disk.
type ModuleSpec struct {
	// Name is the dotted module name as it was requested.
	Name string
	// Origin is the absolute path of the source file. It is empty for
	// namespace packages, which have no source.
	Origin string
	// Locations lists the directories searched for submodules. It is nil
	// for plain modules.
	Locations []string
}

// IsPackage reports whether the spec describes a package.
func (s *ModuleSpec) IsPackage() bool { return s.Locations != nil }

// Dir returns the directory holding the module's source.
func (s *ModuleSpec) Dir() string { return filepath.Dir(s.Origin) }

// Node pairs a syntax subtree with the module it came from. Module, package
// and class nodes carry named children; everything else is a leaf.
type Node struct {
	Syntax pyast.Node
	Spec   *ModuleSpec

	children   map[string]*Node
	submodules map[string]*Node
	imports    []*Node
}

// NewNode returns a node. children may be nil.
func NewNode(syntax pyast.Node, spec *ModuleSpec, children map[string]*Node) *Node {
	return &Node{Syntax: syntax, Spec: spec, children: children}
}

// Child looks up one attribute of the node. Packages answer from their
// initializer's bindings first and then from their submodules.
func (n *Node) Child(name string) (*Node, bool) {
	if c, ok := n.children[name]; ok {
		return c, true
	}
	c, ok := n.submodules[name]
	return c, ok
}

// Names returns the sorted names reachable through Child.
func (n *Node) Names() []string {
	seen := make(map[string]struct{}, len(n.children)+len(n.submodules))
	for k := range n.children {
		seen[k] = struct{}{}
	}
	for k := range n.submodules {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Function returns the function definition wrapped by the node, if any.
func (n *Node) Function() (*pyast.FunctionDef, bool) {
	fn, ok := n.Syntax.(*pyast.FunctionDef)
	return fn, ok
}

// Bindings returns a copy of the node's own children, without submodules.
func (n *Node) Bindings() map[string]*Node {
	out := make(map[string]*Node, len(n.children))
	for k, v := range n.children {
		out[k] = v
	}
	return out
}
