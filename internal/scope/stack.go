package scope

import (
	"strings"

	"github.com/jward/deba/internal/pyast"
)

// Stack is a chain of scope layers, innermost last. Pushing returns a new
// Stack that shares the outer layers, so bindings stored in an outer layer
// through one Stack are visible through every Stack derived from it.
type Stack struct {
	layers []map[string]*Node
}

// NewStack returns a stack over the given layers, outermost first. With no
// layers it starts with a single empty one.
func NewStack(layers ...map[string]*Node) *Stack {
	if len(layers) == 0 {
		layers = []map[string]*Node{{}}
	}
	return &Stack{layers: layers}
}

// Push returns a stack with a new empty innermost layer.
func (s *Stack) Push() *Stack {
	return s.PushLayer(map[string]*Node{})
}

// PushLayer returns a stack with layer as its innermost layer.
func (s *Stack) PushLayer(layer map[string]*Node) *Stack {
	layers := make([]map[string]*Node, len(s.layers), len(s.layers)+1)
	copy(layers, s.layers)
	return &Stack{layers: append(layers, layer)}
}

// Pop returns the stack without its innermost layer. The outermost layer is
// never removed.
func (s *Stack) Pop() *Stack {
	if len(s.layers) <= 1 {
		return s
	}
	return &Stack{layers: s.layers[:len(s.layers)-1]}
}

// Depth returns the number of layers.
func (s *Stack) Depth() int { return len(s.layers) }

// Store binds name in the innermost layer.
func (s *Stack) Store(name string, n *Node) {
	s.layers[len(s.layers)-1][name] = n
}

// Current returns a copy of the innermost layer.
func (s *Stack) Current() map[string]*Node {
	top := s.layers[len(s.layers)-1]
	out := make(map[string]*Node, len(top))
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path. The first segment is looked up from the
// innermost layer outwards; the layer that binds it then answers the rest of
// the path through Node children only.
func (s *Stack) Lookup(dotted string) (*Node, bool) {
	parts := strings.Split(dotted, ".")
	for i := len(s.layers) - 1; i >= 0; i-- {
		n, ok := s.layers[i][parts[0]]
		if !ok {
			continue
		}
		for _, part := range parts[1:] {
			if n, ok = n.Child(part); !ok {
				return nil, false
			}
		}
		return n, n != nil
	}
	return nil, false
}

// Dereference resolves a Name or an Attribute chain rooted at a Name.
// Anything else is unresolvable.
func (s *Stack) Dereference(expr pyast.Node) (*Node, bool) {
	switch expr := expr.(type) {
	case *pyast.Name:
		return s.Lookup(expr.ID)
	case *pyast.Attribute:
		var attrs []string
		var cur pyast.Node = expr
		for {
			a, ok := cur.(*pyast.Attribute)
			if !ok {
				break
			}
			attrs = append(attrs, a.Attr)
			cur = a.Value
		}
		root, ok := cur.(*pyast.Name)
		if !ok {
			return nil, false
		}
		n, ok := s.Lookup(root.ID)
		for i := len(attrs) - 1; ok && i >= 0; i-- {
			n, ok = n.Child(attrs[i])
		}
		return n, ok
	}
	return nil, false
}

// Resolve returns the syntax an expression is bound to.
func (s *Stack) Resolve(expr pyast.Node) (pyast.Node, bool) {
	n, ok := s.Dereference(expr)
	if !ok {
		return nil, false
	}
	return n.Syntax, true
}
