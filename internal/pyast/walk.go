package pyast

import (
	"fmt"
	"strconv"
	"strings"
)

// Children returns the direct child nodes of n in source order.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Module:
		return n.Body
	case *ExprStmt:
		return []Node{n.Value}
	case *Assign:
		return append(append([]Node{}, n.Targets...), n.Value)
	case *FunctionDef:
		out := append([]Node{}, n.Decorators...)
		if n.Params != nil {
			out = append(out, n.Params)
		}
		return append(out, n.Body...)
	case *ClassDef:
		out := append([]Node{}, n.Decorators...)
		out = append(out, n.Bases...)
		return append(out, n.Body...)
	case *If:
		out := append([]Node{n.Test}, n.Body...)
		return append(out, n.Orelse...)
	case *Call:
		out := append([]Node{n.Func}, n.Args...)
		for _, kw := range n.Keywords {
			out = append(out, kw)
		}
		return out
	case *Keyword:
		return []Node{n.Value}
	case *Attribute:
		return []Node{n.Value}
	case *Tuple:
		return n.Elts
	case *Compare:
		return append([]Node{n.Left}, n.Comparators...)
	case *Generic:
		return n.Children
	}
	return nil
}

// Walk traverses the tree rooted at n in pre-order. If fn returns false the
// children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Kind returns a short name for the node's type.
func Kind(n Node) string {
	switch n := n.(type) {
	case *Module:
		return "Module"
	case *ExprStmt:
		return "Expr"
	case *Assign:
		return "Assign"
	case *FunctionDef:
		return "FunctionDef"
	case *ClassDef:
		return "ClassDef"
	case *Import:
		return "Import"
	case *ImportFrom:
		return "ImportFrom"
	case *If:
		return "If"
	case *Call:
		return "Call"
	case *Keyword:
		return "keyword"
	case *Name:
		return "Name"
	case *Attribute:
		return "Attribute"
	case *Constant:
		return "Constant"
	case *Tuple:
		return "Tuple"
	case *Compare:
		return "Compare"
	case *Generic:
		return n.Type
	}
	return fmt.Sprintf("%T", n)
}

// Describe renders a one-line label for n, used by the ast dump.
func Describe(n Node) string {
	p := n.Position()
	var detail string
	switch n := n.(type) {
	case *Module:
		detail = n.Filename
	case *FunctionDef:
		detail = n.Name
		if n.Async {
			detail = "async " + detail
		}
	case *ClassDef:
		detail = n.Name
	case *Import:
		detail = aliasList(n.Names)
	case *ImportFrom:
		mod := strings.Repeat(".", n.Level) + n.Module
		names := aliasList(n.Names)
		if n.Wildcard {
			names = "*"
		}
		detail = mod + " import " + names
	case *Keyword:
		detail = n.Arg
		if detail == "" {
			detail = "**"
		}
	case *Name:
		detail = n.ID
	case *Attribute:
		detail = "." + n.Attr
	case *Constant:
		detail = n.Kind.String() + " " + strconv.Quote(n.Value)
	case *Compare:
		detail = strings.Join(n.Ops, ", ")
	case *Generic:
		if n.Text != "" {
			text := n.Text
			if len(text) > 40 {
				text = text[:37] + "..."
			}
			detail = strconv.Quote(text)
		}
	}
	if detail == "" {
		return fmt.Sprintf("%s @%d:%d", Kind(n), p.Line, p.Col)
	}
	return fmt.Sprintf("%s(%s) @%d:%d", Kind(n), detail, p.Line, p.Col)
}

func aliasList(as []Alias) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.Name
		if a.AsName != "" {
			parts[i] += " as " + a.AsName
		}
	}
	return strings.Join(parts, ", ")
}
