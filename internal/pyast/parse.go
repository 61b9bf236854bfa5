package pyast

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SyntaxError reports source that tree-sitter could not parse cleanly.
type SyntaxError struct {
	Filename string
	Line     int
	Col      int
	Msg      string
}

func (e *SyntaxError) Error() string {
	name := e.Filename
	if name == "" {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d: %s", name, e.Line, e.Col, e.Msg)
}

// Parser wraps a tree-sitter parser configured for Python. A Parser is not
// safe for concurrent use; create one per goroutine.
type Parser struct {
	ts *sitter.Parser
}

// NewParser returns a Python parser. Call Close when done.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{ts: p}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.ts.Close()
}

// Parse parses src as a Python module. Source with syntax errors yields a
// *SyntaxError positioned at the first error node.
func (p *Parser) Parse(src []byte, filename string) (*Module, error) {
	tree, err := p.ts.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("pyast: parsing %s: %w", filename, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, syntaxError(root, src, filename)
	}

	l := &lowerer{src: src}
	return &Module{
		base:     base{pos: Pos{Line: 1}},
		Filename: filename,
		Body:     l.block(root),
	}, nil
}

// Parse is a convenience wrapper that parses src with a throwaway Parser.
func Parse(src []byte, filename string) (*Module, error) {
	p := NewParser()
	defer p.Close()
	return p.Parse(src, filename)
}

// ParseExpr parses text that must consist of exactly one expression
// statement and returns the expression.
func ParseExpr(text string) (Node, error) {
	mod, err := Parse([]byte(text), "<pattern>")
	if err != nil {
		return nil, err
	}
	if len(mod.Body) != 1 {
		return nil, fmt.Errorf("expect exactly 1 expression, found %d", len(mod.Body))
	}
	stmt, ok := mod.Body[0].(*ExprStmt)
	if !ok {
		return nil, fmt.Errorf("expected an expression, found %s statement", Kind(mod.Body[0]))
	}
	return stmt.Value, nil
}

func syntaxError(root *sitter.Node, src []byte, filename string) *SyntaxError {
	bad := firstError(root)
	if bad == nil {
		bad = root
	}
	pt := bad.StartPoint()
	msg := "invalid syntax"
	if bad.IsMissing() {
		msg = fmt.Sprintf("missing %q", bad.Type())
	} else if text := strings.TrimSpace(bad.Content(src)); text != "" {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		msg = fmt.Sprintf("invalid syntax near %q", text)
	}
	return &SyntaxError{
		Filename: filename,
		Line:     int(pt.Row) + 1,
		Col:      int(pt.Column),
		Msg:      msg,
	}
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if e := firstError(n.Child(i)); e != nil {
			return e
		}
	}
	return nil
}

type lowerer struct {
	src []byte
}

func (l *lowerer) text(n *sitter.Node) string {
	return n.Content(l.src)
}

func pos(n *sitter.Node) base {
	pt := n.StartPoint()
	return base{pos: Pos{Line: int(pt.Row) + 1, Col: int(pt.Column)}}
}

// namedChildren returns the named children of n with comments removed.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (l *lowerer) block(n *sitter.Node) []Node {
	kids := namedChildren(n)
	out := make([]Node, 0, len(kids))
	for _, c := range kids {
		out = append(out, l.lower(c))
	}
	return out
}

func (l *lowerer) lowerAll(ns []*sitter.Node) []Node {
	out := make([]Node, 0, len(ns))
	for _, c := range ns {
		out = append(out, l.lower(c))
	}
	return out
}

func (l *lowerer) lower(n *sitter.Node) Node {
	switch n.Type() {
	case "expression_statement":
		kids := namedChildren(n)
		if len(kids) == 1 {
			if kids[0].Type() == "assignment" {
				return l.assignment(kids[0])
			}
			return &ExprStmt{base: pos(n), Value: l.lower(kids[0])}
		}
		return &ExprStmt{base: pos(n), Value: &Tuple{base: pos(n), Elts: l.lowerAll(kids)}}
	case "assignment":
		return l.assignment(n)
	case "function_definition":
		return l.function(n, nil)
	case "class_definition":
		return l.class(n, nil)
	case "decorated_definition":
		return l.decorated(n)
	case "import_statement":
		return &Import{base: pos(n), Names: l.aliases(namedChildren(n))}
	case "import_from_statement":
		return l.importFrom(n)
	case "if_statement":
		return l.ifStatement(n)
	case "call":
		return l.call(n)
	case "identifier":
		return &Name{base: pos(n), ID: l.text(n)}
	case "attribute":
		return &Attribute{
			base:  pos(n),
			Value: l.lower(n.ChildByFieldName("object")),
			Attr:  l.text(n.ChildByFieldName("attribute")),
		}
	case "string":
		return l.str(n)
	case "concatenated_string":
		return l.concatenated(n)
	case "integer":
		return &Constant{base: pos(n), Kind: Int, Value: l.text(n)}
	case "float":
		return &Constant{base: pos(n), Kind: Float, Value: l.text(n)}
	case "true":
		return &Constant{base: pos(n), Kind: Bool, Value: "True"}
	case "false":
		return &Constant{base: pos(n), Kind: Bool, Value: "False"}
	case "none":
		return &Constant{base: pos(n), Kind: None, Value: "None"}
	case "ellipsis":
		return &Constant{base: pos(n), Kind: Ellipsis, Value: "..."}
	case "tuple", "expression_list", "pattern_list", "tuple_pattern":
		return &Tuple{base: pos(n), Elts: l.lowerAll(namedChildren(n))}
	case "parenthesized_expression":
		if kids := namedChildren(n); len(kids) == 1 {
			return l.lower(kids[0])
		}
	case "comparison_operator":
		return l.compare(n)
	case "keyword_argument":
		return &Keyword{
			base:  pos(n),
			Arg:   l.text(n.ChildByFieldName("name")),
			Value: l.lower(n.ChildByFieldName("value")),
		}
	}
	return l.generic(n)
}

func (l *lowerer) generic(n *sitter.Node) *Generic {
	g := &Generic{base: pos(n), Type: n.Type()}
	kids := namedChildren(n)
	if len(kids) == 0 {
		g.Text = l.text(n)
		return g
	}
	if op := n.ChildByFieldName("operator"); op != nil {
		g.Text = op.Type()
	}
	g.Children = l.lowerAll(kids)
	return g
}

func (l *lowerer) assignment(n *sitter.Node) Node {
	a := &Assign{base: pos(n)}
	cur := n
	for {
		a.Targets = append(a.Targets, l.lower(cur.ChildByFieldName("left")))
		right := cur.ChildByFieldName("right")
		if right == nil {
			// bare annotation, `x: int`
			return l.generic(n)
		}
		if right.Type() != "assignment" {
			a.Value = l.lower(right)
			return a
		}
		cur = right
	}
}

func (l *lowerer) function(n *sitter.Node, decorators []Node) *FunctionDef {
	fn := &FunctionDef{
		base:       pos(n),
		Name:       l.text(n.ChildByFieldName("name")),
		Decorators: decorators,
		Body:       l.block(n.ChildByFieldName("body")),
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		fn.Params = l.generic(params)
	}
	if n.ChildCount() > 0 && n.Child(0).Type() == "async" {
		fn.Async = true
	}
	return fn
}

func (l *lowerer) class(n *sitter.Node, decorators []Node) *ClassDef {
	cls := &ClassDef{
		base:       pos(n),
		Name:       l.text(n.ChildByFieldName("name")),
		Decorators: decorators,
		Body:       l.block(n.ChildByFieldName("body")),
	}
	if sup := n.ChildByFieldName("superclasses"); sup != nil {
		cls.Bases = l.lowerAll(namedChildren(sup))
	}
	return cls
}

func (l *lowerer) decorated(n *sitter.Node) Node {
	var decorators []Node
	for _, c := range namedChildren(n) {
		if c.Type() != "decorator" {
			continue
		}
		if kids := namedChildren(c); len(kids) == 1 {
			decorators = append(decorators, l.lower(kids[0]))
		}
	}
	def := n.ChildByFieldName("definition")
	switch def.Type() {
	case "function_definition":
		return l.function(def, decorators)
	case "class_definition":
		return l.class(def, decorators)
	}
	return l.generic(n)
}

func (l *lowerer) aliases(ns []*sitter.Node) []Alias {
	var out []Alias
	for _, c := range ns {
		switch c.Type() {
		case "dotted_name":
			out = append(out, Alias{Name: l.text(c)})
		case "aliased_import":
			out = append(out, Alias{
				Name:   l.text(c.ChildByFieldName("name")),
				AsName: l.text(c.ChildByFieldName("alias")),
			})
		}
	}
	return out
}

func (l *lowerer) importFrom(n *sitter.Node) *ImportFrom {
	imp := &ImportFrom{base: pos(n)}
	mod := n.ChildByFieldName("module_name")
	var names []*sitter.Node
	for _, c := range namedChildren(n) {
		if mod != nil && c.StartByte() == mod.StartByte() && c.Type() == mod.Type() {
			continue
		}
		if c.Type() == "wildcard_import" {
			imp.Wildcard = true
			continue
		}
		names = append(names, c)
	}
	if mod != nil {
		switch mod.Type() {
		case "relative_import":
			for _, c := range namedChildren(mod) {
				switch c.Type() {
				case "import_prefix":
					imp.Level = strings.Count(l.text(c), ".")
				case "dotted_name":
					imp.Module = l.text(c)
				}
			}
		default:
			imp.Module = l.text(mod)
		}
	}
	imp.Names = l.aliases(names)
	return imp
}

func (l *lowerer) ifStatement(n *sitter.Node) *If {
	root := &If{
		base: pos(n),
		Test: l.lower(n.ChildByFieldName("condition")),
		Body: l.block(n.ChildByFieldName("consequence")),
	}
	tail := root
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "elif_clause":
			next := &If{
				base: pos(c),
				Test: l.lower(c.ChildByFieldName("condition")),
				Body: l.block(c.ChildByFieldName("consequence")),
			}
			tail.Orelse = []Node{next}
			tail = next
		case "else_clause":
			tail.Orelse = l.block(c.ChildByFieldName("body"))
		}
	}
	return root
}

func (l *lowerer) call(n *sitter.Node) *Call {
	c := &Call{base: pos(n), Func: l.lower(n.ChildByFieldName("function"))}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return c
	}
	if args.Type() != "argument_list" {
		c.Args = []Node{l.lower(args)}
		return c
	}
	for _, a := range namedChildren(args) {
		switch a.Type() {
		case "keyword_argument":
			c.Keywords = append(c.Keywords, l.lower(a).(*Keyword))
		case "dictionary_splat":
			var val Node
			if kids := namedChildren(a); len(kids) == 1 {
				val = l.lower(kids[0])
			} else {
				val = l.generic(a)
			}
			c.Keywords = append(c.Keywords, &Keyword{base: pos(a), Value: val})
		default:
			c.Args = append(c.Args, l.lower(a))
		}
	}
	return c
}

func (l *lowerer) compare(n *sitter.Node) *Compare {
	cmp := &Compare{base: pos(n)}
	var op []string
	first := true
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			op = append(op, c.Type())
			continue
		}
		if c.Type() == "comment" {
			continue
		}
		if first {
			cmp.Left = l.lower(c)
			first = false
			continue
		}
		cmp.Ops = append(cmp.Ops, strings.Join(op, " "))
		cmp.Comparators = append(cmp.Comparators, l.lower(c))
		op = op[:0]
	}
	return cmp
}

func (l *lowerer) str(n *sitter.Node) Node {
	lit, ok := splitStringLiteral(l.text(n))
	if !ok {
		return l.generic(n)
	}
	if lit.fmt {
		g := &Generic{base: pos(n), Type: "fstring", Text: lit.body}
		g.Children = l.lowerAll(interpolations(n))
		return g
	}
	kind := String
	if lit.bytes {
		kind = Bytes
	}
	return &Constant{base: pos(n), Kind: kind, Value: lit.decode()}
}

// interpolations collects the embedded expressions of an f-string.
func interpolations(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "interpolation" {
			if kids := namedChildren(c); len(kids) > 0 {
				out = append(out, kids[0])
			}
			continue
		}
		out = append(out, interpolations(c)...)
	}
	return out
}

func (l *lowerer) concatenated(n *sitter.Node) Node {
	parts := l.lowerAll(namedChildren(n))
	var b strings.Builder
	kind := String
	for i, p := range parts {
		c, ok := p.(*Constant)
		if !ok || (i > 0 && c.Kind != kind) {
			return &Generic{base: pos(n), Type: "concatenated_string", Children: parts}
		}
		kind = c.Kind
		b.WriteString(c.Value)
	}
	return &Constant{base: pos(n), Kind: kind, Value: b.String()}
}
