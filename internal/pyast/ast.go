// Package pyast defines the Python syntax tree consumed by the dependency
// analysis packages and lowers tree-sitter's concrete syntax tree into it.
//
// The node set is closed: every construct the analysis cares about has its
// own type, and everything else is kept as a Generic node so that a walk
// still reaches calls nested inside loops, with-blocks, comprehensions and
// so on. Nodes are never mutated after Parse returns.
package pyast

// Pos is a source position. Line is 1-based, Col is a 0-based byte offset.
type Pos struct {
	Line int
	Col  int
}

// Node is implemented by every syntax tree type in this package.
type Node interface {
	Position() Pos
	node()
}

type base struct {
	pos Pos
}

func (b base) Position() Pos { return b.pos }
func (base) node()           {}

// ConstKind discriminates literal constants.
type ConstKind int

const (
	String ConstKind = iota
	Bytes
	Int
	Float
	Bool
	None
	Ellipsis
)

func (k ConstKind) String() string {
	switch k {
	case String:
		return "str"
	case Bytes:
		return "bytes"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case None:
		return "None"
	case Ellipsis:
		return "Ellipsis"
	}
	return "unknown"
}

// Module is a parsed source file.
type Module struct {
	base
	Filename string
	Body     []Node
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	base
	Value Node
}

// Assign is `t1 = t2 = value`. Annotated assignments with a value are
// lowered to an Assign with a single target.
type Assign struct {
	base
	Targets []Node
	Value   Node
}

// FunctionDef covers both def and async def.
type FunctionDef struct {
	base
	Name       string
	Decorators []Node
	Params     Node
	Body       []Node
	Async      bool
}

// ClassDef is a class statement.
type ClassDef struct {
	base
	Name       string
	Decorators []Node
	Bases      []Node
	Body       []Node
}

// Alias is one `name [as asname]` clause of an import.
type Alias struct {
	Name   string
	AsName string
}

// Bound returns the name the alias binds in the importing scope.
func (a Alias) Bound() string {
	if a.AsName != "" {
		return a.AsName
	}
	return a.Name
}

// Import is `import a.b [as c], ...`.
type Import struct {
	base
	Names []Alias
}

// ImportFrom is `from [.]*module import name [as alias], ...`.
type ImportFrom struct {
	base
	Module   string
	Names    []Alias
	Level    int
	Wildcard bool
}

// If is an if statement. elif chains are nested If nodes in Orelse.
type If struct {
	base
	Test   Node
	Body   []Node
	Orelse []Node
}

// Call is a call expression.
type Call struct {
	base
	Func     Node
	Args     []Node
	Keywords []*Keyword
}

// Keyword is a keyword argument. Arg is empty for `**kwargs`.
type Keyword struct {
	base
	Arg   string
	Value Node
}

// Name is an identifier reference.
type Name struct {
	base
	ID string
}

// Attribute is `value.attr`.
type Attribute struct {
	base
	Value Node
	Attr  string
}

// Constant is a literal. Value holds the decoded text for strings and the
// source spelling for everything else.
type Constant struct {
	base
	Kind  ConstKind
	Value string
}

// IsString reports whether c is a str literal.
func (c *Constant) IsString() bool { return c.Kind == String }

// Tuple is a tuple display, an unparenthesized expression list, or a tuple
// target pattern.
type Tuple struct {
	base
	Elts []Node
}

// Compare is a comparison chain `left op1 c1 op2 c2 ...`.
type Compare struct {
	base
	Left        Node
	Ops         []string
	Comparators []Node
}

// Generic holds any construct without a dedicated type. Type is the
// tree-sitter node type. Text carries the operator of operator nodes and the
// source text of leaves.
type Generic struct {
	base
	Type     string
	Text     string
	Children []Node
}

// NewName returns a Name at pos.
func NewName(id string, pos Pos) *Name {
	return &Name{base: base{pos: pos}, ID: id}
}

// NewConstant returns a Constant at pos.
func NewConstant(kind ConstKind, value string, pos Pos) *Constant {
	return &Constant{base: base{pos: pos}, Kind: kind, Value: value}
}

// NewTuple returns a Tuple at pos.
func NewTuple(elts []Node, pos Pos) *Tuple {
	return &Tuple{base: base{pos: pos}, Elts: elts}
}
