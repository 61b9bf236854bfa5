package scope

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/deba/internal/pyast"
)

// writeTree creates files under dir. Keys are slash-separated relative paths.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newTestResolver(t *testing.T, files map[string]string) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files)
	r := NewResolver([]string{dir})
	t.Cleanup(r.Close)
	return r, dir
}

func loadStack(t *testing.T, r *Resolver, path string) (*Node, *Stack) {
	t.Helper()
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n, NewStack(n.Bindings())
}

func parseExpr(t *testing.T, src string) pyast.Node {
	t.Helper()
	n, err := pyast.ParseExpr(src)
	require.NoError(t, err)
	return n
}

func constValue(t *testing.T, n *Node) string {
	t.Helper()
	c, ok := n.Syntax.(*pyast.Constant)
	require.True(t, ok, "expected constant, got %T", n.Syntax)
	return c.Value
}

// =============================================================================
// Stack
// =============================================================================

func TestStack_LookupShadowing(t *testing.T) {
	t.Parallel()
	spec := &ModuleSpec{Name: "m", Origin: "/m.py"}
	outer := NewNode(pyast.NewConstant(pyast.String, "outer", pyast.Pos{}), spec, nil)
	inner := NewNode(pyast.NewConstant(pyast.String, "inner", pyast.Pos{}), spec, nil)

	s := NewStack()
	s.Store("x", outer)
	assert.Equal(t, 1, s.Depth())

	pushed := s.Push()
	pushed.Store("x", inner)
	assert.Equal(t, 2, pushed.Depth())

	got, ok := pushed.Lookup("x")
	require.True(t, ok)
	assert.Same(t, inner, got)

	got, ok = s.Lookup("x")
	require.True(t, ok)
	assert.Same(t, outer, got)

	got, ok = pushed.Pop().Lookup("x")
	require.True(t, ok)
	assert.Same(t, outer, got)

	assert.Equal(t, 1, s.Pop().Depth(), "the outermost layer is never popped")
}

func TestStack_PushSharesOuterLayers(t *testing.T) {
	t.Parallel()
	s := NewStack()
	inner := s.Push()
	s.Store("late", NewNode(pyast.NewName("v", pyast.Pos{}), nil, nil))

	_, ok := inner.Lookup("late")
	assert.True(t, ok)
}

func TestStack_DottedLookupUsesChildren(t *testing.T) {
	t.Parallel()
	leaf := NewNode(pyast.NewConstant(pyast.String, "f.csv", pyast.Pos{}), nil, nil)
	cls := NewNode(nil, nil, map[string]*Node{"b": leaf})

	s := NewStack(map[string]*Node{"C": cls, "b": NewNode(nil, nil, nil)})
	got, ok := s.Lookup("C.b")
	require.True(t, ok)
	assert.Same(t, leaf, got)

	_, ok = s.Lookup("C.missing")
	assert.False(t, ok)
	_, ok = s.Lookup("D.b")
	assert.False(t, ok)

	got, ok = s.Dereference(parseExpr(t, "C.b"))
	require.True(t, ok)
	assert.Same(t, leaf, got)

	_, ok = s.Dereference(parseExpr(t, "f().b"))
	assert.False(t, ok)

	syn, ok := s.Resolve(parseExpr(t, "C.b"))
	require.True(t, ok)
	assert.Equal(t, "f.csv", syn.(*pyast.Constant).Value)
}

// =============================================================================
// Scope population
// =============================================================================

func TestPopulate_ClassScopeSeesModuleBindings(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"m.py": "a = 'x.csv'\nclass C:\n    b = a\n",
	})
	_, stack := loadStack(t, r, filepath.Join(dir, "m.py"))

	n, ok := stack.Dereference(parseExpr(t, "C.b"))
	require.True(t, ok)
	assert.Equal(t, "x.csv", constValue(t, n))

	_, ok = stack.Dereference(parseExpr(t, "C.nonexistent"))
	assert.False(t, ok)
}

func TestPopulate_InstanceMethodsIgnored(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"m.py": `class C:
    @classmethod
    def build(cls):
        pass

    @staticmethod
    def helper():
        pass

    def method(self):
        pass

    @property
    def prop(self):
        pass

def free():
    pass
`,
	})
	_, stack := loadStack(t, r, filepath.Join(dir, "m.py"))

	for _, name := range []string{"C.build", "C.helper", "free"} {
		n, ok := stack.Lookup(name)
		require.True(t, ok, name)
		_, isFn := n.Function()
		assert.True(t, isFn, name)
	}
	for _, name := range []string{"C.method", "C.prop"} {
		_, ok := stack.Lookup(name)
		assert.False(t, ok, name)
	}
}

func TestPopulate_Assignments(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"m.py": `a, b = 'a.csv', 'b.csv'
c = d = 'c.csv'
e = a
pair = (a, 'z.csv')
x, y = pair
unknown = compute()
u, v = unknown
class K:
    z = 1
alias = K
`,
	})
	_, stack := loadStack(t, r, filepath.Join(dir, "m.py"))

	expect := map[string]string{
		"a": "a.csv", "b": "b.csv", "c": "c.csv", "d": "c.csv",
		"e": "a.csv", "x": "a.csv", "y": "z.csv",
	}
	for name, want := range expect {
		n, ok := stack.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, constValue(t, n), name)
	}
	for _, name := range []string{"unknown", "u", "v"} {
		_, ok := stack.Lookup(name)
		assert.False(t, ok, name)
	}

	z, ok := stack.Lookup("alias.z")
	require.True(t, ok, "assigning a class keeps its children")
	assert.Equal(t, "1", constValue(t, z))
}

func TestDereference_TupleDoesNotMutate(t *testing.T) {
	t.Parallel()
	spec := &ModuleSpec{Name: "m", Origin: "/m.py"}
	stack := NewStack(map[string]*Node{
		"a": NewNode(pyast.NewConstant(pyast.String, "a.csv", pyast.Pos{}), spec, nil),
	})
	tup := parseExpr(t, "(a, 'b.csv')").(*pyast.Tuple)

	r := NewResolver(nil)
	t.Cleanup(r.Close)

	n, ok := r.Dereference(spec, stack, tup)
	require.True(t, ok)
	resolved := n.Syntax.(*pyast.Tuple)
	assert.Equal(t, "a.csv", resolved.Elts[0].(*pyast.Constant).Value)

	_, stillName := tup.Elts[0].(*pyast.Name)
	assert.True(t, stillName, "the parsed tuple must not be rewritten")

	_, ok = r.Dereference(spec, stack, parseExpr(t, "(a, missing)"))
	assert.False(t, ok)
}

// =============================================================================
// Module loading
// =============================================================================

func TestFindModule_Packages(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"pkg/__init__.py":     "from .consts import IN_FILE\nVERSION = '1'\n",
		"pkg/consts.py":       "IN_FILE = 'in.csv'\n",
		"pkg/sub/__init__.py": "",
		"pkg/sub/deep.py":     "DEEP = 'deep.csv'\n",
		"pkg/__main__.py":     "raise SystemExit(\n",
		"pkg/notes.txt":       "ignored",
		"script.py": `import pkg
import pkg.sub.deep as deep
from pkg import consts
from pkg.sub.deep import DEEP as D
from pkg import missing
import nothere
`,
	})
	_, stack := loadStack(t, r, filepath.Join(dir, "script.py"))

	cases := map[string]string{
		"pkg.IN_FILE":        "in.csv",
		"pkg.VERSION":        "1",
		"pkg.consts.IN_FILE": "in.csv",
		"pkg.sub.deep.DEEP":  "deep.csv",
		"deep.DEEP":          "deep.csv",
		"consts.IN_FILE":     "in.csv",
		"D":                  "deep.csv",
	}
	for path, want := range cases {
		n, ok := stack.Lookup(path)
		require.True(t, ok, path)
		assert.Equal(t, want, constValue(t, n), path)
	}
	for _, name := range []string{"missing", "nothere"} {
		_, ok := stack.Lookup(name)
		assert.False(t, ok, name)
	}

	pkg, _ := stack.Lookup("pkg")
	assert.Equal(t, []string{"IN_FILE", "VERSION", "consts", "sub"}, pkg.Names())
	assert.True(t, pkg.Spec.IsPackage())
}

func TestFindModule_RelativeImports(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver(t, map[string]string{
		"pkg/__init__.py":       "",
		"pkg/a.py":              "A = 'a.csv'\n",
		"pkg/inner/__init__.py": "",
		"pkg/inner/b.py": `from . import c
from .c import C
from .. import a
from ..a import A
`,
		"pkg/inner/c.py": "C = 'c.csv'\n",
	})
	n, err := r.FindModule("pkg.inner.b", nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	stack := NewStack(n.Bindings())

	for path, want := range map[string]string{
		"c.C": "c.csv", "C": "c.csv", "a.A": "a.csv", "A": "a.csv",
	} {
		got, ok := stack.Lookup(path)
		require.True(t, ok, path)
		assert.Equal(t, want, constValue(t, got), path)
	}
}

func TestFindModule_NamespacePackage(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"ns/mod.py": "X = 'x.csv'\n",
		"s.py":      "import ns.mod as m\n",
	})
	spec, ok := r.FindSpec("ns", nil)
	require.True(t, ok)
	assert.Empty(t, spec.Origin)
	assert.True(t, spec.IsPackage())

	n, err := r.FindModule("ns", nil)
	require.NoError(t, err)
	assert.Nil(t, n, "namespace packages have no source to load")

	_, stack := loadStack(t, r, filepath.Join(dir, "s.py"))
	x, ok := stack.Lookup("m.X")
	require.True(t, ok)
	assert.Equal(t, "x.csv", constValue(t, x))
}

func TestFindModule_SearchOrder(t *testing.T) {
	t.Parallel()
	first, second := t.TempDir(), t.TempDir()
	writeTree(t, first, map[string]string{"lib.py": "WHO = 'first'\n"})
	writeTree(t, second, map[string]string{"lib.py": "WHO = 'second'\n", "only.py": ""})

	r := NewResolver([]string{first, second})
	t.Cleanup(r.Close)

	spec, ok := r.FindSpec("lib", nil)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(first, "lib.py"), spec.Origin)

	spec, ok = r.FindSpec("lib", []string{second})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(second, "lib.py"), spec.Origin)

	_, ok = r.FindSpec("only", nil)
	assert.True(t, ok)
}

func TestFindModule_CachedIdentity(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver(t, map[string]string{"m.py": "X = 1\n"})

	a, err := r.FindModule("m", nil)
	require.NoError(t, err)
	b, err := r.FindModule("m", nil)
	require.NoError(t, err)
	assert.Same(t, a, b)

	tree1, err := r.Parse(a.Spec.Origin)
	require.NoError(t, err)
	assert.Same(t, a.Syntax, tree1)
}

func TestFindModule_ImportCycle(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver(t, map[string]string{
		"a.py": "import b\nA = 'a.csv'\n",
		"b.py": "import a\nB = 'b.csv'\n",
	})
	a, err := r.FindModule("a", nil)
	require.NoError(t, err)

	stack := NewStack(a.Bindings())
	got, ok := stack.Lookup("b.a.A")
	require.True(t, ok)
	assert.Equal(t, "a.csv", constValue(t, got))
	got, ok = stack.Lookup("b.B")
	require.True(t, ok)
	assert.Equal(t, "b.csv", constValue(t, got))
}

func TestFindModule_ParseError(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"bad.py":    "def (:\n",
		"script.py": "import bad\n",
	})
	_, err := r.LoadFile(filepath.Join(dir, "script.py"))
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join(dir, "bad.py"), pe.Path)
	assert.Contains(t, err.Error(), "error parsing ")

	var se *pyast.SyntaxError
	assert.True(t, errors.As(err, &se))
}

func TestFindModule_FailedImportStaysFailed(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver(t, map[string]string{
		"broken.py": "def (:\n",
		"helper.py": "import broken\nNAME = 'raw/h.csv'\n",
	})
	_, first := r.FindModule("helper", nil)
	require.Error(t, first)
	_, second := r.FindModule("helper", nil)
	require.Error(t, second)
	assert.Same(t, first, second)

	_, ok := r.Module(&ModuleSpec{Origin: filepath.Join(r.Paths()[0], "helper.py")})
	assert.False(t, ok)
}

func TestFindModule_FailedImportCycleDropsPartialNodes(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver(t, map[string]string{
		"a.py":      "import c\nimport broken\n",
		"c.py":      "import a\nC = 'c.csv'\n",
		"broken.py": "def (:\n",
	})
	_, err := r.FindModule("a", nil)
	require.Error(t, err)

	// c imported the half-built a, so it has to be loaded again and fail.
	_, err = r.FindModule("c", nil)
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join(r.Paths()[0], "broken.py"), pe.Path)
}

func TestLoadFile_NotAFile(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{"empty/readme.md": ""})

	_, err := r.LoadFile(filepath.Join(dir, "nope.py"))
	require.EqualError(t, err, "not a file path: "+filepath.Join(dir, "nope.py"))

	_, err = r.LoadFile(filepath.Join(dir, "empty"))
	require.Error(t, err)
}

func TestTouched(t *testing.T) {
	t.Parallel()
	r, dir := newTestResolver(t, map[string]string{
		"lib.py":    "import helper\n",
		"helper.py": "",
		"other.py":  "",
		"one.py":    "import lib\n",
		"two.py":    "import other\n",
	})

	_, err := r.LoadFile(filepath.Join(dir, "one.py"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "helper.py"),
		filepath.Join(dir, "lib.py"),
		filepath.Join(dir, "one.py"),
	}, r.Touched())

	r.ResetTouched()
	_, err = r.LoadFile(filepath.Join(dir, "two.py"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "other.py"),
		filepath.Join(dir, "two.py"),
	}, r.Touched())
}
