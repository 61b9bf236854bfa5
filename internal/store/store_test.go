package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// writeTestFile writes content to dir/name and returns its path and hash.
func writeTestFile(t *testing.T, dir, name, content string) FileHash {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	h, err := HashFile(path)
	require.NoError(t, err)
	return FileHash{Path: path, Hash: h}
}

func sampleAnalysis(path, stage string, files ...FileHash) *Analysis {
	return &Analysis{
		Path:          path,
		Stage:         stage,
		PatternsHash:  "p1",
		AnalyzedAt:    time.Now().Truncate(time.Second),
		Files:         files,
		Prerequisites: []string{"raw/a.csv", "raw/b.csv", "raw/a.csv"},
		References:    []string{"raw/meta.json"},
		Targets:       []string{"clean/a.csv"},
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"scripts", "script_files", "dependencies"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Analysis operations
// =============================================================================

func TestAnalysis_SaveAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	files := []FileHash{{Path: "/p/clean/a.py", Hash: "h1"}, {Path: "/p/lib.py", Hash: "h2"}}
	a := sampleAnalysis("/p/clean/a.py", "clean", files...)

	require.NoError(t, s.SaveAnalysis(a))
	require.Positive(t, a.ID)

	got, err := s.AnalysisByPath("/p/clean/a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "clean", got.Stage)
	assert.Equal(t, "p1", got.PatternsHash)
	assert.True(t, a.AnalyzedAt.Equal(got.AnalyzedAt))
	assert.Equal(t, files, got.Files)
	assert.Equal(t, []string{"raw/a.csv", "raw/b.csv", "raw/a.csv"}, got.Prerequisites, "order and duplicates are kept")
	assert.Equal(t, []string{"raw/meta.json"}, got.References)
	assert.Equal(t, []string{"clean/a.csv"}, got.Targets)
}

func TestAnalysis_ByPathNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.AnalysisByPath("/nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAnalysis_SaveReplaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.SaveAnalysis(sampleAnalysis("/p/clean/a.py", "clean", FileHash{Path: "/p/clean/a.py", Hash: "h1"})))

	second := &Analysis{
		Path:         "/p/clean/a.py",
		Stage:        "clean",
		PatternsHash: "p2",
		Files:        []FileHash{{Path: "/p/clean/a.py", Hash: "h9"}},
		Targets:      []string{"clean/z.csv"},
	}
	require.NoError(t, s.SaveAnalysis(second))

	got, err := s.AnalysisByPath("/p/clean/a.py")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.PatternsHash)
	assert.Equal(t, []FileHash{{Path: "/p/clean/a.py", Hash: "h9"}}, got.Files)
	assert.Empty(t, got.Prerequisites)
	assert.Equal(t, []string{"clean/z.csv"}, got.Targets)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM dependencies").Scan(&n))
	assert.Equal(t, 1, n, "old rows are removed by cascade")
}

func TestAnalysis_CommitBatchAndByStage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.CommitBatch([]*Analysis{
		sampleAnalysis("/p/clean/b.py", "clean"),
		sampleAnalysis("/p/clean/a.py", "clean"),
		sampleAnalysis("/p/fuse/a.py", "fuse"),
	}))

	got, err := s.AnalysesByStage("clean")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/p/clean/a.py", got[0].Path)
	assert.Equal(t, "/p/clean/b.py", got[1].Path)
	assert.Equal(t, []string{"clean/a.csv"}, got[1].Targets)
}

func TestAnalysis_DeleteStale(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.CommitBatch([]*Analysis{
		sampleAnalysis("/p/clean/a.py", "clean"),
		sampleAnalysis("/p/clean/b.py", "clean"),
		sampleAnalysis("/p/clean/c.py", "clean"),
		sampleAnalysis("/p/fuse/a.py", "fuse"),
	}))

	n, err := s.DeleteStale("clean", []string{"/p/clean/b.py"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clean, err := s.AnalysesByStage("clean")
	require.NoError(t, err)
	require.Len(t, clean, 1)
	assert.Equal(t, "/p/clean/b.py", clean[0].Path)

	n, err = s.DeleteStale("fuse", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAnalysis_Delete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.SaveAnalysis(sampleAnalysis("/p/clean/a.py", "clean")))
	require.NoError(t, s.DeleteAnalysis("/p/clean/a.py"))
	require.NoError(t, s.DeleteAnalysis("/p/clean/a.py"))

	got, err := s.AnalysisByPath("/p/clean/a.py")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScriptsUsingFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	lib := FileHash{Path: "/p/lib.py", Hash: "l"}
	require.NoError(t, s.CommitBatch([]*Analysis{
		sampleAnalysis("/p/clean/b.py", "clean", FileHash{Path: "/p/clean/b.py", Hash: "b"}, lib),
		sampleAnalysis("/p/clean/a.py", "clean", FileHash{Path: "/p/clean/a.py", Hash: "a"}, lib),
		sampleAnalysis("/p/fuse/a.py", "fuse", FileHash{Path: "/p/fuse/a.py", Hash: "f"}),
	}))

	paths, err := s.ScriptsUsingFile("/p/lib.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/clean/a.py", "/p/clean/b.py"}, paths)

	paths, err = s.ScriptsUsingFile("/p/other.py")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

// =============================================================================
// Hashing & freshness
// =============================================================================

func TestHashFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := writeTestFile(t, dir, "a.py", "")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", f.Hash)

	_, err := HashFile(filepath.Join(dir, "missing.py"))
	assert.Error(t, err)
}

func TestHashStrings(t *testing.T) {
	t.Parallel()
	a := HashStrings([]string{"x", "y"}, []string{"z"})
	assert.Equal(t, a, HashStrings([]string{"x", "y"}, []string{"z"}))
	assert.NotEqual(t, a, HashStrings([]string{"x"}, []string{"y", "z"}))
	assert.NotEqual(t, a, HashStrings([]string{"y", "x"}, []string{"z"}))
	assert.NotEqual(t, HashStrings([]string{"ab"}), HashStrings([]string{"a", "b"}))
}

func TestAnalysis_Fresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := writeTestFile(t, dir, "a.py", "import lib\n")
	lib := writeTestFile(t, dir, "lib.py", "X = 1\n")
	a := sampleAnalysis(script.Path, "clean", script, lib)

	assert.True(t, a.Fresh("p1"))
	assert.False(t, a.Fresh("p2"), "pattern change invalidates")

	require.NoError(t, os.WriteFile(lib.Path, []byte("X = 2\n"), 0o644))
	assert.False(t, a.Fresh("p1"), "imported module change invalidates")

	require.NoError(t, os.WriteFile(lib.Path, []byte("X = 1\n"), 0o644))
	assert.True(t, a.Fresh("p1"))

	require.NoError(t, os.Remove(lib.Path))
	assert.False(t, a.Fresh("p1"), "missing file invalidates")

	assert.False(t, (&Analysis{PatternsHash: "p1"}).Fresh("p1"), "no recorded files is never fresh")
}

func TestHashFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.py", "a")
	b := writeTestFile(t, dir, "b.py", "b")

	got, err := HashFiles([]string{a.Path, b.Path})
	require.NoError(t, err)
	assert.Equal(t, []FileHash{a, b}, got)

	_, err = HashFiles([]string{a.Path, filepath.Join(dir, "nope.py")})
	assert.Error(t, err)
}
