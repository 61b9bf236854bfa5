package deba

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jward/deba/internal/pattern"
	"github.com/jward/deba/internal/pyast"
	"github.com/jward/deba/internal/store"
)

// TestPattern compiles pattern and matches it against a literal call
// expression with an empty scope. It returns the extracted file name and
// whether the call matched.
func TestPattern(pat, call string) (string, bool, error) {
	p, err := pattern.Compile(pat)
	if err != nil {
		return "", false, err
	}
	expr, err := pyast.ParseExpr(call)
	if err != nil {
		return "", false, err
	}
	c, ok := expr.(*pyast.Call)
	if !ok {
		return "", false, fmt.Errorf("expected a function call, found %s", pyast.Kind(expr))
	}
	file, ok := p.Match(nil, c)
	return file, ok, nil
}

// WriteDigest writes the hex SHA-256 digest of src to dst. dst is only
// rewritten when its content differs, so Make sees a new modification time
// only when src really changed. It reports whether dst was written.
func WriteDigest(src, dst string) (bool, error) {
	digest, err := store.HashFile(src)
	if err != nil {
		return false, err
	}
	old, err := os.ReadFile(dst)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("deba: read %s: %w", dst, err)
	}
	if bytes.Equal(old, []byte(digest)) {
		return false, nil
	}
	if err := writeFile(dst, []byte(digest)); err != nil {
		return false, err
	}
	return true, nil
}
