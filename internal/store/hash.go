package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// HashFile returns the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// HashStrings computes a deterministic hash of ordered string groups. Each
// group is length-prefixed so that moving an item between groups changes
// the hash.
func HashStrings(groups ...[]string) string {
	h := sha256.New()
	for _, g := range groups {
		fmt.Fprintf(h, "group:%d\n", len(g))
		for _, s := range g {
			fmt.Fprintf(h, "%d:%s\n", len(s), s)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// HashFiles hashes each path. Unreadable files are reported as errors.
func HashFiles(paths []string) ([]FileHash, error) {
	out := make([]FileHash, 0, len(paths))
	for _, p := range paths {
		h, err := HashFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, FileHash{Path: p, Hash: h})
	}
	return out, nil
}

// Fresh reports whether every file recorded in a still has the recorded
// hash and a was produced with patternsHash. Missing files make it stale.
func (a *Analysis) Fresh(patternsHash string) bool {
	if a.PatternsHash != patternsHash || len(a.Files) == 0 {
		return false
	}
	for _, f := range a.Files {
		h, err := HashFile(f.Path)
		if err != nil || h != f.Hash {
			return false
		}
	}
	return true
}
