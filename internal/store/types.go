package store

import "time"

// Dependency kinds stored in the dependencies table.
const (
	KindPrerequisite = "prerequisite"
	KindReference    = "reference"
	KindTarget       = "target"
)

// Analysis is the cached scan result of one script.
type Analysis struct {
	ID    int64
	Path  string
	Stage string
	// PatternsHash identifies the pattern configuration the scan used.
	PatternsHash string
	AnalyzedAt   time.Time

	Files         []FileHash
	Prerequisites []string
	References    []string
	Targets       []string
}

// FileHash records the content hash of a module file at scan time.
type FileHash struct {
	Path string
	Hash string
}
