package deba

import (
	"github.com/jward/deba/internal/config"
	"github.com/jward/deba/internal/deps"
	"github.com/jward/deba/internal/rules"
)

// Public aliases for internal types that appear in the Engine API.

type Config = config.Config
type Stage = config.Stage
type Script = config.Script
type Result = deps.Result
type Rule = rules.Rule

// LoadConfig reads and validates deba.yaml in dir.
func LoadConfig(dir string) (*Config, error) {
	return config.Load(dir)
}

// ScriptResult is the outcome of scanning one script of a stage.
type ScriptResult struct {
	Script Script
	// Result is nil when Err is set.
	Result *Result
	Err    error
	// Cached reports that Result came from the analysis cache.
	Cached bool
}
