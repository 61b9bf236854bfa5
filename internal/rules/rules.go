// Package rules turns the dependencies found for each script into Make
// rules, checking them against the stage layout first.
package rules

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jward/deba/internal/config"
	"github.com/jward/deba/internal/deps"
)

// InvalidDependencyError reports a dependency that breaks the stage layout.
type InvalidDependencyError struct {
	Script string
	File   string
	Msg    string
}

func (e *InvalidDependencyError) Error() string { return e.Msg }

// Rule is the Make rule of one script.
type Rule struct {
	Stage string
	// Script is relative to the root, e.g. "clean/a.py".
	Script        string
	Targets       []string
	Prerequisites []string
	References    []string
	// Common lists stage-wide prerequisites; they are scripts, so the rule
	// depends on their digests.
	Common []string
}

// Builder validates scan results and produces rules.
type Builder struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewBuilder returns a Builder. A nil logger discards output.
func NewBuilder(cfg *config.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build validates the dependencies of script and returns its rule. A nil
// rule with a nil error means the script needs no rule: it has no targets,
// no prerequisites, or an override already produces its targets.
func (b *Builder) Build(stage *config.Stage, script string, res *deps.Result) (*Rule, error) {
	rel := path.Join(stage.Name, script)
	targets := slices.DeleteFunc(slices.Clone(res.Targets), func(t string) bool {
		return slices.Contains(stage.IgnoredTargets, t)
	})

	if err := b.checkPrerequisites(stage, rel, res.Prerequisites); err != nil {
		return nil, err
	}
	if err := b.checkTargets(stage, rel, targets); err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		b.logger.Info("no target, skipping script", "script", rel)
		return nil, nil
	}
	if len(res.Prerequisites) == 0 {
		b.logger.Info("no prerequisite, skipping script", "script", rel)
		return nil, nil
	}
	for i, o := range b.cfg.Overrides {
		if o.Matches(targets) {
			b.logger.Info("override matches targets, skipping script", "script", rel, "override", i)
			return nil, nil
		}
	}

	return &Rule{
		Stage:         stage.Name,
		Script:        rel,
		Targets:       targets,
		Prerequisites: slices.Clone(res.Prerequisites),
		References:    slices.Clone(res.References),
		Common:        slices.Clone(stage.CommonPrerequisites),
	}, nil
}

func (b *Builder) checkPrerequisites(stage *config.Stage, rel string, files []string) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f] {
			b.logger.Warn("prerequisite found more than once", "script", rel, "file", f)
		}
		seen[f] = true
		if b.cfg.EnforceStageOrder && b.cfg.IsFromLaterStage(stage.Name, f) {
			return &InvalidDependencyError{
				Script: rel,
				File:   f,
				Msg:    fmt.Sprintf("prerequisite %s of script %s comes from a later stage", strconv.Quote(f), rel),
			}
		}
	}
	return nil
}

func (b *Builder) checkTargets(stage *config.Stage, rel string, files []string) error {
	prefix := stage.Name + "/"
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f] {
			b.logger.Warn("target found more than once", "script", rel, "file", f)
		}
		seen[f] = true
		if !strings.HasPrefix(f, prefix) {
			return &InvalidDependencyError{
				Script: rel,
				File:   f,
				Msg: fmt.Sprintf("target %s of script %s must start with %s",
					strconv.Quote(f), rel, strconv.Quote(prefix)),
			}
		}
	}
	return nil
}
