package deba

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/deba/internal/rules"
)

// StageRules analyzes a stage and builds its rules. It stops at the first
// script that fails to scan or validate.
func (e *Engine) StageRules(ctx context.Context, name string) ([]*Rule, error) {
	results, err := e.AnalyzeStage(ctx, name)
	if err != nil {
		return nil, err
	}
	stage, err := e.stage(name)
	if err != nil {
		return nil, err
	}
	b := rules.NewBuilder(e.cfg, e.logger)
	var out []*Rule
	for _, res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		r, err := b.Build(stage, res.Script.Name, res.Result)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// WriteStageRules writes .deba/deps/<stage>.d and returns its path. The
// previous file is left untouched when analysis fails.
func (e *Engine) WriteStageRules(ctx context.Context, name string) (string, error) {
	rs, err := e.StageRules(ctx, name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := rules.WriteStage(&buf, name, rs); err != nil {
		return "", err
	}
	path := e.cfg.StageDepsPath(name)
	if err := writeFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	e.logger.Info("wrote stage rules", "stage", name, "path", path, "rules", len(rs))
	return path, nil
}

// WriteMainRules writes the configured override rules to .deba/main.d and
// returns its path.
func (e *Engine) WriteMainRules() (string, error) {
	var buf bytes.Buffer
	if err := rules.WriteOverrides(&buf, e.cfg.Overrides); err != nil {
		return "", err
	}
	path := e.cfg.MainDepsPath()
	if err := writeFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	e.logger.Info("wrote override rules", "path", path, "rules", len(e.cfg.Overrides))
	return path, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("deba: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("deba: write %s: %w", path, err)
	}
	return nil
}
