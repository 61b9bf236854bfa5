package deba

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jward/deba/internal/config"
)

//go:embed deba.mk
var makeInclude []byte

// InitOptions seeds a new deba.yaml.
type InitOptions struct {
	Stages               []string
	Targets              []string
	PrerequisitePatterns []string
	ReferencePatterns    []string
	TargetPatterns       []string
}

// Init prepares dir for use with deba. It writes deba.yaml unless one
// exists, writes deba.mk, and makes sure the Makefile includes deba.mk and
// .gitignore ignores .deba. A nil logger discards output.
func Init(dir string, opts InitOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		c := config.New(dir)
		for _, name := range opts.Stages {
			c.Stages = append(c.Stages, config.Stage{Name: strings.TrimSpace(name)})
		}
		c.Targets = opts.Targets
		c.Patterns = config.Patterns{
			Prerequisites: opts.PrerequisitePatterns,
			References:    opts.ReferencePatterns,
			Targets:       opts.TargetPatterns,
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := c.Save(); err != nil {
			return err
		}
		logger.Info("wrote deba config", "path", cfgPath)
	} else if err != nil {
		return fmt.Errorf("deba: stat %s: %w", cfgPath, err)
	} else {
		logger.Info("deba config found, skipping config initialization", "path", cfgPath)
	}

	mk := filepath.Join(dir, "deba.mk")
	if err := writeFile(mk, makeInclude); err != nil {
		return err
	}
	logger.Info("wrote Make config", "path", mk)

	if err := ensureLine(filepath.Join(dir, "Makefile"), "include deba.mk", logger); err != nil {
		return err
	}
	return ensureLine(filepath.Join(dir, ".gitignore"), ".deba", logger)
}

// ensureLine appends line to path unless a line with the same trimmed text
// is already there. The file is created when missing.
func ensureLine(path, line string, logger *slog.Logger) error {
	found, err := hasLine(path, line)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("deba: open %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "\n%s\n", line); err != nil {
		f.Close()
		return fmt.Errorf("deba: append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("deba: close %s: %w", path, err)
	}
	logger.Info("added line", "line", line, "path", path)
	return nil
}

func hasLine(path, line string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deba: open %s: %w", path, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == line {
			return true, nil
		}
	}
	return false, sc.Err()
}
