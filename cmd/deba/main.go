package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jward/deba"
	"github.com/jward/deba/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagDir     string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "deba",
	Short:         "Derive Make rules from Python data pipeline scripts",
	Long:          "Deba statically scans the scripts of each pipeline stage for the files they read and write, and writes Make rules that rerun a script when its inputs change.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", "", "project directory (default: nearest ancestor holding deba.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug messages")

	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(dependentsCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(astCmd)
	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(dataDirCmd)
	rootCmd.AddCommand(md5DirCmd)
	rootCmd.AddCommand(pythonPathCmd)
	rootCmd.AddCommand(md5Cmd)
	rootCmd.AddCommand(initCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// resolveDir returns the absolute path of the directory given by --dir, or
// of the working directory.
func resolveDir() (string, error) {
	dir := flagDir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findProjectRoot walks up from startDir looking for deba.yaml.
// Returns the directory containing it, or startDir if not found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil && !info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// loadConfig loads deba.yaml of the current project. An explicit --dir is
// used as is.
func loadConfig() (*config.Config, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	if flagDir == "" {
		dir = findProjectRoot(dir)
	}
	return deba.LoadConfig(dir)
}
