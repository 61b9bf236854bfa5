package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ddddddO/gtree"
	"github.com/jward/deba"
	"github.com/jward/deba/internal/pyast"
	"github.com/spf13/cobra"
)

var flagStage string

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Write the Make rules of a stage, or the override rules",
	Long:  "With --stage, scans every script of the stage and writes .deba/deps/<stage>.d. Without it, writes the execution rule overrides to .deba/main.d.",
	Args:  cobra.NoArgs,
	RunE:  runDeps,
}

func init() {
	depsCmd.Flags().StringVar(&flagStage, "stage", "", "stage to scan")
}

func runDeps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	engine, err := deba.New(cfg,
		deba.WithLogger(logger),
		deba.WithParallel(true),
		deba.WithCache(cfg.CachePath()),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	if flagStage == "" {
		_, err = engine.WriteMainRules()
		return err
	}
	_, err = engine.WriteStageRules(context.Background(), flagStage)
	return err
}

var debugCmd = &cobra.Command{
	Use:   "debug <script>",
	Short: "Print the dependencies found in a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return outputError("debug", err)
	}
	engine, err := deba.New(cfg, deba.WithLogger(newLogger()))
	if err != nil {
		return outputError("debug", err)
	}
	defer engine.Close()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return outputError("debug", err)
	}
	res, err := engine.Debug(path)
	if err != nil {
		return outputError("debug", err)
	}
	out := CLIDependencies{
		Script:        args[0],
		Prerequisites: nonNil(res.Prerequisites),
		References:    nonNil(res.References),
		Targets:       nonNil(res.Targets),
	}
	if flagVerbose {
		out.Files = res.Files
	}
	return outputResult(CLIResult{Command: "debug", Results: out})
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <module>",
	Short: "List cached scripts whose last scan loaded a module",
	Long:  "Reads the analysis cache written by deps and prints, as stage/script, every script whose dependencies were found through the given module file. Scripts marked stale will be scanned again on the next deps run.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDependents,
}

func runDependents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return outputError("dependents", err)
	}
	engine, err := deba.New(cfg, deba.WithLogger(newLogger()), deba.WithCache(cfg.CachePath()))
	if err != nil {
		return outputError("dependents", err)
	}
	defer engine.Close()

	dependents, err := engine.Dependents(args[0])
	if err != nil {
		return outputError("dependents", err)
	}
	out := make([]CLIDependent, len(dependents))
	for i, d := range dependents {
		out[i] = CLIDependent{Script: d.Stage + "/" + d.Script, Stale: d.Stale}
	}
	return outputResult(CLIResult{Command: "dependents", Results: out})
}

// errNoMatch makes the test command exit with status 1 once its output has
// been written.
var errNoMatch = errors.New("pattern does not match")

var testCmd = &cobra.Command{
	Use:   "test <pattern> <call>",
	Short: "Match a pattern against a function call",
	Long:  "Compiles a dependency pattern and matches it against a literal call expression, printing the extracted file name. Exits with status 1 when the call does not match.",
	Args:  cobra.ExactArgs(2),
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	file, ok, err := deba.TestPattern(args[0], args[1])
	if err != nil {
		return outputError("test", err)
	}
	if err := outputResult(CLIResult{Command: "test", Results: CLIPatternMatch{Matched: ok, File: file}}); err != nil {
		return err
	}
	if !ok {
		errorHandled = true
		return errNoMatch
	}
	return nil
}

var astCmd = &cobra.Command{
	Use:   "ast <script>",
	Short: "Print the syntax tree of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runAST,
}

// CLIASTNode is the JSON form of the ast command output.
type CLIASTNode struct {
	Label    string       `json:"label"`
	Children []CLIASTNode `json:"children,omitempty"`
}

func runAST(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return outputError("ast", err)
	}
	mod, err := pyast.Parse(src, args[0])
	if err != nil {
		return outputError("ast", err)
	}
	if flagFormat == "json" {
		return outputResult(CLIResult{Command: "ast", Results: astToCLI(mod)})
	}
	root := gtree.NewRoot(pyast.Describe(mod))
	addChildren(root, mod)
	return gtree.OutputFromRoot(stdout, root)
}

func addChildren(parent *gtree.Node, n pyast.Node) {
	for _, c := range pyast.Children(n) {
		addChildren(parent.Add(pyast.Describe(c)), c)
	}
}

func astToCLI(n pyast.Node) CLIASTNode {
	out := CLIASTNode{Label: pyast.Describe(n)}
	for _, c := range pyast.Children(n) {
		out.Children = append(out.Children, astToCLI(c))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
