package main

import (
	"os"
	"path"
	"strings"

	"github.com/jward/deba"
	"github.com/spf13/cobra"
)

// The commands below are read by deba.mk through $(shell ...).

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the configured stages in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError("stages", err)
		}
		return outputResult(CLIResult{Command: "stages", Results: cfg.StageNames()})
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Print the final targets of the pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError("targets", err)
		}
		targets := make([]string, len(cfg.Targets))
		for i, t := range cfg.Targets {
			targets[i] = path.Join(cfg.DataDir, t)
		}
		return outputResult(CLIResult{Command: "targets", Results: targets})
	},
}

var dataDirCmd = &cobra.Command{
	Use:   "data-dir",
	Short: "Print the data directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError("data-dir", err)
		}
		return outputResult(CLIResult{Command: "data-dir", Results: cfg.DataDir})
	},
}

var md5DirCmd = &cobra.Command{
	Use:   "md5-dir",
	Short: "Print the directory holding script digests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError("md5-dir", err)
		}
		return outputResult(CLIResult{Command: "md5-dir", Results: cfg.MD5Dir})
	},
}

var pythonPathCmd = &cobra.Command{
	Use:   "python-path",
	Short: "Print the PYTHONPATH scripts run with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return outputError("python-path", err)
		}
		joined := strings.Join(cfg.ScriptSearchPaths(), string(os.PathListSeparator))
		return outputResult(CLIResult{Command: "python-path", Results: joined})
	},
}

var md5Cmd = &cobra.Command{
	Use:   "md5 <src> <dst>",
	Short: "Write the digest of src to dst when it changed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := deba.WriteDigest(args[0], args[1])
		if err != nil {
			return err
		}
		if written {
			newLogger().Debug("digest updated", "src", args[0], "dst", args[1])
		}
		return nil
	},
}

var (
	flagInitStages        []string
	flagInitTargets       []string
	flagInitPrerequisites []string
	flagInitReferences    []string
	flagInitTargetPattern []string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up deba in a project",
	Long:  "Writes deba.yaml when missing, writes deba.mk, and adds the include line to the Makefile and .deba to .gitignore.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringSliceVar(&flagInitStages, "stages", nil, "comma-separated stage names, in pipeline order")
	initCmd.Flags().StringSliceVar(&flagInitTargets, "targets", nil, "comma-separated final targets, relative to the data directory")
	initCmd.Flags().StringArrayVar(&flagInitPrerequisites, "prerequisite-pattern", nil, "pattern of calls reading inputs (repeatable)")
	initCmd.Flags().StringArrayVar(&flagInitReferences, "reference-pattern", nil, "pattern of calls reading reference files (repeatable)")
	initCmd.Flags().StringArrayVar(&flagInitTargetPattern, "target-pattern", nil, "pattern of calls writing outputs (repeatable)")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveDir()
	if err != nil {
		return err
	}
	return deba.Init(dir, deba.InitOptions{
		Stages:               flagInitStages,
		Targets:              flagInitTargets,
		PrerequisitePatterns: flagInitPrerequisites,
		ReferencePatterns:    flagInitReferences,
		TargetPatterns:       flagInitTargetPattern,
	}, newLogger())
}
