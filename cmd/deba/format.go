package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

var validFormats = []string{"json", "text"}

// CLIResult is the JSON envelope of every command output.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CLIDependencies is the output of the debug command.
type CLIDependencies struct {
	Script        string   `json:"script"`
	Prerequisites []string `json:"prerequisites"`
	References    []string `json:"references"`
	Targets       []string `json:"targets"`
	Files         []string `json:"files,omitempty"`
}

// CLIDependent is one line of the dependents command output.
type CLIDependent struct {
	Script string `json:"script"`
	Stale  bool   `json:"stale"`
}

// CLIPatternMatch is the output of the test command.
type CLIPatternMatch struct {
	Matched bool   `json:"matched"`
	File    string `json:"file,omitempty"`
}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func outputResultText(result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIDependencies:
		formatDependenciesText(v)
	case CLIPatternMatch:
		if v.Matched {
			fmt.Fprintf(stdout, "Extracted %q\n", v.File)
		} else {
			fmt.Fprintln(stdout, "Does not match")
		}
	case []CLIDependent:
		for _, d := range v {
			if d.Stale {
				fmt.Fprintf(stdout, "%s (stale)\n", d.Script)
			} else {
				fmt.Fprintln(stdout, d.Script)
			}
		}
	case []string:
		// Make reads these with $(shell ...), so they go on one line.
		fmt.Fprintln(stdout, strings.Join(v, " "))
	case string:
		fmt.Fprintln(stdout, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatDependenciesText(d CLIDependencies) {
	fmt.Fprintf(stdout, "%s:\n", d.Script)
	section := func(name string, items []string) {
		fmt.Fprintf(stdout, "  %s:\n", name)
		for _, item := range items {
			fmt.Fprintf(stdout, "    %s\n", item)
		}
	}
	section("prerequisites", d.Prerequisites)
	section("references", d.References)
	section("targets", d.Targets)
}
