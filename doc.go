// Package deba statically discovers what the scripts of a data pipeline read
// and write, and turns that into Make rules so that only scripts whose inputs
// changed are run again.
//
// # Pipeline
//
// A project is a directory with a deba.yaml and one directory per stage.
// Stages run in the order they are configured. For each script of a stage,
// deba:
//
//  1. Parses the script and binds its top-level statements: imports,
//     assignments, functions and classes.
//  2. Walks the `if __name__ == "__main__":` block and classifies every call
//     with the configured patterns as a target, prerequisite or reference.
//     Calls to user functions that match no pattern are followed into the
//     function body.
//  3. Validates the result against the stage layout and writes a grouped
//     Make rule to .deba/deps/<stage>.d.
//
// # Usage
//
//	cfg, err := deba.LoadConfig(".")
//	if err != nil { ... }
//	e, err := deba.New(cfg, deba.WithParallel(true), deba.WithCache(cfg.CachePath()))
//	if err != nil { ... }
//	defer e.Close()
//
//	path, err := e.WriteStageRules(ctx, "clean")
//
// # Patterns
//
// A pattern is a call expression with exactly one string literal, which is a
// regular expression the extracted file name must match:
//
//	pd.read_csv(r'.+\.csv')
//	`*`.to_csv(r'.+\.csv')
//
// Backticks enclose a glob matched against a name, so the second pattern
// matches to_csv on any variable. Use [TestPattern] to try one out.
//
// # Incremental analysis
//
// [WithCache] stores each scan in SQLite together with the hashes of every
// module file it loaded. A script is scanned again only when one of those
// files or the patterns change.
package deba
