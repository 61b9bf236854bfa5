package deba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jward/deba/internal/config"
	"github.com/jward/deba/internal/deps"
	"github.com/jward/deba/internal/scope"
	"github.com/jward/deba/internal/store"
)

// Engine orchestrates the deba pipeline: stage script listing, dependency
// scanning with an optional analysis cache, validation, and Make rule
// emission.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	// store is nil when no cache is configured.
	store     *store.Store
	cachePath string

	// useParallel enables the worker pool for stage analysis.
	useParallel bool
	workers     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithParallel controls parallel analysis. When true, AnalyzeStage scans
// scripts on a worker pool where every worker owns its own module resolver.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithWorkers caps the worker pool size. Zero or less means one worker per
// CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithCache enables the SQLite analysis cache at dbPath. Scripts whose
// source and loaded modules are unchanged since the last run are not
// scanned again.
func WithCache(dbPath string) Option {
	return func(e *Engine) {
		e.cachePath = dbPath
	}
}

// New creates an Engine for a loaded configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cachePath != "" {
		if err := os.MkdirAll(filepath.Dir(e.cachePath), 0o755); err != nil {
			return nil, fmt.Errorf("deba: create cache dir: %w", err)
		}
		s, err := store.NewStore(e.cachePath)
		if err != nil {
			return nil, fmt.Errorf("deba: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("deba: migrate: %w", err)
		}
		e.store = s
	}
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Config returns the configuration the Engine was created with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Store returns the analysis cache, or nil when caching is disabled.
func (e *Engine) Store() *store.Store {
	return e.store
}

// patternsHash identifies everything besides file content that a scan
// result depends on.
func (e *Engine) patternsHash() string {
	p := e.cfg.Patterns
	return store.HashStrings(p.Prerequisites, p.References, p.Targets, e.cfg.ScriptSearchPaths())
}

func (e *Engine) newResolver() *scope.Resolver {
	return scope.NewResolver(e.cfg.ScriptSearchPaths(), scope.WithLogger(e.logger))
}

func (e *Engine) newFinder(r *scope.Resolver) *deps.Finder {
	return deps.NewFinder(r, e.cfg.PatternSet(), e.logger)
}

// StageNotFoundError reports an unknown stage name.
type StageNotFoundError struct {
	Name      string
	Available []string
}

func (e *StageNotFoundError) Error() string {
	quoted := make([]string, len(e.Available))
	for i, s := range e.Available {
		quoted[i] = strconv.Quote(s)
	}
	return fmt.Sprintf("stage %s not found, available stages are: [%s]",
		strconv.Quote(e.Name), strings.Join(quoted, ", "))
}

func (e *Engine) stage(name string) (*config.Stage, error) {
	s, ok := e.cfg.Stage(name)
	if !ok {
		return nil, &StageNotFoundError{Name: name, Available: e.cfg.StageNames()}
	}
	return s, nil
}

// AnalyzeStage scans every script of the named stage and returns one result
// per script in script order. A script that fails to scan has Err set; the
// returned error is reserved for failures of the stage as a whole.
func (e *Engine) AnalyzeStage(ctx context.Context, name string) ([]ScriptResult, error) {
	stage, err := e.stage(name)
	if err != nil {
		return nil, err
	}
	scripts, err := stage.Scripts(e.cfg)
	if err != nil {
		return nil, err
	}

	cache := e.cachedStage(name)
	results := make([]ScriptResult, len(scripts))
	var pending []int
	for i, sc := range scripts {
		results[i].Script = sc
		if a := cache[sc.Path]; a != nil {
			results[i].Result = &deps.Result{
				Prerequisites: a.Prerequisites,
				References:    a.References,
				Targets:       a.Targets,
				Files:         filePaths(a.Files),
			}
			results[i].Cached = true
			e.logger.Info("unchanged, using cached analysis", "script", sc.Name, "stage", name)
			continue
		}
		pending = append(pending, i)
	}

	if e.useParallel && len(pending) > 1 {
		err = e.analyzeParallel(ctx, results, pending)
	} else {
		err = e.analyzeSerial(ctx, results, pending)
	}
	if err != nil {
		return nil, err
	}

	if err := e.updateCache(name, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) analyzeSerial(ctx context.Context, results []ScriptResult, pending []int) error {
	if len(pending) == 0 {
		return nil
	}
	r := e.newResolver()
	defer r.Close()
	f := e.newFinder(r)
	for _, i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		results[i].Result, results[i].Err = f.FindDependencies(results[i].Script.Path)
	}
	return nil
}

// cachedStage returns the still valid cached analyses of a stage keyed by
// script path.
func (e *Engine) cachedStage(stage string) map[string]*store.Analysis {
	if e.store == nil {
		return nil
	}
	analyses, err := e.store.AnalysesByStage(stage)
	if err != nil {
		e.logger.Warn("reading analysis cache", "stage", stage, "error", err)
		return nil
	}
	hash := e.patternsHash()
	fresh := make(map[string]*store.Analysis, len(analyses))
	for _, a := range analyses {
		if a.Fresh(hash) {
			fresh[a.Path] = a
		}
	}
	return fresh
}

// ErrNoCache is returned by operations that need the analysis cache when
// the Engine was built without WithCache.
var ErrNoCache = errors.New("deba: no analysis cache configured")

// Dependent is a cached script whose last scan loaded a given module file.
type Dependent struct {
	Stage  string
	Script string
	// Stale reports that one of the files the scan loaded has changed since.
	Stale bool
}

// Dependents lists the cached scripts whose last scan loaded the module file
// at path, ordered by script path.
func (e *Engine) Dependents(path string) ([]Dependent, error) {
	if e.store == nil {
		return nil, ErrNoCache
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("deba: resolving %s: %w", path, err)
	}
	scripts, err := e.store.ScriptsUsingFile(abs)
	if err != nil {
		return nil, err
	}
	hash := e.patternsHash()
	var out []Dependent
	for _, p := range scripts {
		a, err := e.store.AnalysisByPath(p)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		out = append(out, Dependent{
			Stage:  a.Stage,
			Script: filepath.Base(a.Path),
			Stale:  !a.Fresh(hash),
		})
	}
	return out, nil
}

// updateCache stores fresh results and drops entries of removed scripts.
// Failed scans are not cached.
func (e *Engine) updateCache(stage string, results []ScriptResult) error {
	if e.store == nil {
		return nil
	}
	now := time.Now()
	hash := e.patternsHash()
	var batch []*store.Analysis
	keep := make([]string, 0, len(results))
	for _, res := range results {
		keep = append(keep, res.Script.Path)
		if res.Cached {
			continue
		}
		if res.Err != nil {
			if err := e.store.DeleteAnalysis(res.Script.Path); err != nil {
				return err
			}
			continue
		}
		files, err := store.HashFiles(res.Result.Files)
		if err != nil {
			e.logger.Warn("not caching analysis", "script", res.Script.Name, "error", err)
			continue
		}
		batch = append(batch, &store.Analysis{
			Path:          res.Script.Path,
			Stage:         stage,
			PatternsHash:  hash,
			AnalyzedAt:    now,
			Files:         files,
			Prerequisites: res.Result.Prerequisites,
			References:    res.Result.References,
			Targets:       res.Result.Targets,
		})
	}
	if len(batch) > 0 {
		if err := e.store.CommitBatch(batch); err != nil {
			return err
		}
	}
	n, err := e.store.DeleteStale(stage, keep)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Debug("dropped cached analyses of removed scripts", "stage", stage, "count", n)
	}
	return nil
}

// Debug scans a single script without the cache.
func (e *Engine) Debug(path string) (*deps.Result, error) {
	r := e.newResolver()
	defer r.Close()
	return e.newFinder(r).FindDependencies(path)
}

func filePaths(files []store.FileHash) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
