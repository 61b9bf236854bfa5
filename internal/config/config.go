// Package config loads and validates deba.yaml, the project file that
// declares pipeline stages, expression patterns and rule overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	ignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"

	"github.com/jward/deba/internal/pattern"
)

// FileName is the config file looked up in the project root.
const FileName = "deba.yaml"

const (
	DefaultDataDir = "data"
	DefaultMD5Dir  = ".deba/md5"
)

var stageNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]+$`)

// Config is the decoded deba.yaml.
type Config struct {
	// Stages are listed in execution order. Scripts of a stage may only read
	// files produced by the same or earlier stages.
	Stages []Stage `yaml:"stages" validate:"required,min=1,unique=Name,dive"`

	// RootDir locates stage directories and data. Defaults to the directory
	// holding deba.yaml.
	RootDir string `yaml:"root_dir,omitempty"`

	// Targets are built by `make deba`.
	Targets []string `yaml:"targets,omitempty"`

	Patterns Patterns `yaml:"patterns"`

	// Overrides replace generated rules whose target set they match.
	Overrides []ExecutionRule `yaml:"overrides,omitempty" validate:"dive"`

	// PythonPath lists extra module search directories, after the root.
	PythonPath []string `yaml:"python_path,omitempty"`

	EnforceStageOrder bool `yaml:"enforce_stage_order,omitempty"`

	DataDir string `yaml:"data_dir" validate:"required"`
	MD5Dir  string `yaml:"md5_dir" validate:"required"`

	patterns *pattern.Set
}

// Stage is a directory of scripts sharing one execution position.
type Stage struct {
	Name                string   `yaml:"name" validate:"required,stagename"`
	IgnoredScripts      []string `yaml:"ignored_scripts,omitempty"`
	CommonPrerequisites []string `yaml:"common_prerequisites,omitempty"`
	IgnoredTargets      []string `yaml:"ignored_targets,omitempty"`
}

// Patterns holds the expression templates of each role.
type Patterns struct {
	Prerequisites []string `yaml:"prerequisites,omitempty"`
	References    []string `yaml:"references,omitempty"`
	Targets       []string `yaml:"targets,omitempty"`
}

// ExecutionRule is a hand-written make rule:
//
//	<targets> &: <prerequisites>
//		<recipe>
type ExecutionRule struct {
	Target        TargetList `yaml:"target" validate:"required,min=1"`
	Prerequisites []string   `yaml:"prerequisites,omitempty"`
	Recipe        string     `yaml:"recipe" validate:"required"`
}

// Matches reports whether the rule's target set equals targets as a set.
func (r ExecutionRule) Matches(targets []string) bool {
	want := make(map[string]bool, len(r.Target))
	for _, t := range r.Target {
		want[t] = true
	}
	got := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !want[t] {
			return false
		}
		got[t] = true
	}
	return len(got) == len(want)
}

// TargetList decodes from either a single string or a list of strings.
type TargetList []string

func (l *TargetList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = TargetList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

func (l TargetList) MarshalYAML() (any, error) {
	if len(l) == 1 {
		return l[0], nil
	}
	return []string(l), nil
}

// New returns a config rooted at root with default directories.
func New(root string) *Config {
	return &Config{RootDir: root, DataDir: DefaultDataDir, MD5Dir: DefaultMD5Dir}
}

// Load reads, validates and compiles root/deba.yaml.
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolving %s: %w", root, err)
	}
	path := filepath.Join(abs, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("deba config file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data, abs)
}

// Parse decodes config text. root is used when the text sets no root_dir,
// and relative root_dir values are taken relative to it.
func Parse(data []byte, root string) (*Config, error) {
	c := New("")
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", FileName, err)
	}
	switch {
	case c.RootDir == "":
		c.RootDir = root
	case !filepath.IsAbs(c.RootDir):
		c.RootDir = filepath.Join(root, c.RootDir)
	}
	c.DataDir = strings.TrimRight(c.DataDir, "/")
	c.MD5Dir = strings.TrimRight(c.MD5Dir, "/")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stagename", func(fl validator.FieldLevel) bool {
		return stageNameRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints and compiles the patterns.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("config: invalid %s: %s", FileName, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	set, err := pattern.NewSet(c.Patterns.Prerequisites, c.Patterns.References, c.Patterns.Targets)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.patterns = set
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "stagename":
		return fmt.Sprintf("%s %q must match %s", fe.Namespace(), fe.Value(), stageNameRe)
	case "unique":
		return fmt.Sprintf("%s must have unique %s values", fe.Namespace(), fe.Param())
	case "required", "min":
		return fmt.Sprintf("%s is required", fe.Namespace())
	}
	return fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
}

// PatternSet returns the compiled patterns. It is nil until Validate
// succeeds.
func (c *Config) PatternSet() *pattern.Set { return c.patterns }

// Stage returns the stage called name.
func (c *Config) Stage(name string) (*Stage, bool) {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i], true
		}
	}
	return nil, false
}

// StageNames returns stage names in execution order.
func (c *Config) StageNames() []string {
	names := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		names[i] = s.Name
	}
	return names
}

// IsFromLaterStage reports whether file lives under a stage that runs after
// stage. The first path segment of file names its stage.
func (c *Config) IsFromLaterStage(stage, file string) bool {
	fileStage, _, _ := strings.Cut(file, "/")
	i := slices.IndexFunc(c.Stages, func(s Stage) bool { return s.Name == stage })
	if i < 0 {
		return false
	}
	for _, s := range c.Stages[i+1:] {
		if s.Name == fileStage {
			return true
		}
	}
	return false
}

// StageDir is the directory holding the scripts of stage.
func (c *Config) StageDir(stage string) string { return filepath.Join(c.RootDir, stage) }

// Script is a Python file belonging to a stage.
type Script struct {
	Name string // file name, e.g. "a.py"
	Path string // absolute path
}

// Scripts lists the .py files of the stage directory in name order.
// IgnoredScripts entries are gitignore-style patterns matched against the
// file name, so a plain name ignores exactly that file.
func (s *Stage) Scripts(c *Config) ([]Script, error) {
	dir := c.StageDir(s.Name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: listing stage %s: %w", s.Name, err)
	}
	var gi *ignore.GitIgnore
	if len(s.IgnoredScripts) > 0 {
		gi = ignore.CompileIgnoreLines(s.IgnoredScripts...)
	}
	var scripts []Script
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".py" {
			continue
		}
		if gi != nil && gi.MatchesPath(name) {
			continue
		}
		scripts = append(scripts, Script{Name: name, Path: filepath.Join(dir, name)})
	}
	return scripts, nil
}

// ScriptSearchPaths returns the root followed by the python path entries.
func (c *Config) ScriptSearchPaths() []string {
	paths := []string{c.RootDir}
	for _, p := range c.PythonPath {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.RootDir, p)
		}
		paths = append(paths, p)
	}
	return paths
}

// DebaDir is the directory holding generated rule files.
func (c *Config) DebaDir() string { return filepath.Join(c.RootDir, ".deba") }

// DepsDir holds one rule file per stage.
func (c *Config) DepsDir() string { return filepath.Join(c.DebaDir(), "deps") }

// StageDepsPath is the rule file of stage.
func (c *Config) StageDepsPath(stage string) string {
	return filepath.Join(c.DepsDir(), stage+".d")
}

// MainDepsPath holds the override rules.
func (c *Config) MainDepsPath() string { return filepath.Join(c.DebaDir(), "main.d") }

// CachePath is the analysis cache database.
func (c *Config) CachePath() string { return filepath.Join(c.DebaDir(), "cache.db") }

// Marshal encodes the config as YAML, omitting the root when it is the
// directory the file will be written to.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	out.RootDir = ""
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("config: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the config to RootDir/deba.yaml.
func (c *Config) Save() error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	path := filepath.Join(c.RootDir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
