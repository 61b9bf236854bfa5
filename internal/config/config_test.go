package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `stages:
  - name: clean
    ignored_scripts: [d.py]
    common_prerequisites: [clean/common.py]
  - name: match
    ignored_targets: [tmp.csv]
  - name: fuse
patterns:
  prerequisites:
    - pd.read_csv(r'.+\.csv')
  references:
    - open(r'.+\.json')
  targets:
    - '` + "`*`" + `.to_csv(r".+\.csv")'
overrides:
  - target: fuse/all.csv
    prerequisites: [fuse/a.csv]
    recipe: cat $^ > $@
  - target: [a.csv, b.csv]
    recipe: touch $@
python_path: [lib]
data_dir: output/
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := writeConfig(t, sampleConfig)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, c.RootDir)
	assert.Equal(t, []string{"clean", "match", "fuse"}, c.StageNames())
	assert.Equal(t, "output", c.DataDir, "trailing slash is trimmed")
	assert.Equal(t, DefaultMD5Dir, c.MD5Dir)
	assert.False(t, c.EnforceStageOrder)
	assert.Equal(t, []string{dir, filepath.Join(dir, "lib")}, c.ScriptSearchPaths())

	require.Len(t, c.Overrides, 2)
	assert.Equal(t, TargetList{"fuse/all.csv"}, c.Overrides[0].Target)
	assert.Equal(t, TargetList{"a.csv", "b.csv"}, c.Overrides[1].Target)

	set := c.PatternSet()
	require.NotNil(t, set)
	assert.Len(t, set.Prerequisites, 1)
	assert.Len(t, set.References, 1)
	assert.Len(t, set.Targets, 1)

	stage, ok := c.Stage("clean")
	require.True(t, ok)
	assert.Equal(t, []string{"clean/common.py"}, stage.CommonPrerequisites)
	_, ok = c.Stage("nope")
	assert.False(t, ok)
}

func TestLoad_Paths(t *testing.T) {
	t.Parallel()
	dir := writeConfig(t, "stages:\n  - name: clean\n")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultDataDir, c.DataDir)
	assert.Equal(t, filepath.Join(dir, ".deba"), c.DebaDir())
	assert.Equal(t, filepath.Join(dir, ".deba", "deps", "clean.d"), c.StageDepsPath("clean"))
	assert.Equal(t, filepath.Join(dir, ".deba", "main.d"), c.MainDepsPath())
	assert.Equal(t, filepath.Join(dir, "clean"), c.StageDir("clean"))
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.Equal(t, "deba config file not found: "+filepath.Join(dir, FileName), err.Error())
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no stages",
			content: "data_dir: data\n",
			wantErr: "Config.Stages is required",
		},
		{
			name:    "bad stage name",
			content: "stages:\n  - name: 1st\n",
			wantErr: `Config.Stages[0].Name "1st" must match`,
		},
		{
			name:    "single letter stage name",
			content: "stages:\n  - name: a\n",
			wantErr: "must match",
		},
		{
			name:    "duplicate stages",
			content: "stages:\n  - name: clean\n  - name: clean\n",
			wantErr: "Config.Stages must have unique Name values",
		},
		{
			name:    "override without recipe",
			content: "stages:\n  - name: clean\noverrides:\n  - target: a.csv\n",
			wantErr: "Config.Overrides[0].Recipe is required",
		},
		{
			name:    "bad pattern",
			content: "stages:\n  - name: clean\npatterns:\n  prerequisites: ['read_csv(1)']\n",
			wantErr: "prerequisite pattern #0",
		},
		{
			name:    "malformed yaml",
			content: "stages: [\n",
			wantErr: "unable to parse deba.yaml",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_IsFromLaterStage(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte("stages:\n  - name: clean\n  - name: match\n  - name: fuse\n"), "/p")
	require.NoError(t, err)

	assert.True(t, c.IsFromLaterStage("clean", "match/a.csv"))
	assert.True(t, c.IsFromLaterStage("clean", "fuse/b/c.csv"))
	assert.False(t, c.IsFromLaterStage("match", "clean/a.csv"))
	assert.False(t, c.IsFromLaterStage("match", "match/a.csv"))
	assert.False(t, c.IsFromLaterStage("clean", "raw/a.csv"))
	assert.False(t, c.IsFromLaterStage("clean", "match"), "a bare name has no stage directory")
	assert.False(t, c.IsFromLaterStage("unknown", "fuse/a.csv"))
}

func TestParse_RootDir(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte("root_dir: src\nstages:\n  - name: clean\n"), "/p")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/p", "src"), c.RootDir)

	c, err = Parse([]byte("root_dir: /abs\nstages:\n  - name: clean\n"), "/p")
	require.NoError(t, err)
	assert.Equal(t, "/abs", c.RootDir)
}

func TestStage_Scripts(t *testing.T) {
	t.Parallel()
	dir := writeConfig(t, "stages:\n  - name: clean\n    ignored_scripts: [d.py, 'tmp_*.py']\n")
	stageDir := filepath.Join(dir, "clean")
	require.NoError(t, os.MkdirAll(filepath.Join(stageDir, "sub.py"), 0o755))
	for _, name := range []string{"b.py", "a.py", "d.py", "tmp_x.py", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(stageDir, name), nil, 0o644))
	}

	c, err := Load(dir)
	require.NoError(t, err)
	stage, _ := c.Stage("clean")
	scripts, err := stage.Scripts(c)
	require.NoError(t, err)
	assert.Equal(t, []Script{
		{Name: "a.py", Path: filepath.Join(stageDir, "a.py")},
		{Name: "b.py", Path: filepath.Join(stageDir, "b.py")},
	}, scripts)
}

func TestStage_ScriptsMissingDir(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte("stages:\n  - name: clean\n"), t.TempDir())
	require.NoError(t, err)
	_, err = c.Stages[0].Scripts(c)
	assert.Error(t, err)
}

func TestExecutionRule_Matches(t *testing.T) {
	t.Parallel()
	r := ExecutionRule{Target: TargetList{"a.csv", "b.csv"}}
	assert.True(t, r.Matches([]string{"b.csv", "a.csv"}))
	assert.True(t, r.Matches([]string{"a.csv", "b.csv", "a.csv"}))
	assert.False(t, r.Matches([]string{"a.csv"}))
	assert.False(t, r.Matches([]string{"a.csv", "b.csv", "c.csv"}))
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := New(dir)
	c.Stages = []Stage{{Name: "clean"}}
	c.Overrides = []ExecutionRule{{Target: TargetList{"x.csv"}, Recipe: "touch $@"}}
	require.NoError(t, c.Save())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "target: x.csv")
	assert.NotContains(t, string(data), "root_dir")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, c.Stages, loaded.Stages)
	assert.Equal(t, c.Overrides, loaded.Overrides)
	assert.Equal(t, DefaultDataDir, loaded.DataDir)
}
