package rules

import (
	"fmt"
	"io"
	"strings"

	"github.com/jward/deba/internal/config"
)

// Make variables the generated rules expect deba.mk to define.
const (
	DataDirVar = "$(DEBA_DATA_DIR)"
	MD5DirVar  = "$(DEBA_MD5_DIR)"
)

// Writer emits Make rule text. The first write error sticks and is returned
// by every later call.
type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) printf(format string, args ...any) error {
	if w.err != nil {
		return w.err
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
	return w.err
}

// StageHeader writes the rule that creates the stage's data directory.
func (w *Writer) StageHeader(stage string) error {
	return w.printf("%s/%s: ; @-mkdir -p $@ 2>/dev/null\n\n", DataDirVar, stage)
}

// Rule writes a grouped-target rule for one script:
//
//	<targets> &: <script digest> <prerequisites> <common digests> | <references> <stage dir>
//		$(call deba_execute,<script>)
//
// References are order-only so that a change to them alone does not rerun
// the script.
func (w *Writer) Rule(r *Rule) error {
	normal := []string{fmt.Sprintf("%s/%s.md5", MD5DirVar, r.Script)}
	normal = append(normal, dataPaths(r.Prerequisites)...)
	for _, c := range r.Common {
		normal = append(normal, fmt.Sprintf("%s/%s.md5", MD5DirVar, c))
	}
	orderOnly := append(dataPaths(r.References), DataDirVar+"/"+r.Stage)

	return w.printf("%s &: %s | %s\n\t$(call deba_execute,%s)\n\n",
		strings.Join(dataPaths(r.Targets), " "),
		strings.Join(normal, " "),
		strings.Join(orderOnly, " "),
		r.Script,
	)
}

// Override writes a configured rule verbatim.
func (w *Writer) Override(r config.ExecutionRule) error {
	return w.printf("%s &: %s\n\t%s\n\n",
		strings.Join(dataPaths(r.Target), " "),
		strings.Join(dataPaths(r.Prerequisites), " "),
		r.Recipe,
	)
}

// WriteStage writes the stage file: the directory rule followed by rules.
func WriteStage(out io.Writer, stage string, rules []*Rule) error {
	w := NewWriter(out)
	if err := w.StageHeader(stage); err != nil {
		return err
	}
	for _, r := range rules {
		if err := w.Rule(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteOverrides writes the main rule file.
func WriteOverrides(out io.Writer, overrides []config.ExecutionRule) error {
	w := NewWriter(out)
	for _, r := range overrides {
		if err := w.Override(r); err != nil {
			return err
		}
	}
	return nil
}

func dataPaths(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = DataDirVar + "/" + f
	}
	return out
}
