// Package harness runs the assertions embedded in sample programs.
//
// Every full-line comment of the form
//
//	// fact 5 = 120
//
// is a case: call the function with the given integer arguments and expect
// the given result. Other comments are ignored.
package harness

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/vm"
	"golang.org/x/tools/txtar"
)

// Source file extension for programs.
const Ext = ".ivm"

// ---------------------------------------------------------------------------
// Case model
// ---------------------------------------------------------------------------

// Case is one expected call result.
type Case struct {
	Line     int
	Function string
	Args     []int64
	Want     int64
}

func (c Case) String() string {
	parts := []string{c.Function}
	for _, a := range c.Args {
		parts = append(parts, strconv.FormatInt(a, 10))
	}
	return fmt.Sprintf("%s = %d", strings.Join(parts, " "), c.Want)
}

// Result is the outcome of one case.
type Result struct {
	File   string
	Case   Case
	Got    int64
	Passed bool
	Err    error
}

// FileError records a file that could not be read or compiled.
type FileError struct {
	File string
	Err  error
}

// Report collects the results of a run.
type Report struct {
	Results []Result
	Errors  []FileError
}

// ParseCases extracts the cases from source. Lines that are not comments of
// the case shape are skipped.
func ParseCases(source string) []Case {
	var cases []Case
	for i, line := range compiler.SplitLines(source) {
		body, ok := strings.CutPrefix(strings.TrimSpace(line), "//")
		if !ok {
			continue
		}
		if c, ok := parseCase(body); ok {
			c.Line = i + 1
			cases = append(cases, c)
		}
	}
	return cases
}

func parseCase(body string) (Case, bool) {
	lhs, rhs, ok := strings.Cut(body, "=")
	if !ok {
		return Case{}, false
	}
	fields := strings.Fields(lhs)
	if len(fields) == 0 || !isFunctionName(fields[0]) {
		return Case{}, false
	}
	want, err := strconv.ParseInt(strings.TrimSpace(rhs), 10, 64)
	if err != nil {
		return Case{}, false
	}
	c := Case{Function: fields[0], Want: want}
	for _, f := range fields[1:] {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Case{}, false
		}
		c.Args = append(c.Args, v)
	}
	return c, true
}

func isFunctionName(s string) bool {
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !letter && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// CompileFunc turns source into a binary. name identifies the file.
type CompileFunc func(name, source string) (*vm.Binary, error)

// Runner executes cases.
type Runner struct {
	// MaxSteps bounds each case; zero means no limit.
	MaxSteps int
	// Out receives print output of the programs. Defaults to io.Discard.
	Out io.Writer
	// Compile defaults to compiler.CompileString.
	Compile CompileFunc

	log commonlog.Logger
}

var defaultLog = commonlog.GetLogger("ivm.harness")

// NewRunner returns a runner with default settings.
func NewRunner() *Runner {
	return &Runner{log: defaultLog}
}

// logger never writes to r, so a Runner built as a literal is still safe
// to share between goroutines.
func (r *Runner) logger() commonlog.Logger {
	if r.log == nil {
		return defaultLog
	}
	return r.log
}

func (r *Runner) compile(name, source string) (*vm.Binary, error) {
	if r.Compile != nil {
		return r.Compile(name, source)
	}
	return compiler.CompileString(source)
}

// RunSource compiles source once and runs all of its cases. A compile
// failure is returned as an error.
func (r *Runner) RunSource(ctx context.Context, name, source string) ([]Result, error) {
	cases := ParseCases(source)
	bin, err := r.compile(name, source)
	if err != nil {
		return nil, err
	}
	out := r.Out
	if out == nil {
		out = io.Discard
	}

	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		res := Result{File: name, Case: c}
		res.Got, res.Err = vm.RunFunction(ctx, bin, c.Function, c.Args, vm.Options{Out: out, MaxSteps: r.MaxSteps})
		res.Passed = res.Err == nil && res.Got == c.Want
		if res.Passed {
			r.logger().Debugf("%s:%d %s ok", name, c.Line, c)
		} else {
			r.logger().Infof("%s:%d %s failed (got %d, err %v)", name, c.Line, c, res.Got, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunPath runs a program file, a txtar archive, or every program and
// archive below a directory.
func (r *Runner) RunPath(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	if !info.IsDir() {
		r.runFile(ctx, path, report)
		return report, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case Ext, ".txtar":
			r.runFile(ctx, p, report)
		}
		return ctx.Err()
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) runFile(ctx context.Context, path string, report *Report) {
	if filepath.Ext(path) == ".txtar" {
		if err := r.runArchive(ctx, path, report); err != nil {
			report.Errors = append(report.Errors, FileError{File: path, Err: err})
		}
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		report.Errors = append(report.Errors, FileError{File: path, Err: err})
		return
	}
	r.addSource(ctx, path, string(data), report)
}

// RunArchive runs every program stored in a txtar archive.
func (r *Runner) RunArchive(ctx context.Context, path string) (*Report, error) {
	report := &Report{}
	if err := r.runArchive(ctx, path, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) runArchive(ctx context.Context, path string, report *Report) error {
	ar, err := txtar.ParseFile(path)
	if err != nil {
		return err
	}
	r.addArchive(ctx, path, ar, report)
	return nil
}

// RunArchiveData runs the programs of an in-memory txtar archive.
func (r *Runner) RunArchiveData(ctx context.Context, name string, data []byte) *Report {
	report := &Report{}
	r.addArchive(ctx, name, txtar.Parse(data), report)
	return report
}

func (r *Runner) addArchive(ctx context.Context, name string, ar *txtar.Archive, report *Report) {
	for _, f := range ar.Files {
		if filepath.Ext(f.Name) != Ext {
			continue
		}
		r.addSource(ctx, name+"/"+f.Name, string(f.Data), report)
	}
}

func (r *Runner) addSource(ctx context.Context, name, source string, report *Report) {
	results, err := r.RunSource(ctx, name, source)
	if err != nil {
		report.Errors = append(report.Errors, FileError{File: name, Err: err})
		return
	}
	report.Results = append(report.Results, results...)
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

// Tally returns passed, failed and total case counts. Files that failed to
// compile count as one failure each.
func (rep *Report) Tally() (passed, failed, total int) {
	for _, res := range rep.Results {
		if res.Passed {
			passed++
		} else {
			failed++
		}
	}
	failed += len(rep.Errors)
	return passed, failed, passed + failed
}

// OK reports whether everything passed.
func (rep *Report) OK() bool {
	_, failed, _ := rep.Tally()
	return failed == 0
}

// Merge appends other's results and errors.
func (rep *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	rep.Results = append(rep.Results, other.Results...)
	rep.Errors = append(rep.Errors, other.Errors...)
}

// Write prints failures (and passes when verbose) followed by a summary.
func (rep *Report) Write(w io.Writer, verbose bool) {
	for _, fe := range rep.Errors {
		fmt.Fprintf(w, "FAIL %s: %v\n", fe.File, fe.Err)
	}
	for _, res := range rep.Results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(w, "FAIL %s:%d %s: %v\n", res.File, res.Case.Line, res.Case, res.Err)
		case !res.Passed:
			fmt.Fprintf(w, "FAIL %s:%d %s: got %d\n", res.File, res.Case.Line, res.Case, res.Got)
		case verbose:
			fmt.Fprintf(w, "ok   %s:%d %s\n", res.File, res.Case.Line, res.Case)
		}
	}

	passed, failed, total := rep.Tally()
	switch {
	case total == 0:
		fmt.Fprintln(w, "No test cases found.")
	case failed > 0:
		fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", passed, failed, total)
	default:
		fmt.Fprintf(w, "Results: %d passed, %d total\n", passed, total)
	}
}
