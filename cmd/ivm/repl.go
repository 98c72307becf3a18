package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/vm"
)

const (
	historyFile = ".ivm_history"
	promptMain  = "ivm> "
	promptCont  = "...> "

	// replFunction wraps everything typed that is not a definition.
	replFunction = "__repl"
)

var replHeadPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\(\s*([A-Za-z_][A-Za-z0-9_]*\s*(,\s*[A-Za-z_][A-Za-z0-9_]*\s*)*)?\)$`)

// session holds the functions defined so far. Every evaluation recompiles
// the definitions together with a wrapper function around the input.
type session struct {
	defs     []string
	bin      *vm.Binary
	arity    map[string]int
	out      io.Writer
	maxSteps int
}

func newSession(out io.Writer, maxSteps int) *session {
	return &session{out: out, maxSteps: maxSteps, arity: make(map[string]int)}
}

// isDefinition reports whether a first input line starts a function
// definition. A head whose name is already a function or native is a call.
func (s *session) isDefinition(line string) bool {
	if line != strings.TrimLeft(line, " \t") || !replHeadPattern.MatchString(strings.TrimSpace(line)) {
		return false
	}
	name := line[:strings.IndexByte(line, '(')]
	if _, ok := s.arity[name]; ok {
		return false
	}
	_, native := vm.LookupNative(name)
	return !native
}

// needsMore reports whether an input starting with line continues until
// an empty line.
func (s *session) needsMore(line string) bool {
	if s.isDefinition(line) {
		return true
	}
	for _, kw := range []string{"let", "if", "while"} {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), kw); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
			return true
		}
	}
	return false
}

// Define adds function definitions. Nothing changes when they do not compile.
func (s *session) Define(lines []string) error {
	candidate := append(append([]string{}, s.defs...), lines...)
	c := compiler.NewCompiler()
	for _, line := range candidate {
		if err := c.CompileLine(line); err != nil {
			return err
		}
	}
	bin, err := c.Finish()
	if err != nil {
		return err
	}

	s.defs = candidate
	s.bin = bin
	for name := range bin.Functions {
		s.arity[name], _ = c.Arity(name)
	}
	return nil
}

// Evaluate runs input as the body of a fresh function. A single expression
// becomes the function's result.
func (s *session) Evaluate(ctx context.Context, lines []string) (int64, error) {
	src := append([]string{}, s.defs...)
	src = append(src, "", replFunction+"()")
	if len(lines) == 1 && !s.needsMore(lines[0]) && !compiler.IsAssignment(lines[0]) {
		src = append(src, " return = "+strings.TrimSpace(lines[0]))
	} else {
		for _, l := range lines {
			src = append(src, " "+l)
		}
	}

	bin, err := compiler.Compile(src)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return 0, errors.New(ce.Msg)
		}
		return 0, err
	}
	return vm.RunFunction(ctx, bin, replFunction, nil, vm.Options{Out: s.out, MaxSteps: s.maxSteps})
}

// Functions returns the defined function names, sorted.
func (s *session) Functions() []string {
	names := make([]string, 0, len(s.arity))
	for name := range s.arity {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump returns the listing of one function, or of all definitions.
func (s *session) Dump(name string) (string, error) {
	if s.bin == nil {
		return "", errors.New("nothing defined")
	}
	if name == "" {
		return s.bin.Disassemble(), nil
	}
	start, end, ok := s.bin.FunctionRange(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", vm.ErrUnknownFunction, name)
	}
	return vm.DisassembleRange(s.bin.Code, start, end) + "\n", nil
}

// Reset forgets all definitions.
func (s *session) Reset() {
	s.defs = nil
	s.bin = nil
	s.arity = make(map[string]int)
}

// complete offers function, native and keyword names for the word at the
// end of line.
func (s *session) complete(line string) []string {
	start := strings.LastIndexFunc(line, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) + 1
	head, word := line[:start], line[start:]
	if word == "" {
		return nil
	}

	candidates := append(s.Functions(), "let", "if", "while", "return")
	for _, n := range vm.SurfaceNames() {
		if isName(n) {
			candidates = append(candidates, n)
		}
	}
	sort.Strings(candidates)

	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			out = append(out, head+c)
		}
	}
	return out
}

func isName(s string) bool {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return s != ""
}

// runREPL starts an interactive read-eval-print loop
func runREPL(opts *options) {
	fmt.Println("ivm REPL (type :quit to exit, :help for commands)")
	fmt.Println()

	s := newSession(os.Stdout, opts.maxSteps)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(s.complete)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		lines, ok := readInput(ln, s)
		if !ok {
			fmt.Println()
			return
		}
		if len(lines) == 0 {
			continue
		}
		ln.AppendHistory(strings.Join(lines, "\n"))

		first := strings.TrimSpace(lines[0])
		if strings.HasPrefix(first, ":") {
			if !handleREPLCommand(s, first) {
				return
			}
			continue
		}

		if s.isDefinition(lines[0]) {
			if err := s.Define(lines); err != nil {
				fmt.Printf("compiler error: %v\n", err)
			}
			continue
		}

		result, err := s.Evaluate(context.Background(), lines)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(result)
	}
}

// readInput reads one input: a single line, or for definitions and block
// statements every line up to an empty one.
func readInput(ln *liner.State, s *session) ([]string, bool) {
	var lines []string
	for {
		prompt := promptMain
		if len(lines) > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			if len(lines) > 0 {
				return lines, true
			}
			return nil, false
		}
		if err != nil {
			return nil, false
		}

		if len(lines) == 0 {
			if strings.TrimSpace(line) == "" {
				return nil, true
			}
			lines = append(lines, line)
			if !s.needsMore(line) {
				return lines, true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			return lines, true
		}
		lines = append(lines, line)
	}
}

// handleREPLCommand handles REPL meta-commands. It returns false to exit.
func handleREPLCommand(s *session, cmd string) bool {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case ":help", ":h", ":?":
		fmt.Println("REPL Commands:")
		fmt.Println("  :help, :h, :?     Show this help")
		fmt.Println("  :funcs            List defined functions")
		fmt.Println("  :dump [name]      Show the instructions of a function (or of all)")
		fmt.Println("  :reset            Forget all definitions")
		fmt.Println("  :quit, :q         Exit REPL")
		fmt.Println()
		fmt.Println("A line like 'square(x)' starts a definition; its body follows")
		fmt.Println("indented, and an empty line ends it. Anything else is evaluated.")
	case ":funcs":
		for _, fn := range s.Functions() {
			fmt.Printf("  %s/%d\n", fn, s.arity[fn])
		}
	case ":dump":
		listing, err := s.Dump(strings.TrimSpace(arg))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Print(listing)
	case ":reset":
		s.Reset()
		fmt.Println("Definitions cleared")
	case ":quit", ":q":
		return false
	default:
		fmt.Printf("Unknown command: %s (type :help for commands)\n", cmd)
	}
	return true
}
