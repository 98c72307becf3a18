package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/manifest"
	"github.com/tom-mohr/compiler/vm"
	"github.com/tom-mohr/compiler/vm/dist"
)

// Extensions of compiled program files.
const (
	chunkExt = ".ivmc" // CBOR chunk with source, verified on load
	textExt  = ".txt"  // instruction listing followed by the function table
)

// call is the function invocation requested on the command line.
type call struct {
	path     string
	function string
	args     []int64
}

// resolveCall reads "file [function [args...]]". Without a file the
// manifest's main file runs with its entry and args; any other file
// defaults to main() without arguments.
func resolveCall(m *manifest.Manifest, args []string) (call, error) {
	c := call{path: m.MainPath(), function: m.Source.Entry, args: m.Run.Args}
	if len(args) == 0 {
		if c.path == "" {
			return c, fmt.Errorf("no program given and no [source] main in %s", manifest.FileName)
		}
		return c, nil
	}

	// The manifest's entry and args belong to its own main file.
	if !samePath(args[0], c.path) {
		c.function = "main"
		c.args = nil
	}
	c.path = args[0]
	if len(args) > 1 {
		c.function = args[1]
		parsed, err := parseArgs(args[2:])
		if err != nil {
			return c, err
		}
		c.args = parsed
	}
	return c, nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// parseArgs converts command line arguments to integers.
func parseArgs(args []string) ([]int64, error) {
	out := make([]int64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer", a)
		}
		out = append(out, v)
	}
	return out, nil
}

func compileSource(name, source string) (*vm.Binary, error) {
	return compiler.CompileString(source)
}

// loadProgram reads a program file. Source files are compiled with
// compile; .ivmc chunks and .txt listings are decoded directly.
func loadProgram(path string, compile func(name, source string) (*vm.Binary, error)) (*vm.Binary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch filepath.Ext(path) {
	case chunkExt:
		chunk, err := dist.UnmarshalChunk(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := dist.VerifyChunk(chunk, compiler.CompileString); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return chunk.Binary, nil
	case textExt:
		bin := &vm.Binary{}
		if err := bin.UnmarshalText(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return bin, nil
	}

	bin, err := compile(path, string(data))
	if err != nil {
		return nil, fmt.Errorf("compiler error: %s: %w", path, err)
	}
	return bin, nil
}

// writeProgram stores bin as a text listing or a CBOR chunk, chosen by the
// extension of out. Chunks embed the source when it is available.
func writeProgram(out, sourcePath string, bin *vm.Binary) error {
	var data []byte
	var err error
	if filepath.Ext(out) == textExt {
		data, err = bin.MarshalText()
	} else {
		source := ""
		if ext := filepath.Ext(sourcePath); ext != chunkExt && ext != textExt {
			raw, readErr := os.ReadFile(sourcePath)
			if readErr != nil {
				return readErr
			}
			source = string(raw)
		}
		var chunk *dist.Chunk
		chunk, err = dist.NewChunk(source, bin)
		if err == nil {
			data, err = dist.MarshalChunk(chunk)
		}
	}
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}
