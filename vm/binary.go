package vm

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Binary: compiler output
// ---------------------------------------------------------------------------

// Binary is a compiled program: a flat instruction sequence plus the
// address of every function's first instruction.
type Binary struct {
	Code      []Instruction  `cbor:"1,keyasint"`
	Functions map[string]int `cbor:"2,keyasint"`
}

// Entry resolves a function name to its address.
func (b *Binary) Entry(name string) (int, error) {
	addr, ok := b.Functions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return addr, nil
}

// FunctionNames returns the function names ordered by address.
func (b *Binary) FunctionNames() []string {
	names := make([]string, 0, len(b.Functions))
	for name := range b.Functions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ai, aj := b.Functions[names[i]], b.Functions[names[j]]
		if ai != aj {
			return ai < aj
		}
		return names[i] < names[j]
	})
	return names
}

// FunctionRange returns the [start, end) address range of a function's
// body: from its entry up to the next function's entry or the end of code.
func (b *Binary) FunctionRange(name string) (start, end int, ok bool) {
	start, ok = b.Functions[name]
	if !ok {
		return 0, 0, false
	}
	end = len(b.Code)
	for _, addr := range b.Functions {
		if addr > start && addr < end {
			end = addr
		}
	}
	return start, end, true
}

// Disassemble renders the whole program with function labels.
func (b *Binary) Disassemble() string {
	labels := make(map[int][]string)
	for name, addr := range b.Functions {
		labels[addr] = append(labels[addr], name)
	}
	var sb strings.Builder
	for i, ins := range b.Code {
		names := labels[i]
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i, ins)
	}
	return sb.String()
}

// MarshalText encodes the program as one instruction per line followed by
// one "function <name> <address>" line per function, sorted by name.
func (b *Binary) MarshalText() ([]byte, error) {
	var sb strings.Builder
	for i, ins := range b.Code {
		text, err := ins.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		sb.Write(text)
		sb.WriteByte('\n')
	}
	names := make([]string, 0, len(b.Functions))
	for name := range b.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "function %s %d\n", name, b.Functions[name])
	}
	return []byte(sb.String()), nil
}

// UnmarshalText decodes the format produced by MarshalText.
func (b *Binary) UnmarshalText(text []byte) error {
	code := []Instruction{}
	functions := make(map[string]int)

	scanner := bufio.NewScanner(strings.NewReader(string(text)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "function "); ok {
			fields := strings.Fields(rest)
			if len(fields) != 2 {
				return fmt.Errorf("line %d: malformed function entry %q", lineNo, line)
			}
			addr, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("line %d: bad function address: %w", lineNo, err)
			}
			functions[fields[0]] = addr
			continue
		}
		ins, err := ParseInstruction(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		code = append(code, ins)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	b.Code = code
	b.Functions = functions
	return nil
}
