// Package vm implements the instruction set and the stack machine that
// executes compiled ivm programs.
//
// This package contains:
//   - The ten-instruction set and its text encoding
//   - The native operation table (arithmetic, comparison, boolean, print)
//   - Binary, the compiler's output artifact
//   - The accumulator-based interpreter with explicit call frames
//
// A Binary is executed by resolving an entry function to its address,
// calling Interpreter.Init and then stepping until the outermost call
// returns. Run wraps that loop.
package vm
