package vm

import (
	"fmt"
	"io"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// callFrame: saved caller state
// ---------------------------------------------------------------------------

// callFrame is pushed by OpJumpFunction and popped by OpReturn.
type callFrame struct {
	returnPosition int // position of the calling instruction
	savedOffset    int // caller's frame pointer
}

// ---------------------------------------------------------------------------
// Interpreter: instruction execution engine
// ---------------------------------------------------------------------------

// Interpreter is the accumulator machine. It executes one instruction at a
// time; the loop that fetches instructions belongs to the caller (see VM.Run).
type Interpreter struct {
	Accumulator int64 // the single scratch register
	Position    int   // index of the next instruction to execute
	Running     bool  // true from Init until the outermost frame returns

	offset int         // frame pointer: base for relative Read/Write
	stack  []int64     // operand stack
	calls  []callFrame // call stack

	out io.Writer
	log commonlog.Logger
}

// NewInterpreter creates an interpreter whose print output goes to out.
// A nil writer discards output.
func NewInterpreter(out io.Writer) *Interpreter {
	if out == nil {
		out = io.Discard
	}
	return &Interpreter{
		stack: make([]int64, 0, 64),
		out:   out,
		log:   commonlog.GetLogger("ivm.vm"),
	}
}

// Offset returns the current frame pointer.
func (i *Interpreter) Offset() int {
	return i.offset
}

// StackDepth returns the number of values on the operand stack.
func (i *Interpreter) StackDepth() int {
	return len(i.stack)
}

// Stack returns a copy of the operand stack, bottom first.
func (i *Interpreter) Stack() []int64 {
	return append([]int64(nil), i.stack...)
}

// CallDepth returns the number of active calls.
func (i *Interpreter) CallDepth() int {
	return len(i.calls)
}

// Init prepares a call to the function at entry using the same convention
// the compiler emits: a zero return slot, then each argument, then a call.
// Any previous state is discarded.
func (i *Interpreter) Init(entry int, args []int64) {
	i.Accumulator = 0
	i.Position = 0
	i.offset = 0
	i.stack = i.stack[:0]
	i.calls = i.calls[:0]

	i.trace("init at %d with %v", entry, args)

	i.stack = append(i.stack, 0)
	i.stack = append(i.stack, args...)
	if len(args) > 0 {
		i.Accumulator = args[len(args)-1]
	}

	i.Running = true
	i.jumpFunction(entry)
}

// Step fetches the instruction at Position from code and executes it.
func (i *Interpreter) Step(code []Instruction) error {
	if !i.Running {
		return i.fail(ErrNotRunning)
	}
	if i.Position < 0 || i.Position >= len(code) {
		return i.fail(fmt.Errorf("%w: %d (program has %d instructions)",
			ErrPositionOutOfRange, i.Position, len(code)))
	}
	return i.Execute(code[i.Position])
}

// Execute runs a single instruction. On error the machine state is left as
// it was before the instruction.
func (i *Interpreter) Execute(ins Instruction) error {
	if i.log.AllowLevel(commonlog.Debug) {
		i.trace("%s", ins)
	}

	switch ins.Op {
	case OpLoad:
		i.Accumulator = ins.Arg

	case OpPush:
		i.stack = append(i.stack, i.Accumulator)

	case OpPop:
		if len(i.stack) == 0 {
			return i.fail(ErrStackUnderflow)
		}
		i.Accumulator = i.stack[len(i.stack)-1]
		i.stack = i.stack[:len(i.stack)-1]

	case OpWrite:
		idx, err := i.slot(ins.Arg)
		if err != nil {
			return i.fail(err)
		}
		i.stack[idx] = i.Accumulator

	case OpRead:
		idx, err := i.slot(ins.Arg)
		if err != nil {
			return i.fail(err)
		}
		i.Accumulator = i.stack[idx]

	case OpJumpFunction:
		i.jumpFunction(int(ins.Arg))
		return nil

	case OpReturn:
		if len(i.calls) == 0 {
			return i.fail(fmt.Errorf("%w: return without a call", ErrStackUnderflow))
		}
		call := i.calls[len(i.calls)-1]
		i.calls = i.calls[:len(i.calls)-1]
		i.Position = call.returnPosition
		i.offset = call.savedOffset
		i.Running = len(i.calls) > 0

	case OpJumpIfNot:
		if i.Accumulator == 0 {
			i.Position = int(ins.Arg)
			return nil
		}

	case OpJump:
		i.Position = int(ins.Arg)
		return nil

	case OpNative:
		if err := i.native(ins.Name); err != nil {
			return i.fail(err)
		}

	default:
		return i.fail(fmt.Errorf("%w: opcode 0x%02X", ErrUnknownInstruction, byte(ins.Op)))
	}

	i.Position++
	return nil
}

// jumpFunction saves the caller and makes the most recently pushed value
// the new frame pointer.
func (i *Interpreter) jumpFunction(address int) {
	i.calls = append(i.calls, callFrame{
		returnPosition: i.Position,
		savedOffset:    i.offset,
	})
	i.offset = len(i.stack) - 1
	i.Position = address
}

// slot converts a frame-relative offset into a checked stack index.
func (i *Interpreter) slot(relative int64) (int, error) {
	idx := int64(i.offset) + relative
	if idx < 0 || idx >= int64(len(i.stack)) {
		return 0, fmt.Errorf("%w: %d (offset %d + %d, depth %d)",
			ErrOutOfBounds, idx, i.offset, relative, len(i.stack))
	}
	return int(idx), nil
}

// native pops the operands of the named operation and leaves the result in
// the accumulator. The stack is not touched when the operation fails.
func (i *Interpreter) native(name string) error {
	n, ok := CanonicalNative(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNative, name)
	}
	arity := n.Arity()
	if len(i.stack) < arity {
		return fmt.Errorf("%w: %s needs %d operands, stack has %d",
			ErrStackUnderflow, name, arity, len(i.stack))
	}
	top := len(i.stack)

	switch n {
	case NativeNot:
		operand := i.stack[top-1]
		i.stack = i.stack[:top-1]
		i.Accumulator = boolInt(operand == 0)
	case NativePrint:
		operand := i.stack[top-1]
		i.stack = i.stack[:top-1]
		fmt.Fprintln(i.out, operand)
		i.Accumulator = operand
	default:
		right := i.stack[top-1]
		left := i.stack[top-2]
		result, err := binaryOp(n, left, right)
		if err != nil {
			return err
		}
		i.stack = i.stack[:top-2]
		i.Accumulator = result
	}
	return nil
}

// fail wraps err with the current machine state.
func (i *Interpreter) fail(err error) error {
	return &RuntimeError{
		Position:    i.Position,
		Offset:      i.offset,
		Accumulator: i.Accumulator,
		Err:         err,
	}
}

func (i *Interpreter) trace(format string, args ...any) {
	if !i.log.AllowLevel(commonlog.Debug) {
		return
	}
	i.log.Debugf("[%d] [off = %d] [acc = %d] [stack = %v] "+format,
		append([]any{i.Position, i.offset, i.Accumulator, i.stack}, args...)...)
}
