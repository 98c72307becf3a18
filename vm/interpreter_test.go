package vm

import (
	"bytes"
	"errors"
	"testing"
)

// subProgram is the code the compiler emits for
//
//	f(a, b)
//	 return = sub(a, b)
func subProgram() []Instruction {
	return []Instruction{
		Read(-1),
		Push(),
		Read(0),
		Push(),
		NativeCall("sub"),
		Write(-2),
		Pop(),
		Pop(),
		Pop(),
		Return(),
	}
}

func runCode(t *testing.T, interp *Interpreter, code []Instruction) error {
	t.Helper()
	for steps := 0; interp.Running; steps++ {
		if steps > 10000 {
			t.Fatal("program did not terminate")
		}
		if err := interp.Step(code); err != nil {
			return err
		}
	}
	return nil
}

func TestInterpreterInit(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(4, []int64{5, 2})

	if !interp.Running {
		t.Error("Running should be true after Init")
	}
	if interp.Position != 4 {
		t.Errorf("Position = %d, want 4", interp.Position)
	}
	if got := interp.Stack(); len(got) != 3 || got[0] != 0 || got[1] != 5 || got[2] != 2 {
		t.Errorf("Stack = %v, want [0 5 2]", got)
	}
	if interp.Offset() != 2 {
		t.Errorf("Offset = %d, want 2", interp.Offset())
	}
	if interp.CallDepth() != 1 {
		t.Errorf("CallDepth = %d, want 1", interp.CallDepth())
	}
}

func TestInterpreterCallAndReturn(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, []int64{5, 2})

	if err := runCode(t, interp, subProgram()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if interp.Accumulator != 3 {
		t.Errorf("result = %d, want 3", interp.Accumulator)
	}
	if interp.StackDepth() != 0 {
		t.Errorf("StackDepth = %d, want 0", interp.StackDepth())
	}
	if interp.CallDepth() != 0 {
		t.Errorf("CallDepth = %d, want 0", interp.CallDepth())
	}
}

func TestInterpreterReinit(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, []int64{10, 1})
	if err := runCode(t, interp, subProgram()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	interp.Init(0, []int64{1, 10})
	if err := runCode(t, interp, subProgram()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if interp.Accumulator != -9 {
		t.Errorf("second result = %d, want -9", interp.Accumulator)
	}
}

func TestInterpreterNestedCall(t *testing.T) {
	// main() calls f(7, 3) and returns its result.
	code := []Instruction{
		// main: frame [ret]
		Load(0), Push(), // placeholder
		Load(7), Push(),
		Load(3), Push(),
		JumpFunction(10),
		Write(0),
		Pop(),
		Return(),
	}
	code = append(code, subProgram()...)

	interp := NewInterpreter(nil)
	interp.Init(0, nil)
	if err := runCode(t, interp, code); err != nil {
		t.Fatalf("run: %v", err)
	}
	if interp.Accumulator != 4 {
		t.Errorf("result = %d, want 4", interp.Accumulator)
	}
	if interp.StackDepth() != 0 {
		t.Errorf("StackDepth = %d, want 0", interp.StackDepth())
	}
}

func TestJumpIfNot(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, nil)

	interp.Accumulator = 0
	if err := interp.Execute(JumpIfNot(7)); err != nil {
		t.Fatal(err)
	}
	if interp.Position != 7 {
		t.Errorf("Position = %d, want 7 after jump taken", interp.Position)
	}

	interp.Accumulator = -1
	if err := interp.Execute(JumpIfNot(2)); err != nil {
		t.Fatal(err)
	}
	if interp.Position != 8 {
		t.Errorf("Position = %d, want 8 after fall through", interp.Position)
	}
}

func TestPrintWritesToOutput(t *testing.T) {
	var out bytes.Buffer
	interp := NewInterpreter(&out)
	interp.Init(0, []int64{42})

	if err := interp.Execute(NativeCall("print")); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want %q", out.String(), "42\n")
	}
	if interp.Accumulator != 42 {
		t.Errorf("Accumulator = %d, want 42", interp.Accumulator)
	}
	if interp.StackDepth() != 1 {
		t.Errorf("StackDepth = %d, want 1", interp.StackDepth())
	}
}

func TestNativeUnary(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, []int64{0})
	if err := interp.Execute(NativeCall("not")); err != nil {
		t.Fatal(err)
	}
	if interp.Accumulator != 1 {
		t.Errorf("not(0) = %d, want 1", interp.Accumulator)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		args []int64
		ins  Instruction
		want error
	}{
		{"read below stack", nil, Read(-5), ErrOutOfBounds},
		{"write above stack", nil, Write(1), ErrOutOfBounds},
		{"unknown native", []int64{1, 2}, NativeCall("modulo"), ErrUnknownNative},
		{"operator symbol at runtime", []int64{1, 2}, NativeCall("+"), ErrUnknownNative},
		{"native underflow", nil, NativeCall("add"), ErrStackUnderflow},
		{"division by zero", []int64{4, 0}, NativeCall("div"), ErrDivisionByZero},
		{"zero to negative power", []int64{0, -2}, NativeCall("pot"), ErrInvalidExponent},
		{"unknown opcode", nil, Instruction{Op: 0x7F}, ErrUnknownInstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp := NewInterpreter(nil)
			interp.Init(0, tt.args)
			before := interp.Stack()

			err := interp.Execute(tt.ins)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var rtErr *RuntimeError
			if !errors.As(err, &rtErr) {
				t.Fatalf("error %T is not a *RuntimeError", err)
			}
			if got := interp.Stack(); len(got) != len(before) {
				t.Errorf("stack changed on failure: %v -> %v", before, got)
			}
		})
	}
}

func TestPopUnderflow(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, nil)
	if err := interp.Execute(Pop()); err != nil {
		t.Fatalf("first pop: %v", err)
	}
	if err := interp.Execute(Pop()); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("pop on empty stack error = %v, want ErrStackUnderflow", err)
	}
}

func TestStepAfterReturn(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(0, nil)
	if err := runCode(t, interp, []Instruction{Pop(), Return()}); err != nil {
		t.Fatal(err)
	}
	if err := interp.Step([]Instruction{Return()}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Step after return error = %v, want ErrNotRunning", err)
	}
}

func TestStepPositionOutOfRange(t *testing.T) {
	interp := NewInterpreter(nil)
	interp.Init(3, nil)
	if err := interp.Step([]Instruction{Return()}); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("error = %v, want ErrPositionOutOfRange", err)
	}
}
