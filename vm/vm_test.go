package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestRunFunction(t *testing.T) {
	bin := sampleBinary()
	got, err := RunFunction(context.Background(), bin, "f", []int64{5, 2}, Options{})
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if got != 3 {
		t.Errorf("f(5, 2) = %d, want 3", got)
	}

	if _, err := RunFunction(context.Background(), bin, "nope", nil, Options{}); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("unknown function error = %v", err)
	}
}

func TestRunStepLimit(t *testing.T) {
	bin := &Binary{Code: []Instruction{Jump(0)}, Functions: map[string]int{"loop": 0}}

	m := New(Options{MaxSteps: 100})
	_, err := m.Run(context.Background(), bin, 0, nil)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("error = %v, want ErrStepLimit", err)
	}
	if m.Steps() != 100 {
		t.Errorf("Steps() = %d, want 100", m.Steps())
	}
}

func TestRunCancelled(t *testing.T) {
	bin := &Binary{Code: []Instruction{Jump(0)}, Functions: map[string]int{"loop": 0}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, bin, 0, nil, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunEntryOutOfRange(t *testing.T) {
	bin := sampleBinary()
	if _, err := Run(context.Background(), bin, 99, nil, Options{}); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("error = %v, want ErrPositionOutOfRange", err)
	}
}

func TestRunFailureReturnsNoResult(t *testing.T) {
	// d(a, b): return = div(a, b)
	bin := &Binary{
		Code: []Instruction{
			Read(-1), Push(), Read(0), Push(), NativeCall("div"),
			Write(-2), Pop(), Pop(), Pop(), Return(),
		},
		Functions: map[string]int{"d": 0},
	}

	got, err := RunFunction(context.Background(), bin, "d", []int64{4, 0}, Options{})
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("error = %v, want ErrDivisionByZero", err)
	}
	if got != 0 {
		t.Errorf("result on failure = %d, want 0", got)
	}
}

func TestRunPrintOutput(t *testing.T) {
	// p(x): print(x)
	bin := &Binary{
		Code: []Instruction{
			Read(0), Push(), NativeCall("print"), Pop(), Pop(), Return(),
		},
		Functions: map[string]int{"p": 0},
	}
	var out bytes.Buffer
	if _, err := RunFunction(context.Background(), bin, "p", []int64{-3}, Options{Out: &out}); err != nil {
		t.Fatal(err)
	}
	if out.String() != "-3\n" {
		t.Errorf("output = %q, want %q", out.String(), "-3\n")
	}
}
