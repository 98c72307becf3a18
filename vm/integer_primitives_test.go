package vm

import (
	"errors"
	"testing"
)

func TestLookupNativeAliases(t *testing.T) {
	tests := []struct {
		surface string
		want    Native
	}{
		{"add", NativeAdd}, {"+", NativeAdd},
		{"sub", NativeSub}, {"-", NativeSub},
		{"mul", NativeMul}, {"*", NativeMul},
		{"div", NativeDiv}, {"/", NativeDiv},
		{"pot", NativePot}, {"^", NativePot},
		{"equal", NativeEqual}, {"==", NativeEqual},
		{"notequal", NativeNotEqual}, {"!=", NativeNotEqual},
		{"less", NativeLess}, {"<", NativeLess},
		{"less_equal", NativeLessEqual}, {"<=", NativeLessEqual},
		{"greater", NativeGreater}, {">", NativeGreater},
		{"greater_equal", NativeGreaterEqual}, {">=", NativeGreaterEqual},
		{"not", NativeNot}, {"!", NativeNot},
		{"and", NativeAnd}, {"&", NativeAnd},
		{"or", NativeOr}, {"|", NativeOr},
		{"print", NativePrint},
	}
	for _, tt := range tests {
		got, ok := LookupNative(tt.surface)
		if !ok || got != tt.want {
			t.Errorf("LookupNative(%q) = %v, %v; want %v", tt.surface, got, ok, tt.want)
		}
	}

	if _, ok := LookupNative("modulo"); ok {
		t.Error("LookupNative(modulo) should fail")
	}
	if _, ok := CanonicalNative("+"); ok {
		t.Error("CanonicalNative should not accept operator symbols")
	}
	if len(nativeTable) != 15 {
		t.Errorf("native table has %d entries, want 15", len(nativeTable))
	}
}

func TestNativeArity(t *testing.T) {
	if NativeNot.Arity() != 1 || NativePrint.Arity() != 1 {
		t.Error("not and print take one operand")
	}
	if NativeAdd.Arity() != 2 || NativeOr.Arity() != 2 {
		t.Error("add and or take two operands")
	}
}

func TestBinaryOp(t *testing.T) {
	tests := []struct {
		op          Native
		left, right int64
		want        int64
	}{
		{NativeAdd, 2, 3, 5},
		{NativeSub, 5, 2, 3},
		{NativeMul, -4, 3, -12},
		{NativeDiv, 7, 2, 3},
		{NativeDiv, -7, 2, -3},
		{NativePot, -2, 3, -8},
		{NativePot, 2, 10, 1024},
		{NativePot, 5, 0, 1},
		{NativePot, 2, -1, 0},
		{NativePot, 1, -5, 1},
		{NativePot, -1, -3, -1},
		{NativePot, -1, -2, 1},
		{NativeEqual, 3, 3, 1},
		{NativeNotEqual, 3, 3, 0},
		{NativeLess, 2, 3, 1},
		{NativeLessEqual, 3, 3, 1},
		{NativeGreater, 2, 3, 0},
		{NativeGreaterEqual, 2, 3, 0},
		{NativeAnd, 0, 5, 0},
		{NativeAnd, 1, 5, 1},
		{NativeAnd, -1, 5, 0},
		{NativeOr, 0, 5, 1},
		{NativeOr, 0, -5, 0},
	}
	for _, tt := range tests {
		got, err := binaryOp(tt.op, tt.left, tt.right)
		if err != nil {
			t.Errorf("%s(%d, %d): unexpected error %v", tt.op, tt.left, tt.right, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.left, tt.right, got, tt.want)
		}
	}
}

func TestBinaryOpErrors(t *testing.T) {
	if _, err := binaryOp(NativeDiv, 4, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("div(4, 0) error = %v, want ErrDivisionByZero", err)
	}
	if _, err := binaryOp(NativePot, 0, -1); !errors.Is(err, ErrInvalidExponent) {
		t.Errorf("pot(0, -1) error = %v, want ErrInvalidExponent", err)
	}
	if _, err := binaryOp(NativeNot, 1, 1); !errors.Is(err, ErrUnknownNative) {
		t.Errorf("binaryOp(not) error = %v, want ErrUnknownNative", err)
	}
}

func TestCheckExponent(t *testing.T) {
	if err := CheckExponent(-2, 3.5); !errors.Is(err, ErrInvalidExponent) {
		t.Errorf("CheckExponent(-2, 3.5) = %v, want ErrInvalidExponent", err)
	}
	if err := CheckExponent(0, -1); !errors.Is(err, ErrInvalidExponent) {
		t.Errorf("CheckExponent(0, -1) = %v, want ErrInvalidExponent", err)
	}
	for _, c := range [][2]float64{{-2, 3}, {2, 3.5}, {0, 0}, {0, 2}} {
		if err := CheckExponent(c[0], c[1]); err != nil {
			t.Errorf("CheckExponent(%v, %v) = %v, want nil", c[0], c[1], err)
		}
	}
}
