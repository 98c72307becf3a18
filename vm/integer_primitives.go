package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Native operations
// ---------------------------------------------------------------------------

// Native is a canonical built-in operation. Several surface spellings may
// resolve to the same Native ("add" and "+" are both NativeAdd).
type Native uint8

const (
	NativeAdd Native = iota + 1
	NativeSub
	NativeMul
	NativeDiv
	NativePot
	NativeEqual
	NativeNotEqual
	NativeLess
	NativeLessEqual
	NativeGreater
	NativeGreaterEqual
	NativeNot
	NativeAnd
	NativeOr
	NativePrint
)

type nativeInfo struct {
	name  string // canonical name, used in OpNative instructions
	arity int
}

var nativeTable = map[Native]nativeInfo{
	NativeAdd:          {"add", 2},
	NativeSub:          {"sub", 2},
	NativeMul:          {"mul", 2},
	NativeDiv:          {"div", 2},
	NativePot:          {"pot", 2},
	NativeEqual:        {"equal", 2},
	NativeNotEqual:     {"notequal", 2},
	NativeLess:         {"less", 2},
	NativeLessEqual:    {"less_equal", 2},
	NativeGreater:      {"greater", 2},
	NativeGreaterEqual: {"greater_equal", 2},
	NativeNot:          {"not", 1},
	NativeAnd:          {"and", 2},
	NativeOr:           {"or", 2},
	NativePrint:        {"print", 1},
}

// surfaceNames maps every accepted spelling to its canonical operation.
var surfaceNames = map[string]Native{
	"add": NativeAdd, "+": NativeAdd,
	"sub": NativeSub, "-": NativeSub,
	"mul": NativeMul, "*": NativeMul,
	"div": NativeDiv, "/": NativeDiv,
	"pot": NativePot, "^": NativePot,
	"equal": NativeEqual, "==": NativeEqual,
	"notequal": NativeNotEqual, "!=": NativeNotEqual,
	"less": NativeLess, "<": NativeLess,
	"less_equal": NativeLessEqual, "<=": NativeLessEqual,
	"greater": NativeGreater, ">": NativeGreater,
	"greater_equal": NativeGreaterEqual, ">=": NativeGreaterEqual,
	"not": NativeNot, "!": NativeNot,
	"and": NativeAnd, "&": NativeAnd,
	"or": NativeOr, "|": NativeOr,
	"print": NativePrint,
}

var canonicalNames = func() map[string]Native {
	m := make(map[string]Native, len(nativeTable))
	for n, info := range nativeTable {
		m[info.name] = n
	}
	return m
}()

// LookupNative resolves a surface name or operator symbol.
func LookupNative(surface string) (Native, bool) {
	n, ok := surfaceNames[surface]
	return n, ok
}

// CanonicalNative resolves a canonical name as carried by OpNative.
// Operator symbols are not accepted here.
func CanonicalNative(name string) (Native, bool) {
	n, ok := canonicalNames[name]
	return n, ok
}

// SurfaceNames returns every spelling the compiler accepts for natives.
func SurfaceNames() []string {
	names := make([]string, 0, len(surfaceNames))
	for s := range surfaceNames {
		names = append(names, s)
	}
	return names
}

// Name returns the canonical name.
func (n Native) Name() string {
	if info, ok := nativeTable[n]; ok {
		return info.name
	}
	return fmt.Sprintf("native(%d)", uint8(n))
}

// Arity returns how many operands the operation pops.
func (n Native) Arity() int {
	return nativeTable[n].arity
}

func (n Native) String() string {
	return n.Name()
}

// ---------------------------------------------------------------------------
// Integer semantics
// ---------------------------------------------------------------------------

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// truthy is the boolean interpretation used by and/or: only values >= 1.
func truthy(v int64) bool {
	return v >= 1
}

// binaryOp computes left <op> right for the two-operand natives.
func binaryOp(n Native, left, right int64) (int64, error) {
	switch n {
	case NativeAdd:
		return left + right, nil
	case NativeSub:
		return left - right, nil
	case NativeMul:
		return left * right, nil
	case NativeDiv:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	case NativePot:
		return intPow(left, right)
	case NativeEqual:
		return boolInt(left == right), nil
	case NativeNotEqual:
		return boolInt(left != right), nil
	case NativeLess:
		return boolInt(left < right), nil
	case NativeLessEqual:
		return boolInt(left <= right), nil
	case NativeGreater:
		return boolInt(left > right), nil
	case NativeGreaterEqual:
		return boolInt(left >= right), nil
	case NativeAnd:
		return boolInt(truthy(left) && truthy(right)), nil
	case NativeOr:
		return boolInt(truthy(left) || truthy(right)), nil
	}
	return 0, fmt.Errorf("%w: %q is not a binary operation", ErrUnknownNative, n.Name())
}

// CheckExponent rejects the base/exponent combinations pot refuses:
// a non-integral exponent with a negative base, and a negative exponent
// with a zero base.
func CheckExponent(base, exponent float64) error {
	if base < 0 && exponent != math.Trunc(exponent) {
		return fmt.Errorf("%w: exponent must be integer if base is negative", ErrInvalidExponent)
	}
	if base == 0 && exponent < 0 {
		return fmt.Errorf("%w: exponent must be non-negative if base is zero", ErrInvalidExponent)
	}
	return nil
}

// intPow computes base^exp on integers. Negative exponents truncate
// toward zero, so only bases of 1 and -1 give a non-zero result.
func intPow(base, exp int64) (int64, error) {
	if err := CheckExponent(float64(base), float64(exp)); err != nil {
		return 0, err
	}
	if exp < 0 {
		switch base {
		case 1:
			return 1, nil
		case -1:
			if exp%2 == 0 {
				return 1, nil
			}
			return -1, nil
		}
		return 0, nil
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result, nil
}
