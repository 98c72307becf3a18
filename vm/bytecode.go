package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies the operation of an Instruction.
type Opcode byte

const (
	OpLoad         Opcode = 0x01 // accumulator <- operand
	OpPush         Opcode = 0x02 // push accumulator
	OpPop          Opcode = 0x03 // accumulator <- pop
	OpWrite        Opcode = 0x10 // stack[fp+operand] <- accumulator
	OpRead         Opcode = 0x11 // accumulator <- stack[fp+operand]
	OpJumpFunction Opcode = 0x20 // call absolute address
	OpReturn       Opcode = 0x21 // return to caller
	OpJumpIfNot    Opcode = 0x22 // jump to absolute address if accumulator is 0
	OpJump         Opcode = 0x23 // jump to absolute address
	OpNative       Opcode = 0x30 // native operation by canonical name
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes what an opcode's operand means.
type OperandKind byte

const (
	OperandNone    OperandKind = iota
	OperandValue               // integer literal
	OperandSlot                // offset relative to the frame pointer
	OperandAddress             // absolute instruction index
	OperandName                // canonical native name
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string // mnemonic used by the text encoding
	Operand OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoad:         {"load", OperandValue},
	OpPush:         {"push", OperandNone},
	OpPop:          {"pop", OperandNone},
	OpWrite:        {"write", OperandSlot},
	OpRead:         {"read", OperandSlot},
	OpJumpFunction: {"jumpFunction", OperandAddress},
	OpReturn:       {"return", OperandNone},
	OpJumpIfNot:    {"jumpIfNot", OperandAddress},
	OpJump:         {"jump", OperandAddress},
	OpNative:       {"native", OperandName},
}

// mnemonics is the reverse of opcodeTable, used by ParseInstruction.
var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a single operation with at most one operand. Arg holds the
// value, slot offset or address; Name holds the native name for OpNative.
type Instruction struct {
	Op   Opcode `cbor:"1,keyasint"`
	Arg  int64  `cbor:"2,keyasint,omitempty"`
	Name string `cbor:"3,keyasint,omitempty"`
}

// Load returns a load instruction.
func Load(value int64) Instruction { return Instruction{Op: OpLoad, Arg: value} }

// Push returns a push instruction.
func Push() Instruction { return Instruction{Op: OpPush} }

// Pop returns a pop instruction.
func Pop() Instruction { return Instruction{Op: OpPop} }

// Write returns a write instruction for a frame-relative slot.
func Write(slot int) Instruction { return Instruction{Op: OpWrite, Arg: int64(slot)} }

// Read returns a read instruction for a frame-relative slot.
func Read(slot int) Instruction { return Instruction{Op: OpRead, Arg: int64(slot)} }

// JumpFunction returns a call to the function starting at address.
func JumpFunction(address int) Instruction {
	return Instruction{Op: OpJumpFunction, Arg: int64(address)}
}

// Return returns a return instruction.
func Return() Instruction { return Instruction{Op: OpReturn} }

// JumpIfNot returns a conditional jump to address.
func JumpIfNot(address int) Instruction {
	return Instruction{Op: OpJumpIfNot, Arg: int64(address)}
}

// Jump returns an unconditional jump to address.
func Jump(address int) Instruction { return Instruction{Op: OpJump, Arg: int64(address)} }

// NativeCall returns a native instruction for the given canonical name.
func NativeCall(name string) Instruction { return Instruction{Op: OpNative, Name: name} }

// String renders the instruction in the reference text encoding,
// e.g. "load 5", "jumpIfNot 12", "native add".
func (ins Instruction) String() string {
	info := ins.Op.Info()
	switch info.Operand {
	case OperandNone:
		return info.Name
	case OperandName:
		return info.Name + " " + ins.Name
	default:
		return info.Name + " " + strconv.FormatInt(ins.Arg, 10)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (ins Instruction) MarshalText() ([]byte, error) {
	if !ins.Op.Valid() {
		return nil, fmt.Errorf("%w: opcode 0x%02X", ErrUnknownInstruction, byte(ins.Op))
	}
	return []byte(ins.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ins *Instruction) UnmarshalText(text []byte) error {
	parsed, err := ParseInstruction(string(text))
	if err != nil {
		return err
	}
	*ins = parsed
	return nil
}

// ParseInstruction decodes one instruction from its text encoding.
func ParseInstruction(text string) (Instruction, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Instruction{}, fmt.Errorf("%w: empty line", ErrUnknownInstruction)
	}
	op, ok := mnemonics[fields[0]]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownInstruction, text)
	}

	info := op.Info()
	if info.Operand == OperandNone {
		if len(fields) != 1 {
			return Instruction{}, fmt.Errorf("%w: %q takes no operand", ErrUnknownInstruction, text)
		}
		return Instruction{Op: op}, nil
	}
	if len(fields) != 2 {
		return Instruction{}, fmt.Errorf("%w: %q needs exactly one operand", ErrUnknownInstruction, text)
	}
	if info.Operand == OperandName {
		return Instruction{Op: op, Name: fields[1]}, nil
	}
	arg, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: bad operand in %q: %v", ErrUnknownInstruction, text, err)
	}
	return Instruction{Op: op, Arg: arg}, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders code as an indexed listing, one instruction per line:
//
//	[0] load 0
//	[1] push
func Disassemble(code []Instruction) string {
	return DisassembleRange(code, 0, len(code))
}

// DisassembleRange renders code[start:end] with absolute indices.
func DisassembleRange(code []Instruction, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(code) {
		end = len(code)
	}
	var b strings.Builder
	for i := start; i < end; i++ {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", i, code[i])
	}
	return b.String()
}
