package dist

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tom-mohr/compiler/vm"
)

// cborEncMode uses canonical options so map keys (the function table) are
// always written in the same order.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal encodes any value with the canonical encoding mode.
func Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// MarshalBinary serializes a Binary to CBOR bytes.
func MarshalBinary(b *vm.Binary) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// UnmarshalBinary deserializes a Binary from CBOR bytes and checks that
// every instruction uses a known opcode.
func UnmarshalBinary(data []byte) (*vm.Binary, error) {
	var b vm.Binary
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("dist: unmarshal binary: %w", err)
	}
	for i, ins := range b.Code {
		if !ins.Op.Valid() {
			return nil, fmt.Errorf("dist: instruction %d: %w: opcode 0x%02X",
				i, vm.ErrUnknownInstruction, byte(ins.Op))
		}
	}
	if b.Functions == nil {
		b.Functions = map[string]int{}
	}
	return &b, nil
}

// HashBinary returns the SHA-256 of the canonical encoding of b.
func HashBinary(b *vm.Binary) ([32]byte, error) {
	data, err := MarshalBinary(b)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// HashSource returns the SHA-256 of source text.
func HashSource(source string) [32]byte {
	return sha256.Sum256([]byte(source))
}

// NewChunk builds a Chunk for a program compiled from source.
func NewChunk(source string, b *vm.Binary) (*Chunk, error) {
	h, err := HashBinary(b)
	if err != nil {
		return nil, fmt.Errorf("dist: hash binary: %w", err)
	}
	return &Chunk{
		SourceHash: HashSource(source),
		BinaryHash: h,
		Version:    FormatVersion,
		Binary:     b,
		Source:     source,
	}, nil
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	if c.Version != FormatVersion {
		return nil, fmt.Errorf("dist: unsupported chunk version %d", c.Version)
	}
	if c.Binary == nil {
		return nil, fmt.Errorf("dist: chunk has no binary")
	}
	return &c, nil
}

// VerifyChunk checks that the chunk's binary matches its declared hash and,
// when the chunk carries source, that recompiling it reproduces that hash.
//
// The compile function is injected to avoid the dist package depending on
// the compiler package.
func VerifyChunk(c *Chunk, compile func(source string) (*vm.Binary, error)) error {
	h, err := HashBinary(c.Binary)
	if err != nil {
		return fmt.Errorf("dist: hash binary: %w", err)
	}
	if h != c.BinaryHash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", c.BinaryHash, h)
	}
	if c.Source == "" || compile == nil {
		return nil
	}
	if HashSource(c.Source) != c.SourceHash {
		return fmt.Errorf("dist: source hash mismatch")
	}
	recompiled, err := compile(c.Source)
	if err != nil {
		return fmt.Errorf("dist: compile failed: %w", err)
	}
	computed, err := HashBinary(recompiled)
	if err != nil {
		return fmt.Errorf("dist: hash binary: %w", err)
	}
	if computed != c.BinaryHash {
		return fmt.Errorf("dist: hash mismatch: declared %x, recompiled %x", c.BinaryHash, computed)
	}
	return nil
}
