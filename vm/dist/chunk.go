// Package dist implements the portable form of compiled ivm programs.
// A Binary is encoded as canonical CBOR so identical programs always produce
// identical bytes, and a Chunk pairs the encoding with the source it was
// compiled from and the hashes of both.
package dist

import "github.com/tom-mohr/compiler/vm"

// FormatVersion is bumped whenever the encoding of vm.Binary changes.
const FormatVersion byte = 1

// Chunk is the unit stored by the binary cache and returned by the compile
// service. The receiver can recompile Source and check that the result
// hashes to BinaryHash.
type Chunk struct {
	SourceHash [32]byte   `cbor:"1,keyasint"`
	BinaryHash [32]byte   `cbor:"2,keyasint"`
	Version    byte       `cbor:"3,keyasint"`
	Binary     *vm.Binary `cbor:"4,keyasint"`
	Source     string     `cbor:"5,keyasint,omitempty"`
}
