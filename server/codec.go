package server

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"

	"github.com/tom-mohr/compiler/vm/dist"
)

// Codec names as they appear in content types: application/json and
// application/cbor for the Connect protocol, application/grpc+cbor for gRPC.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// jsonCodec encodes the plain Go message structs of this package. Connect's
// built-in JSON codec only accepts protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// cborCodec uses the same canonical encoding as compiled binaries.
type cborCodec struct{}

func (cborCodec) Name() string { return CodecCBOR }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return dist.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := dist.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("cbor: %w", err)
	}
	return nil
}

// codecOptions registers both codecs on a handler.
func codecOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithCodec(cborCodec{}),
	}
}

// ClientCodec returns the client option selecting the named codec.
func ClientCodec(name string) (connect.ClientOption, error) {
	switch name {
	case CodecJSON:
		return connect.WithCodec(jsonCodec{}), nil
	case CodecCBOR:
		return connect.WithCodec(cborCodec{}), nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
