// Package grpccodec registers a JSON-based grpc/encoding.Codec so internal
// RPC traffic (internal/layerrpc, the Bazel and Xcode protocol adapters, and
// peer-to-peer transfers) gets real gRPC transport semantics — HTTP/2
// multiplexing, server/client streaming, deadline propagation, metadata
// headers, cancellation — without a protoc/buf codegen step. Messages are
// plain Go structs marshaled with encoding/json rather than protobuf wire
// format.
package grpccodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec identifier negotiated over the wire via the grpc
// content-subtype (content-type "application/grpc+json"). Registering under
// a distinct name (rather than overriding "proto") keeps this codec opt-in
// per call via grpc.CallContentSubtype / grpc.ForceCodec, so a future
// protobuf-backed service can coexist in the same process.
const Name = "json"

// Codec marshals and unmarshals plain Go values with encoding/json. It does
// not require values to implement proto.Message; any JSON-serializable
// struct works, which is what lets layerrpc, httpcas-style adapters, and
// peer RPC share request/response types with their non-gRPC counterparts.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpccodec: marshal: %w", err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpccodec: unmarshal: %w", err)
	}
	return nil
}

func (Codec) Name() string { return Name }

// Register installs the codec with grpc's global encoding registry. It is
// idempotent and safe to call from multiple package init paths (server and
// client packages both call it defensively).
func Register() {
	encoding.RegisterCodec(Codec{})
}

func init() {
	Register()
}
