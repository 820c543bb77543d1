// Package grpccodec registers a JSON wire codec for the
// ExecBrowserBatch streaming transport (internal/runtimeclient). The
// teacher's own agentproto stack is compiled from a .proto the pack does
// not ship; this codec lets the same grpc.ClientConn / stream machinery
// the teacher uses in internal/dispatcher carry plain Go structs instead
// of requiring a protoc-generated message set.
package grpccodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const Name = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpccodec: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
