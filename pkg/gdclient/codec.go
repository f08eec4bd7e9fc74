package gdclient

import (
	"github.com/clarketm/json"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc's encoding package so every call
// made through a ClientConn configured with grpc.CallContentSubtype(jsonCodecName)
// marshals over the wire as JSON instead of protobuf. The global directory
// client never depends on a generated protobuf/IDL proxy; the codec is the
// only thing standing between a Go struct and the wire.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
