package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName names the CBOR codec of the inspector messages. Connect
// clients get it from NewInspectorClient; grpc-go clients select it with
// grpc.CallContentSubtype(CodecName).
const CodecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
	encoding.RegisterCodec(cborCodec{})
}

// cborCodec carries the inspector's plain Go message structs. It satisfies
// both connect.Codec and grpc's encoding.Codec.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) { return cborEncMode.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

func (cborCodec) Name() string { return CodecName }
