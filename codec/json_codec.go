package codec

import (
	"encoding/json"
)

// JSONCodec encodes message.RpcMessage, message.ResultMessage, and
// message.EventMessage as plain JSON. GetCodec(CodecTypeJSON) returns it;
// the tcp transport always uses BinaryCodec, so no transport in this
// module sends or reads JSONCodec frames.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
