// Package codec provides the serialization layer the tcp transport frames
// its bodies with.
//
// It defines a pluggable Codec interface with two implementations:
//   - JSONCodec:   human-readable, easy to debug, slower
//   - BinaryCodec: compact binary format for message.RpcMessage and
//     message.ResultMessage specifically, faster
//
// The codec type is stored in the frame header. The tcp transport writes
// its own codec's type there and decodes every frame it receives with
// that same codec (always BinaryCodec), whatever the header names.
package codec

// CodecType identifies the serialization format, stored as 1 byte in the frame header.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0 // JSON serialization (encoding/json)
	CodecTypeBinary CodecType = 1 // Custom binary serialization for message envelopes
)

// Codec is the interface for serialization/deserialization.
// Implementing this interface allows adding new formats (e.g., Protobuf)
// without changing any other layer — this is the Strategy Pattern.
type Codec interface {
	Encode(v any) ([]byte, error)    // Serialize a value to bytes
	Decode(data []byte, v any) error // Deserialize bytes back into v
	Type() CodecType                 // Return the codec type identifier
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
