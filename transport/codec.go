package transport

// Codec defines the serialization contract for frames. Implementations
// handle encoding/decoding frames to/from bytes for wire transports.
type Codec interface {
	// Encode serializes a frame to bytes.
	Encode(f *Frame) ([]byte, error)

	// Decode deserializes bytes into a frame.
	Decode(data []byte) (*Frame, error)

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// CodecName constants for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}
