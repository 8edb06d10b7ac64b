package transport

import "encoding/json"

// JSONCodec encodes/decodes frames as JSON.
type JSONCodec struct{}

func (c *JSONCodec) Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func (c *JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }
