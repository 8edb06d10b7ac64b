package transport

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec encodes/decodes frames as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

func (c *MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
