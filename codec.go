package pyharbor

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts request and reply values to and from wire bytes. The kernel
// handshake selects which codec a connection uses: MessagePack when the
// interpreter side can import msgpack, JSON otherwise.
type Codec interface {
	// Name is the codec identifier used during the handshake.
	Name() string

	// Marshal encodes a Go value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes bytes into a Go value.
	Unmarshal(data []byte, v interface{}) error
}

// MsgpackCodec encodes frames with MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// JSONCodec encodes frames with JSON. It is the fallback for interpreter
// environments without the msgpack package installed.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// codecByName maps a handshake identifier to a codec, defaulting to JSON.
func codecByName(name string) Codec {
	if name == "msgpack" {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}
