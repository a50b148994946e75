package serializer

import (
	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	"github.com/shamaton/msgpack/v2"
	"github.com/ugorji/go/codec"
)

type funcCodec struct {
	format      string
	contentType string
	marshal     func(any) ([]byte, error)
	unmarshal   func([]byte, any) error
}

func (c funcCodec) Marshal(v any) ([]byte, error) {
	data, err := c.marshal(v)
	if err != nil {
		return nil, ewrap.Wrapf(err, "encode %s", c.format)
	}

	return data, nil
}

func (c funcCodec) Unmarshal(data []byte, v any) error {
	err := c.unmarshal(data, v)
	if err != nil {
		return ewrap.Wrapf(err, "decode %s", c.format)
	}

	return nil
}

func (c funcCodec) ContentType() string { return c.contentType }

// JSON encodes with goccy/go-json.
func JSON() Codec { //nolint:ireturn
	return funcCodec{format: "json", contentType: "application/json", marshal: json.Marshal, unmarshal: json.Unmarshal}
}

// Msgpack encodes with shamaton/msgpack. Struct fields are keyed by Go field name.
func Msgpack() Codec { //nolint:ireturn
	return funcCodec{format: "msgpack", contentType: "application/msgpack", marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
}

var cborHandle = &codec.CborHandle{}

// CBOR encodes with the ugorji codec CBOR handle.
func CBOR() Codec { //nolint:ireturn
	return funcCodec{
		format:      "cbor",
		contentType: "application/cbor",
		marshal: func(v any) ([]byte, error) {
			var out []byte

			err := codec.NewEncoderBytes(&out, cborHandle).Encode(v)

			return out, err
		},
		unmarshal: func(data []byte, v any) error {
			return codec.NewDecoderBytes(data, cborHandle).Decode(v)
		},
	}
}
