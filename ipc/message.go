package ipc

import (
	"bytes"
	"errors"
)

// Raw is an opaque value already encoded in the channel's codec.
// It passes through both the JSON and the CBOR codec verbatim, so the
// core never needs to know payload shapes.
type Raw []byte

// cborNull is the CBOR encoding of null (major type 7, value 22)
var cborNull = []byte{0xf6}

var jsonNull = []byte("null")

// IsNull reports whether r is empty or an encoded null in either codec
func (r Raw) IsNull() bool {
	return len(r) == 0 || bytes.Equal(r, jsonNull) || bytes.Equal(r, cborNull)
}

// MarshalJSON emits r verbatim; an empty Raw is null
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return jsonNull, nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the raw JSON value
func (r *Raw) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("ipc.Raw: UnmarshalJSON on nil pointer")
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// MarshalCBOR emits r verbatim; an empty Raw is null
func (r Raw) MarshalCBOR() ([]byte, error) {
	if len(r) == 0 {
		return cborNull, nil
	}
	return r, nil
}

// UnmarshalCBOR keeps a copy of the raw CBOR data item
func (r *Raw) UnmarshalCBOR(data []byte) error {
	if r == nil {
		return errors.New("ipc.Raw: UnmarshalCBOR on nil pointer")
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// Message is one unit exchanged over a Channel.
// ID is an application event tag or one of the reserved service tags.
type Message struct {
	ID      int `json:"id" cbor:"id"`
	Payload Raw `json:"payload" cbor:"payload"`
}

// NewMessage encodes payload with codec and wraps it in a Message
func NewMessage(codec Codec, id int, payload any) (Message, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Message{}, &ProtocolError{Kind: ProtocolErrorEncode, Message: err.Error()}
	}
	return Message{ID: id, Payload: data}, nil
}
