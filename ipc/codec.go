package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	cbor2 "github.com/fxamacker/cbor/v2"
)

// Codec turns Messages into terminator-free byte strings and back, and
// encodes the values carried inside them.
type Codec interface {
	// Name identifies the codec in configuration and in PLUGHOST_CODEC
	Name() string
	// Marshal encodes a payload value
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes a payload value
	Unmarshal(data []byte, v any) error
	// EncodeMessage returns the wire form of msg, without the terminator.
	// The result never contains Terminator.
	EncodeMessage(msg Message) ([]byte, error)
	// DecodeMessage parses one frame (terminator already stripped)
	DecodeMessage(frame []byte) (Message, error)
}

// Codec names
const (
	CodecNameJSON = "json"
	CodecNameCBOR = "cbor"
)

// CodecByName returns the codec registered under name
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecNameJSON:
		return JSON, nil
	case CodecNameCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// wireMessage distinguishes a missing id from id 0
type wireMessage struct {
	ID      *int `json:"id" cbor:"id"`
	Payload Raw  `json:"payload" cbor:"payload"`
}

func (w wireMessage) message() (Message, error) {
	if w.ID == nil {
		return Message{}, &ProtocolError{Kind: ProtocolErrorDecode, Message: "missing id"}
	}
	return Message{ID: *w.ID, Payload: w.Payload}, nil
}

// =========================================================================
// JSON
// =========================================================================

type jsonCodec struct{}

// JSON is the default self-describing text codec. encoding/json escapes
// U+0000 as \u0000, so a valid encoding never carries the raw terminator.
var JSON Codec = jsonCodec{}

func (jsonCodec) Name() string { return CodecNameJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) EncodeMessage(msg Message) ([]byte, error) {
	id := msg.ID
	data, err := json.Marshal(wireMessage{ID: &id, Payload: msg.Payload})
	if err != nil {
		return nil, &ProtocolError{Kind: ProtocolErrorEncode, Message: err.Error()}
	}
	if bytes.IndexByte(data, Terminator) >= 0 {
		return nil, &ProtocolError{Kind: ProtocolErrorEncode, Message: "encoding contains the terminator byte"}
	}
	return data, nil
}

func (jsonCodec) DecodeMessage(frame []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(frame, &w); err != nil {
		return Message{}, &ProtocolError{Kind: ProtocolErrorDecode, Message: err.Error()}
	}
	return w.message()
}

// =========================================================================
// CBOR
// =========================================================================

// encMode uses Core Deterministic Encoding: same value, same bytes.
var encMode cbor2.EncMode

// decMode decodes untyped maps as map[string]any so payloads behave like
// their JSON counterparts.
var decMode cbor2.DecMode

func init() {
	var err error
	encMode, err = cbor2.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor2.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

// CBOR is a binary codec. Each encoded message is byte-stuffed (COBS) so
// it can share the zero-terminated framing with the text codec.
var CBOR Codec = cborCodec{}

func (cborCodec) Name() string { return CodecNameCBOR }

func (cborCodec) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func (cborCodec) EncodeMessage(msg Message) ([]byte, error) {
	id := msg.ID
	data, err := encMode.Marshal(wireMessage{ID: &id, Payload: msg.Payload})
	if err != nil {
		return nil, &ProtocolError{Kind: ProtocolErrorEncode, Message: err.Error()}
	}
	return cobsEncode(data), nil
}

func (cborCodec) DecodeMessage(frame []byte) (Message, error) {
	data, err := cobsDecode(frame)
	if err != nil {
		return Message{}, &ProtocolError{Kind: ProtocolErrorDecode, Message: err.Error()}
	}
	var w wireMessage
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Message{}, &ProtocolError{Kind: ProtocolErrorDecode, Message: err.Error()}
	}
	return w.message()
}
