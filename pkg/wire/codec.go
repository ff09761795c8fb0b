package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec errors.
var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrEmptyFrame     = errors.New("empty frame")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor encoder mode: %v", err))
	}

	// Lenient decoding so newer peers can add keys.
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder mode: %v", err))
	}
}

// Marshal encodes v with the canonical wire encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Envelope is the outer frame of every message.
type Envelope struct {
	Type MsgType         `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

// Encode wraps msg in an Envelope and encodes it.
func Encode(msg Message) ([]byte, error) {
	body, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return Marshal(Envelope{Type: msg.Type(), Body: body})
}

// Peek returns the message type of a frame without decoding the body.
func Peek(data []byte) (MsgType, error) {
	if len(data) == 0 {
		return 0, ErrEmptyFrame
	}
	var env struct {
		Type MsgType `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("peek: %w", err)
	}
	return env.Type, nil
}

// Decode decodes a frame into its concrete message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	msg := newMessage(env.Type)
	if msg == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, uint8(env.Type))
	}
	if err := Unmarshal(env.Body, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if v, ok := msg.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
	}
	return msg, nil
}
