package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Codec turns Messages into on-air bytes and back. Decode never fails: anything
// unrecognised comes back as a KindUnknown Message.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(data []byte) Message
}

// TextCodec frames Link A (controller <-> master): the payload is the UTF-8 text itself.
type TextCodec struct{}

func (TextCodec) Encode(m Message) ([]byte, error) {
	text := m.Text()
	if text == "" || len(text) > MaxTextSize {
		return nil, ErrInvalidPayload
	}
	return []byte(text), nil
}

func (TextCodec) Decode(data []byte) Message {
	if !utf8.Valid(data) {
		return Unknown(data)
	}
	return Parse(strings.TrimSpace(strings.Trim(string(data), "\x00")))
}

// FixedCodec frames Link B (master <-> secondary).
// Layout: ASCII text (1-16) | NUL padding up to FixedPayloadSize.
type FixedCodec struct{}

func (FixedCodec) Encode(m Message) ([]byte, error) {
	return EncodeFixed(m)
}

func (FixedCodec) Decode(data []byte) Message {
	return DecodeFixed(data)
}

// EncodeFixed serialises m into exactly FixedPayloadSize bytes.
func EncodeFixed(m Message) ([]byte, error) {
	text := m.Text()
	if text == "" || len(text) > FixedPayloadSize {
		return nil, ErrInvalidPayload
	}

	data := make([]byte, FixedPayloadSize)
	copy(data, text)
	return data, nil
}

// DecodeFixed parses a fixed frame. Short frames are accepted (some radios strip
// the padding), oversized ones are not.
func DecodeFixed(data []byte) Message {
	if len(data) == 0 || len(data) > FixedPayloadSize {
		return Unknown(data)
	}

	body := bytes.TrimRight(data, "\x00")
	for _, b := range body {
		if b < 0x20 || b > 0x7E {
			return Unknown(data)
		}
	}
	return Parse(string(body))
}
