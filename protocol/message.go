package protocol

import (
	"fmt"
	"strconv"
)

// Kind identifies a Message variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindStart
	KindStop
	KindDistanceQuery
	KindNumber
	KindOk
	KindPing
	KindPong
	KindEnd
)

var kindWords = map[Kind]string{
	KindStart:         "start",
	KindStop:          "stop",
	KindDistanceQuery: "distance",
	KindOk:            "ok",
	KindPing:          "ping",
	KindPong:          "pong",
	KindEnd:           "end",
}

var wordKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindWords))
	for k, w := range kindWords {
		m[w] = k
	}
	return m
}()

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindUnknown:
		return "unknown"
	}
	if w, ok := kindWords[k]; ok {
		return w
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is a decoded radio frame. Value is set for KindNumber, Raw for KindUnknown.
type Message struct {
	Kind  Kind
	Value int
	Raw   []byte
}

var (
	Start         = Message{Kind: KindStart}
	Stop          = Message{Kind: KindStop}
	DistanceQuery = Message{Kind: KindDistanceQuery}
	Ok            = Message{Kind: KindOk}
	Ping          = Message{Kind: KindPing}
	Pong          = Message{Kind: KindPong}
	End           = Message{Kind: KindEnd}
)

// Number builds a numeric message.
func Number(v int) Message { return Message{Kind: KindNumber, Value: v} }

// Distance builds a numeric message carrying a distance clamped to [MinDistance, MaxDistance].
func Distance(meters int) Message { return Number(ClampDistance(meters)) }

// Unknown wraps bytes that matched no variant.
func Unknown(raw []byte) Message {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Message{Kind: KindUnknown, Raw: cp}
}

func (m Message) Is(k Kind) bool { return m.Kind == k }

// Text returns the wire text of the message.
func (m Message) Text() string {
	switch m.Kind {
	case KindNumber:
		return strconv.Itoa(m.Value)
	case KindUnknown:
		return string(m.Raw)
	}
	return kindWords[m.Kind]
}

func (m Message) String() string {
	switch m.Kind {
	case KindNumber:
		return "number(" + strconv.Itoa(m.Value) + ")"
	case KindUnknown:
		return fmt.Sprintf("unknown(%q)", m.Raw)
	}
	return m.Kind.String()
}

// ClampDistance bounds a distance to [MinDistance, MaxDistance].
func ClampDistance(meters int) int {
	return max(MinDistance, min(meters, MaxDistance))
}

// Parse decodes trimmed wire text into a Message. Numbers are plain decimal digits.
func Parse(text string) Message {
	if k, ok := wordKinds[text]; ok {
		return Message{Kind: k}
	}
	if isDigits(text) {
		if v, err := strconv.Atoi(text); err == nil {
			return Number(v)
		}
	}
	return Unknown([]byte(text))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
