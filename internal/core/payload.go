package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind is the wire discriminant. The handshake tags predate this
// codebase and stay as-is for compatibility with other clients.
type PayloadKind string

const (
	KindHello    PayloadKind = "handshake"
	KindHelloAck PayloadKind = "handshake-reply"
	KindChat     PayloadKind = "chat"
)

var ErrUnknownPayload = errors.New("unknown payload kind")

// Payload is the tagged union crossing the transport. Hello/HelloAck carry
// only Sender; Chat carries all three fields. Everything in it is
// attacker-controlled text.
type Payload struct {
	Kind      PayloadKind `json:"type"`
	Sender    string      `json:"sender,omitempty"`
	Text      string      `json:"text,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func Hello(handle string) Payload {
	return Payload{Kind: KindHello, Sender: handle}
}

func HelloAck(handle string) Payload {
	return Payload{Kind: KindHelloAck, Sender: handle}
}

func Chat(sender, text string, timestamp int64) Payload {
	return Payload{Kind: KindChat, Sender: sender, Text: text, Timestamp: timestamp}
}

// IsHandshake reports whether the payload belongs to the identification
// sub-protocol rather than the chat stream.
func (p Payload) IsHandshake() bool {
	return p.Kind == KindHello || p.Kind == KindHelloAck
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload validates the discriminant on receipt. Unrecognized tags
// are rejected here so they can be quarantined instead of leaking into the
// chat transcript.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	switch p.Kind {
	case KindHello, KindHelloAck, KindChat:
		return p, nil
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, p.Kind)
	}
}
