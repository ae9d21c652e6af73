// Package relay implements the Transport port over a websocket relay
// node. The relay only ever sees an opaque group digest, never the room
// secret in clear, so differing secrets stay mutually unreachable.
package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Frame is the client<->relay wire envelope. The relay node speaks the
// same type from the other side.
type Frame struct {
	Type    string          `json:"type"`
	Group   string          `json:"group,omitempty"`
	Peer    string          `json:"peer,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	FrameJoin     = "join"
	FrameData     = "data"
	FramePeerJoin = "peer-joined"
	FramePeerLeft = "peer-left"
)

// GroupDigest collapses topic+secret into the relay-visible group id.
func GroupDigest(topic, secret string) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
