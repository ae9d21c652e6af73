package app

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeriveTopic maps the composite room identity onto the transport topic.
// Two users who both typed the same id without an invite share an empty
// creator and still meet; invite-created rooms are disambiguated by owner.
// The secret is not part of the topic: it is the transport's reachability
// boundary, passed alongside.
func DeriveTopic(appID, roomID, creatorID string) string {
	h := sha256.New()
	h.Write([]byte(appID))
	h.Write([]byte{0})
	h.Write([]byte(roomID))
	h.Write([]byte{0})
	h.Write([]byte(creatorID))
	return hex.EncodeToString(h.Sum(nil))[:40]
}
