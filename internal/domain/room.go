// Package domain contains entities without logic, just meta-data and validation.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MinRoomIDLen = 3
	MaxRoomIDLen = 30
)

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDInvalid = errors.New("room id invalid")
	ErrPersonalRoom  = errors.New("personal room is not removable")
)

type RoomID string

type RoomKind string

const (
	RoomPersonal RoomKind = "personal"
	RoomJoined   RoomKind = "joined"
)

// RoomKey is the composite room identity: same-named rooms created by
// different users are distinct rooms and map to distinct transport topics.
type RoomKey struct {
	ID        RoomID `json:"id"`
	CreatorID string `json:"creator,omitempty"`
}

func (k RoomKey) String() string {
	if k.CreatorID == "" {
		return string(k.ID)
	}
	return string(k.ID) + "@" + k.CreatorID
}

// ParseRoomKey reverses String: "id" or "id@creator". The id part is
// sanitized the same way user-typed room ids are.
func ParseRoomKey(s string) RoomKey {
	id, creator, _ := strings.Cut(s, "@")
	return RoomKey{ID: RoomID(SanitizeRoomID(id)), CreatorID: creator}
}

type Room struct {
	ID          RoomID   `json:"id"`
	DisplayName string   `json:"name"`
	Secret      string   `json:"secret,omitempty"`
	Kind        RoomKind `json:"kind"`
	CreatorID   string   `json:"creator,omitempty"`
}

func (r Room) Key() RoomKey {
	return RoomKey{ID: r.ID, CreatorID: r.CreatorID}
}

// NewJoinedRoom validates and sanitizes the id; the display name stays as
// the user typed it.
func NewJoinedRoom(id, displayName, secret, creatorID string) (Room, error) {
	clean := SanitizeRoomID(id)
	if clean == "" {
		return Room{}, ErrRoomIDEmpty
	}
	if !ValidateRoomID(clean) {
		return Room{}, ErrRoomIDInvalid
	}
	if displayName == "" {
		displayName = id
	}
	return Room{
		ID:          RoomID(clean),
		DisplayName: displayName,
		Secret:      secret,
		Kind:        RoomJoined,
		CreatorID:   creatorID,
	}, nil
}

// PersonalRoom is the always-present local-only room. It never carries a
// secret and never opens a transport session.
func PersonalRoom() Room {
	return Room{ID: "personal", DisplayName: "Personal", Kind: RoomPersonal}
}

// SanitizeRoomID lowercases, replaces anything outside [a-z0-9-] with a
// dash, and clips to MaxRoomIDLen.
func SanitizeRoomID(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > MaxRoomIDLen {
		out = out[:MaxRoomIDLen]
	}
	return out
}

func ValidateRoomID(id string) bool {
	trimmed := strings.TrimSpace(id)
	return len(trimmed) >= MinRoomIDLen && len(trimmed) <= MaxRoomIDLen
}

const roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateRoomID produces a "room-xxxxxxx" id with 7 random base36 chars.
func GenerateRoomID() string {
	id := uuid.New()
	var b strings.Builder
	b.WriteString("room-")
	for i := 0; i < 7; i++ {
		b.WriteByte(roomIDAlphabet[int(id[i])%len(roomIDAlphabet)])
	}
	return b.String()
}
