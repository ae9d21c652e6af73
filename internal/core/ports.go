// Package core declares the ports the chat core is wired through: the
// opaque transport, the snapshot store, and the outward event sink.
package core

import (
	"errors"

	"github.com/toonchat/compass/internal/domain"
)

// PeerID is the transport-assigned peer identifier. It is only meaningful
// for the lifetime of one Session.
type PeerID string

// Transport discovers peers and moves payloads. Reliability, encryption and
// per-peer delivery order are its problem; the core only assumes that the
// same topic+secret pair means mutual reachability.
type Transport interface {
	Open(topic, secret string) (Session, error)
}

// SessionHandler receives session events. It must be set before the first
// event can fire and is never swapped afterwards.
type SessionHandler interface {
	HandlePayload(peer PeerID, p Payload)
	HandlePeerConnected(peer PeerID)
	HandlePeerDisconnected(peer PeerID)
}

// Session is one live binding to a topic. Owned by whoever opened it; the
// owner must Close() it, and no event fires after Close returns.
type Session interface {
	SetHandler(h SessionHandler)
	Broadcast(p Payload) error
	Close()
}

// EventSink is the fixed set of outward event variants. Implementations
// render; the core never touches presentation.
type EventSink interface {
	PeerJoined(handle string)
	PeerLeft(handle string)
	MessageReceived(msg domain.ChatMessage)
	PresenceChanged(count int)
	ConnectionError(err error)
	Notice(text string)
}

// SnapshotKey names one of the two independent persisted blobs.
type SnapshotKey string

const (
	KeyRooms    SnapshotKey = "p2p_rooms"
	KeyMessages SnapshotKey = "p2p_messages"
)

var (
	// ErrStorageFull maps the host's quota/ENOSPC condition; the store
	// reacts with bounded eviction, never with a failed append.
	ErrStorageFull = errors.New("storage full")
)

// SnapshotStore persists the two blobs append-then-publish: a Publish
// either lands whole or not at all. Load of a missing blob returns
// (nil, nil); corrupt content is the caller's problem and must degrade to
// empty state there.
type SnapshotStore interface {
	Load(key SnapshotKey) ([]byte, error)
	Publish(key SnapshotKey, data []byte) error
	// Subscribe registers the external-change callback: it fires when a
	// different process mutated the shared blob, never for our own writes.
	Subscribe(fn func(key SnapshotKey, data []byte))
	Close() error
}
