// Package loopback is an in-process Transport: sessions that share a
// topic+secret pair are mutually reachable, everything else is isolated.
// It backs the tests and offline runs.
package loopback

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
)

var ErrClosed = errors.New("session closed")

// Hub is the shared rendezvous. Delivery is synchronous and per-peer FIFO.
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[core.PeerID]*session
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[core.PeerID]*session)}
}

func groupKey(topic, secret string) string {
	return topic + "\x00" + secret
}

// Open registers a new session and announces it to the group's existing
// members. The newcomer itself gets no connect events; it learns its
// neighbours from their greetings.
func (h *Hub) Open(topic, secret string) (core.Session, error) {
	s := &session{
		hub: h,
		id:  core.PeerID(uuid.NewString()),
		key: groupKey(topic, secret),
	}

	h.mu.Lock()
	group, ok := h.groups[s.key]
	if !ok {
		group = make(map[core.PeerID]*session)
		h.groups[s.key] = group
	}
	others := peersOf(group, s.id)
	group[s.id] = s
	h.mu.Unlock()

	for _, other := range others {
		other.deliver(event{kind: evConnect, peer: s.id})
	}
	log.Debug().Str("module", "loopback").Str("peer", string(s.id)).Msg("session opened")
	return s, nil
}

// SessionCount reports live sessions across all groups; tests use it to
// check the exclusive-session invariant.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, group := range h.groups {
		n += len(group)
	}
	return n
}

func peersOf(group map[core.PeerID]*session, except core.PeerID) []*session {
	out := make([]*session, 0, len(group))
	for id, s := range group {
		if id != except {
			out = append(out, s)
		}
	}
	return out
}

type evKind int

const (
	evConnect evKind = iota
	evDisconnect
	evPayload
)

type event struct {
	kind    evKind
	peer    core.PeerID
	payload core.Payload
}

type session struct {
	hub *Hub
	id  core.PeerID
	key string

	mu      sync.Mutex
	handler core.SessionHandler
	pending []event
	closed  bool
}

// SetHandler flushes anything that arrived before the owner subscribed.
func (s *session) SetHandler(h core.SessionHandler) {
	s.mu.Lock()
	s.handler = h
	backlog := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range backlog {
		s.dispatch(h, ev)
	}
}

func (s *session) deliver(ev event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	h := s.handler
	if h == nil {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.dispatch(h, ev)
}

func (s *session) dispatch(h core.SessionHandler, ev event) {
	switch ev.kind {
	case evConnect:
		h.HandlePeerConnected(ev.peer)
	case evDisconnect:
		h.HandlePeerDisconnected(ev.peer)
	case evPayload:
		h.HandlePayload(ev.peer, ev.payload)
	}
}

func (s *session) Broadcast(p core.Payload) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.hub.mu.Lock()
	others := peersOf(s.hub.groups[s.key], s.id)
	s.hub.mu.Unlock()

	for _, other := range others {
		other.deliver(event{kind: evPayload, peer: s.id, payload: p})
	}
	return nil
}

func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.mu.Lock()
	group := s.hub.groups[s.key]
	delete(group, s.id)
	if len(group) == 0 {
		delete(s.hub.groups, s.key)
	}
	others := peersOf(group, s.id)
	s.hub.mu.Unlock()

	for _, other := range others {
		other.deliver(event{kind: evDisconnect, peer: s.id})
	}
	log.Debug().Str("module", "loopback").Str("peer", string(s.id)).Msg("session closed")
}

// Hub implements core.Transport.
var _ core.Transport = (*Hub)(nil)
