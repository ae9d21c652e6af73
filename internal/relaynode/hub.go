// Package relaynode is the development relay: it groups websocket clients
// by opaque group digest and fans data frames out within a group. It never
// sees topics or secrets, only their digest.
package relaynode

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/adapters/relay"
)

// Sender is one connected client's outbound half.
type Sender interface {
	TrySend(data []byte) error
	Close()
}

type Hub struct {
	mu     sync.Mutex
	groups map[string]map[string]Sender
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]Sender)}
}

// Join adds a peer to a group and announces it to the members already
// there. The joiner itself gets no announcements; identification is the
// clients' protocol, not the relay's.
func (h *Hub) Join(group, peer string, s Sender) {
	h.mu.Lock()
	g, ok := h.groups[group]
	if !ok {
		g = make(map[string]Sender)
		h.groups[group] = g
	}
	others := sendersOf(g, peer)
	g[peer] = s
	h.mu.Unlock()

	frame := mustFrame(relay.Frame{Type: relay.FramePeerJoin, Peer: peer})
	for _, other := range others {
		_ = other.TrySend(frame)
	}
	log.Info().Str("module", "relaynode").Str("peer", peer).Int("group_size", len(others)+1).Msg("peer joined group")
}

// Leave removes the peer and tells the rest of the group.
func (h *Hub) Leave(group, peer string) {
	h.mu.Lock()
	g := h.groups[group]
	if _, ok := g[peer]; !ok {
		h.mu.Unlock()
		return
	}
	delete(g, peer)
	if len(g) == 0 {
		delete(h.groups, group)
	}
	others := sendersOf(g, peer)
	h.mu.Unlock()

	frame := mustFrame(relay.Frame{Type: relay.FramePeerLeft, Peer: peer})
	for _, other := range others {
		_ = other.TrySend(frame)
	}
	log.Info().Str("module", "relaynode").Str("peer", peer).Msg("peer left group")
}

// Fanout relays a data payload to every other member of the group,
// stamped with the origin peer id.
func (h *Hub) Fanout(group, from string, payload json.RawMessage) {
	h.mu.Lock()
	others := sendersOf(h.groups[group], from)
	h.mu.Unlock()

	frame := mustFrame(relay.Frame{Type: relay.FrameData, Peer: from, Payload: payload})
	sent := 0
	for _, other := range others {
		if err := other.TrySend(frame); err != nil {
			continue
		}
		sent++
	}
	log.Debug().Str("module", "relaynode").Str("from", from).Int("sent_to", sent).Msg("fanout")
}

// GroupSize reports current membership; the router exposes it for health
// checks.
func (h *Hub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}

func sendersOf(g map[string]Sender, except string) []Sender {
	out := make([]Sender, 0, len(g))
	for id, s := range g {
		if id != except {
			out = append(out, s)
		}
	}
	return out
}

func mustFrame(f relay.Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "relaynode").Msg("frame marshal")
		return nil
	}
	return b
}
