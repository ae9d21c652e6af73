// Package presence turns anonymous transport peer events into an
// identified roster via a two-message handshake.
package presence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
)

var ErrAlreadyStarted = errors.New("engine already bound to a session")

// Engine wraps one transport session. A peer appears in the roster only
// after its handshake completed; a connected-but-unidentified peer does
// not count toward presence.
type Engine struct {
	sink core.EventSink

	mu      sync.Mutex
	session core.Session
	handle  string
	peers   map[core.PeerID]string
	stopped bool
}

// NewEngine takes the sink up front: the single-dispatch contract is that
// events have somewhere to go before Start ever fires one.
func NewEngine(sink core.EventSink) *Engine {
	return &Engine{
		sink:  sink,
		peers: make(map[core.PeerID]string),
	}
}

// Start binds the engine to a session and registers for its events.
// Binding twice is a programmer error.
func (e *Engine) Start(session core.Session, localHandle string) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.session = session
	e.handle = localHandle
	e.stopped = false
	e.mu.Unlock()

	session.SetHandler(e)
	log.Info().Str("module", "presence").Str("handle", localHandle).Msg("engine started")
	return nil
}

// Stop releases the session. Idempotent; no event fires afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped || e.session == nil {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	session := e.session
	e.stopped = true
	e.peers = make(map[core.PeerID]string)
	e.mu.Unlock()

	session.Close()
	log.Info().Str("module", "presence").Msg("engine stopped")
}

// PeerCount is self-inclusive: identified peers plus ourselves.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers) + 1
}

// Send builds the outgoing chat payload, broadcasts it and returns the
// message for local display. The returned message is valid regardless of
// transport outcome; send failures surface through the sink.
func (e *Engine) Send(text string) domain.ChatMessage {
	e.mu.Lock()
	session := e.session
	msg := domain.NewOwnMessage(e.handle, text)
	stopped := e.stopped
	e.mu.Unlock()

	if stopped || session == nil {
		return msg
	}
	if err := session.Broadcast(core.Chat(msg.Sender, msg.Text, msg.TimestampMillis)); err != nil {
		log.Error().Err(err).Str("module", "presence").Msg("chat broadcast failed")
		e.sink.ConnectionError(err)
	}
	return msg
}

// HandlePeerConnected greets the newcomer. No roster entry yet; broadcast
// is fine since only the new peer is unidentified to us.
func (e *Engine) HandlePeerConnected(peer core.PeerID) {
	e.mu.Lock()
	session, handle, stopped := e.session, e.handle, e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}

	log.Debug().Str("module", "presence").Str("peer", string(peer)).Msg("peer found")
	e.sink.Notice("Peer found, shaking hands...")
	if err := session.Broadcast(core.Hello(handle)); err != nil {
		log.Error().Err(err).Str("module", "presence").Msg("hello broadcast failed")
		e.sink.ConnectionError(err)
	}
}

func (e *Engine) HandlePeerDisconnected(peer core.PeerID) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	handle, known := e.peers[peer]
	delete(e.peers, peer)
	count := len(e.peers) + 1
	e.mu.Unlock()

	if known {
		e.sink.PeerLeft(handle)
	} else {
		// Handshake never completed; we have no name to report.
		handle = "A peer"
	}
	e.sink.PresenceChanged(count)
	e.sink.Notice(fmt.Sprintf("%s left.", handle))
	log.Info().Str("module", "presence").Str("peer", string(peer)).Str("handle", handle).Msg("peer left")
}

func (e *Engine) HandlePayload(peer core.PeerID, p core.Payload) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	session, localHandle := e.session, e.handle
	e.mu.Unlock()

	switch p.Kind {
	case core.KindHello:
		// Duplicate Hello from the same peer is an idempotent overwrite,
		// not a second peer.
		count := e.addPeer(peer, p.Sender)
		e.sink.PresenceChanged(count)
		e.sink.PeerJoined(p.Sender)
		e.sink.Notice(fmt.Sprintf("%s joined.", p.Sender))
		if err := session.Broadcast(core.HelloAck(localHandle)); err != nil {
			log.Error().Err(err).Str("module", "presence").Msg("hello-ack broadcast failed")
			e.sink.ConnectionError(err)
		}

	case core.KindHelloAck:
		// Terminates the handshake: exactly two payloads per peer pair.
		count := e.addPeer(peer, p.Sender)
		e.sink.PresenceChanged(count)
		e.sink.Notice(fmt.Sprintf("Connected to %s.", p.Sender))

	case core.KindChat:
		// A chat payload may race ahead of identification; deliver it
		// using the payload's own sender field rather than dropping it.
		e.sink.MessageReceived(domain.ChatMessage{
			Text:            p.Text,
			Sender:          p.Sender,
			TimestampMillis: p.Timestamp,
		})

	default:
		log.Warn().Str("module", "presence").Str("kind", string(p.Kind)).Msg("quarantined unknown payload")
	}
}

func (e *Engine) addPeer(peer core.PeerID, handle string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[peer] = handle
	log.Info().Str("module", "presence").Str("peer", string(peer)).Str("handle", handle).Msg("peer identified")
	return len(e.peers) + 1
}
