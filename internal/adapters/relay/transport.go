package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

// Transport dials one relay node and opens one websocket per session.
type Transport struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewTransport(url string) *Transport {
	return &Transport{URL: url, Dialer: websocket.DefaultDialer}
}

func (t *Transport) Open(topic, secret string) (core.Session, error) {
	ws, _, err := t.Dialer.Dial(t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}

	s := &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
	join := Frame{Type: FrameJoin, Group: GroupDigest(topic, secret)}
	raw, err := json.Marshal(join)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := s.trySend(raw); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go s.writePump()
	go s.readPump()
	log.Info().Str("module", "relay").Str("url", t.URL).Msg("session opened")
	return s, nil
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	handler core.SessionHandler
	pending []func(core.SessionHandler)
	closed  bool
}

func (c *conn) SetHandler(h core.SessionHandler) {
	c.mu.Lock()
	c.handler = h
	backlog := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range backlog {
		fn(h)
	}
}

func (c *conn) Broadcast(p core.Payload) error {
	payload, err := p.Encode()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(Frame{Type: FrameData, Payload: payload})
	if err != nil {
		return err
	}
	return c.trySend(raw)
}

func (c *conn) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
	log.Info().Str("module", "relay").Msg("session closed")
}

func (c *conn) writePump() {
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}

func (c *conn) readPump() {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Error().Err(err).Str("module", "relay").Msg("readPump read error")
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *conn) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad frame json")
		return
	}
	peer := core.PeerID(f.Peer)

	switch f.Type {
	case FramePeerJoin:
		c.emit(func(h core.SessionHandler) { h.HandlePeerConnected(peer) })
	case FramePeerLeft:
		c.emit(func(h core.SessionHandler) { h.HandlePeerDisconnected(peer) })
	case FrameData:
		p, err := core.DecodePayload(f.Payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("peer", f.Peer).Msg("dropped undecodable payload")
			return
		}
		c.emit(func(h core.SessionHandler) { h.HandlePayload(peer, p) })
	default:
		log.Warn().Str("module", "relay").Str("type", f.Type).Msg("unknown frame")
	}
}

// emit buffers events that race ahead of SetHandler; nothing fires after
// Close.
func (c *conn) emit(fn func(core.SessionHandler)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.handler
	if h == nil {
		c.pending = append(c.pending, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(h)
}

var _ core.Transport = (*Transport)(nil)
