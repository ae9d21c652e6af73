package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toonchat/compass/internal/adapters/loopback"
	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
)

type recSink struct {
	mu      sync.Mutex
	joined  []string
	left    []string
	notices []string
	counts  []int
	msgs    []domain.ChatMessage
	errs    []error
}

func (s *recSink) PeerJoined(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, handle)
}

func (s *recSink) PeerLeft(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, handle)
}

func (s *recSink) MessageReceived(msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recSink) PresenceChanged(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, count)
}

func (s *recSink) ConnectionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recSink) Notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
}

func (s *recSink) countOf(notice string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.notices {
		if t == notice {
			n++
		}
	}
	return n
}

// fakeSession records broadcasts; tests drive the handler directly to
// simulate a remote peer.
type fakeSession struct {
	mu        sync.Mutex
	handler   core.SessionHandler
	broadcast []core.Payload
	sendErr   error
	closed    bool
}

func (f *fakeSession) SetHandler(h core.SessionHandler) { f.handler = h }

func (f *fakeSession) Broadcast(p core.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.broadcast = append(f.broadcast, p)
	return nil
}

func (f *fakeSession) Close() { f.closed = true }

func (f *fakeSession) sent(kind core.PayloadKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.broadcast {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func startedEngine(t *testing.T, handle string) (*Engine, *fakeSession, *recSink) {
	t.Helper()
	sink := &recSink{}
	session := &fakeSession{}
	e := NewEngine(sink)
	require.NoError(t, e.Start(session, handle))
	return e, session, sink
}

func TestScenarioRexJoins(t *testing.T) {
	e, session, sink := startedEngine(t, "Nova")
	assert.Equal(t, 1, e.PeerCount())

	e.HandlePeerConnected("peer-rex")
	assert.Equal(t, 1, e.PeerCount(), "connected but unidentified peers do not count")
	assert.Equal(t, 1, session.sent(core.KindHello))

	e.HandlePayload("peer-rex", core.Hello("Rex"))
	assert.Equal(t, 2, e.PeerCount())
	assert.Equal(t, 1, session.sent(core.KindHelloAck))
	assert.Equal(t, 1, sink.countOf("Rex joined."))
	assert.Equal(t, []int{2}, sink.counts)
	assert.Equal(t, []string{"Rex"}, sink.joined)
}

func TestHelloAckCompletesWithoutReply(t *testing.T) {
	e, session, sink := startedEngine(t, "Nova")

	e.HandlePayload("peer-rex", core.HelloAck("Rex"))
	assert.Equal(t, 2, e.PeerCount())
	assert.Equal(t, 1, sink.countOf("Connected to Rex."))
	assert.Zero(t, session.sent(core.KindHello), "ack terminates the handshake")
	assert.Zero(t, session.sent(core.KindHelloAck))
}

func TestDuplicateHelloIsIdempotent(t *testing.T) {
	e, _, sink := startedEngine(t, "Nova")

	e.HandlePayload("peer-rex", core.Hello("Rex"))
	e.HandlePayload("peer-rex", core.Hello("Rex"))
	assert.Equal(t, 2, e.PeerCount(), "retransmitted hello is an overwrite, not a second peer")
	assert.Equal(t, []int{2, 2}, sink.counts)
}

func TestChatRacingAheadOfHandshake(t *testing.T) {
	e, _, sink := startedEngine(t, "Nova")

	e.HandlePayload("peer-unknown", core.Chat("Rex", "hi there", 123))
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, "Rex", sink.msgs[0].Sender, "sender comes from the payload, not the roster")
	assert.Equal(t, "hi there", sink.msgs[0].Text)
	assert.Equal(t, 1, e.PeerCount(), "a chat payload does not identify a peer")
}

func TestDisconnectBeforeHandshake(t *testing.T) {
	e, _, sink := startedEngine(t, "Nova")

	e.HandlePeerConnected("peer-x")
	e.HandlePeerDisconnected("peer-x")
	assert.Equal(t, 1, e.PeerCount())
	assert.Equal(t, 1, sink.countOf("A peer left."))
	assert.Empty(t, sink.left, "no roster event for a peer that never identified")
}

func TestDisconnectIdentifiedPeer(t *testing.T) {
	e, _, sink := startedEngine(t, "Nova")

	e.HandlePayload("peer-rex", core.Hello("Rex"))
	e.HandlePeerDisconnected("peer-rex")
	assert.Equal(t, 1, e.PeerCount())
	assert.Equal(t, 1, sink.countOf("Rex left."))
	assert.Equal(t, []string{"Rex"}, sink.left)
	assert.Equal(t, []int{2, 1}, sink.counts)
}

func TestPeerCountNeverNegative(t *testing.T) {
	e, _, _ := startedEngine(t, "Nova")
	e.HandlePeerDisconnected("ghost")
	e.HandlePeerDisconnected("ghost")
	assert.Equal(t, 1, e.PeerCount())
}

func TestSendReturnsMessageDespiteTransportFailure(t *testing.T) {
	e, session, sink := startedEngine(t, "Nova")
	session.sendErr = errors.New("tracker unreachable")

	msg := e.Send("hello world")
	assert.Equal(t, "hello world", msg.Text)
	assert.Equal(t, "Nova", msg.Sender)
	assert.True(t, msg.IsOwn)
	require.Len(t, sink.errs, 1)
}

func TestStartTwiceIsProgrammerError(t *testing.T) {
	e, _, _ := startedEngine(t, "Nova")
	err := e.Start(&fakeSession{}, "Nova")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStopSilencesCallbacks(t *testing.T) {
	e, session, sink := startedEngine(t, "Nova")
	e.Stop()
	e.Stop()
	assert.True(t, session.closed)

	e.HandlePayload("peer-rex", core.Hello("Rex"))
	e.HandlePeerConnected("peer-y")
	e.HandlePeerDisconnected("peer-y")
	assert.Empty(t, sink.joined)
	assert.Empty(t, sink.counts)
	assert.Zero(t, session.sent(core.KindHello))
}

// countingSession wraps a live session and tallies outgoing handshake
// payloads.
type countingSession struct {
	core.Session
	mu        sync.Mutex
	handshake int
}

func (c *countingSession) Broadcast(p core.Payload) error {
	if p.IsHandshake() {
		c.mu.Lock()
		c.handshake++
		c.mu.Unlock()
	}
	return c.Session.Broadcast(p)
}

func TestTwoPeerHandshakeExchangesExactlyTwoPayloads(t *testing.T) {
	hub := loopback.NewHub()

	sessA, err := hub.Open("topic", "s")
	require.NoError(t, err)
	countA := &countingSession{Session: sessA}
	sinkA := &recSink{}
	engineA := NewEngine(sinkA)
	require.NoError(t, engineA.Start(countA, "Nova"))

	sessB, err := hub.Open("topic", "s")
	require.NoError(t, err)
	countB := &countingSession{Session: sessB}
	sinkB := &recSink{}
	engineB := NewEngine(sinkB)
	require.NoError(t, engineB.Start(countB, "Rex"))

	assert.Equal(t, 2, engineA.PeerCount())
	assert.Equal(t, 2, engineB.PeerCount())
	assert.Equal(t, 1, countA.handshake, "initiator sends one hello")
	assert.Equal(t, 1, countB.handshake, "responder sends one ack")
	assert.Equal(t, 1, sinkB.countOf("Nova joined."))
	assert.Equal(t, 1, sinkA.countOf("Connected to Rex."))

	msg := engineB.Send("hello from Rex")
	assert.True(t, msg.IsOwn)
	require.Len(t, sinkA.msgs, 1)
	assert.Equal(t, "hello from Rex", sinkA.msgs[0].Text)
	assert.Equal(t, "Rex", sinkA.msgs[0].Sender)

	engineB.Stop()
	assert.Equal(t, 1, engineA.PeerCount())
	assert.Equal(t, 1, sinkA.countOf("Rex left."))
}
