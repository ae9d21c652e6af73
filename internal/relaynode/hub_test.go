package relaynode

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toonchat/compass/internal/adapters/relay"
)

type recSender struct {
	mu     sync.Mutex
	frames []relay.Frame
}

func (s *recSender) TrySend(data []byte) error {
	var f relay.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recSender) Close() {}

func (s *recSender) byType(frameType string) []relay.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []relay.Frame
	for _, f := range s.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func TestJoinAnnouncesToExistingMembersOnly(t *testing.T) {
	hub := NewHub()
	a, b := &recSender{}, &recSender{}

	hub.Join("g", "peer-a", a)
	hub.Join("g", "peer-b", b)

	joins := a.byType(relay.FramePeerJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "peer-b", joins[0].Peer)
	assert.Empty(t, b.byType(relay.FramePeerJoin), "the joiner gets no announcements")
	assert.Equal(t, 2, hub.GroupSize("g"))
}

func TestFanoutStampsOriginAndSkipsSender(t *testing.T) {
	hub := NewHub()
	a, b, c := &recSender{}, &recSender{}, &recSender{}
	hub.Join("g", "peer-a", a)
	hub.Join("g", "peer-b", b)
	hub.Join("g", "peer-c", c)

	payload := json.RawMessage(`{"type":"chat","sender":"Nova","text":"hi"}`)
	hub.Fanout("g", "peer-a", payload)

	assert.Empty(t, a.byType(relay.FrameData), "no echo to the origin")
	for _, other := range []*recSender{b, c} {
		frames := other.byType(relay.FrameData)
		require.Len(t, frames, 1)
		assert.Equal(t, "peer-a", frames[0].Peer)
		assert.JSONEq(t, string(payload), string(frames[0].Payload))
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	hub := NewHub()
	a, b := &recSender{}, &recSender{}
	hub.Join("g1", "peer-a", a)
	hub.Join("g2", "peer-b", b)

	hub.Fanout("g1", "peer-a", json.RawMessage(`{"type":"chat"}`))
	assert.Empty(t, b.frames)
	assert.Empty(t, a.byType(relay.FramePeerJoin))
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	hub := NewHub()
	a, b := &recSender{}, &recSender{}
	hub.Join("g", "peer-a", a)
	hub.Join("g", "peer-b", b)

	hub.Leave("g", "peer-b")
	lefts := a.byType(relay.FramePeerLeft)
	require.Len(t, lefts, 1)
	assert.Equal(t, "peer-b", lefts[0].Peer)
	assert.Equal(t, 1, hub.GroupSize("g"))

	hub.Leave("g", "peer-b")
	assert.Len(t, a.byType(relay.FramePeerLeft), 1, "double leave is a no-op")
}

func TestGroupDigestHidesSecret(t *testing.T) {
	same := relay.GroupDigest("topic", "pw")
	assert.Equal(t, same, relay.GroupDigest("topic", "pw"))
	assert.NotEqual(t, same, relay.GroupDigest("topic", "other"))
	assert.NotContains(t, same, "pw")
	assert.Len(t, same, 64)
}
