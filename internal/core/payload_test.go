package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadHandshakeTags(t *testing.T) {
	p, err := DecodePayload([]byte(`{"type":"handshake","sender":"Nova"}`))
	require.NoError(t, err)
	assert.Equal(t, KindHello, p.Kind)
	assert.Equal(t, "Nova", p.Sender)
	assert.True(t, p.IsHandshake())

	p, err = DecodePayload([]byte(`{"type":"handshake-reply","sender":"Rex"}`))
	require.NoError(t, err)
	assert.Equal(t, KindHelloAck, p.Kind)
	assert.True(t, p.IsHandshake())
}

func TestDecodePayloadChat(t *testing.T) {
	p, err := DecodePayload([]byte(`{"type":"chat","sender":"Rex","text":"hi","timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, KindChat, p.Kind)
	assert.Equal(t, "hi", p.Text)
	assert.EqualValues(t, 1700000000000, p.Timestamp)
	assert.False(t, p.IsHandshake())
}

func TestDecodePayloadQuarantinesUnknownTag(t *testing.T) {
	_, err := DecodePayload([]byte(`{"type":"exploit","sender":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)

	_, err = DecodePayload([]byte(`{ bad json`))
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	orig := Chat("Nova", "hello world", 42)
	raw, err := orig.Encode()
	require.NoError(t, err)
	back, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}
