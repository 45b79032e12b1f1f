package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKindTransitions(t *testing.T) {
	s := newStream(0)
	require.NoError(t, s.SetKind(KindH3Request))
	require.NoError(t, s.SetKind(KindWTBidi), "H3Request -> WTBidi is the only legal CONNECT transition")
	assert.Error(t, s.SetKind(KindWebSocket), "a stream's kind is assigned at most once beyond the single WT/WS transition")
}

func TestStreamKindDirectAssignmentIsOneShot(t *testing.T) {
	s := newStream(1)
	require.NoError(t, s.SetKind(KindRawEcho))
	assert.Error(t, s.SetKind(KindH3Request))
}

func TestStreamAppendTruncatesAtCapacity(t *testing.T) {
	s := newStream(2)
	big := make([]byte, streamCapacity+100)
	n := s.Append(big)
	assert.Equal(t, streamCapacity, n)
	assert.Equal(t, 0, s.Append([]byte("more")), "no room left once capacity is reached")
}

func TestStreamPendingAndTakeAdvance(t *testing.T) {
	s := newStream(3)
	assert.False(t, s.Pending())

	s.Append([]byte("ping"))
	assert.True(t, s.Pending())

	chunk, fin := s.Take(2)
	assert.Equal(t, []byte("pi"), chunk)
	assert.False(t, fin)
	s.Advance(2, fin)
	assert.True(t, s.Pending())

	s.SetFinReceived()
	chunk, fin = s.Take(10)
	assert.Equal(t, []byte("ng"), chunk)
	assert.True(t, fin, "FIN accompanies the final chunk once all captured bytes are drained")
	s.Advance(2, fin)

	assert.False(t, s.Pending())
}

func TestStreamPendingFinOnlyOnceAllBytesSent(t *testing.T) {
	s := newStream(4)
	s.Append([]byte("abcd"))
	s.SetFinReceived()
	assert.True(t, s.Pending())

	chunk, fin := s.Take(2)
	assert.False(t, fin, "FIN must not be reported before the buffer is fully drained")
	s.Advance(len(chunk), fin)
	assert.True(t, s.Pending())
}
