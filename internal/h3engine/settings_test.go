package h3engine

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerSettingsRoundTrip(t *testing.T) {
	want := ServerSettings()
	var buf bytes.Buffer
	require.NoError(t, want.WriteFrame(&buf))

	frameType, length, err := readFrameHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.EqualValues(t, frameTypeSettings, frameType)

	payload := buf.Bytes()[len(buf.Bytes())-int(length):]
	got, err := ParseSettingsPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseSettingsPayloadRejectsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	qw := quicvarint.NewWriter(&buf)
	require.NoError(t, quicvarint.Write(qw, uint64(SettingH3Datagram)))
	require.NoError(t, quicvarint.Write(qw, 1))
	require.NoError(t, quicvarint.Write(qw, uint64(SettingH3Datagram)))
	require.NoError(t, quicvarint.Write(qw, 1))

	_, err := ParseSettingsPayload(buf.Bytes())
	assert.Error(t, err)
}

func TestSettingsAccessors(t *testing.T) {
	s := Settings{SettingEnableConnectProtocol: 1, SettingH3Datagram: 0}
	assert.True(t, s.EnableConnectProtocol())
	assert.False(t, s.H3Datagram())
}
