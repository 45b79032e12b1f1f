package engine

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/corvidquic/echoserver/internal/h3engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *dispatcher {
	conn := newConnection(nil, ALPNH3, slog.New(slog.DiscardHandler))
	conn.peerSettings = h3engine.Settings{
		h3engine.SettingEnableConnectProtocol: 1,
		h3engine.SettingH3Datagram:            1,
	}
	return conn.dispatcher
}

func dispatch(d *dispatcher, id int64, headers map[string]string) h3engine.Response {
	d.BeginHeaders(id)
	for name, value := range headers {
		d.RecvHeader(id, name, value)
	}
	return d.EndHeaders(id, false)
}

func TestDispatchWebTransportConnect(t *testing.T) {
	d := newTestDispatcher()
	resp := dispatch(d, 4, map[string]string{
		":method":   "CONNECT",
		":protocol": "webtransport",
		":path":     "/wt",
	})
	require.Equal(t, 200, resp.Status)
	require.True(t, resp.Upgrade)
	assert.Equal(t, [][2]string{{"sec-webtransport-http3-draft", "draft02"}}, resp.Headers)

	id, ok := d.conn.WTSessionStream()
	require.True(t, ok)
	assert.Equal(t, int64(4), id)
	assert.Equal(t, KindWTBidi, d.conn.registry.Get(4).Kind)
}

func TestDispatchWebTransportRejectedWithoutAdvertisedSettings(t *testing.T) {
	d := newTestDispatcher()
	d.conn.peerSettings = h3engine.Settings{}
	resp := dispatch(d, 4, map[string]string{
		":method":   "CONNECT",
		":protocol": "webtransport",
	})
	assert.Equal(t, 405, resp.Status)
	assert.False(t, resp.Upgrade)
}

func TestDispatchWebSocketConnect(t *testing.T) {
	d := newTestDispatcher()
	resp := dispatch(d, 8, map[string]string{
		":method":   "CONNECT",
		":protocol": "websocket",
		":path":     "/ws",
	})
	assert.Equal(t, 200, resp.Status)
	assert.True(t, resp.Upgrade)
	assert.Equal(t, KindWebSocket, d.conn.registry.Get(8).Kind)
}

func TestDispatchGetRoot(t *testing.T) {
	d := newTestDispatcher()
	for _, path := range []string{"/", "/.well-known/webtransport"} {
		resp := dispatch(d, 12, map[string]string{":method": "GET", ":path": path})
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, [][2]string{{"content-type", "text/plain"}}, resp.Headers)
		assert.False(t, resp.Upgrade)
	}
}

func TestDispatchGetUnknownPath(t *testing.T) {
	d := newTestDispatcher()
	resp := dispatch(d, 16, map[string]string{":method": "GET", ":path": "/does-not-exist"})
	assert.Equal(t, 404, resp.Status)
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newTestDispatcher()
	resp := dispatch(d, 20, map[string]string{":method": "POST", ":path": "/"})
	assert.Equal(t, 405, resp.Status)
}

func TestDispatchTruncatesOverlongPseudoHeaders(t *testing.T) {
	d := newTestDispatcher()
	longPath := "/" + strings.Repeat("a", 300)
	d.BeginHeaders(24)
	d.RecvHeader(24, ":method", "GET")
	d.RecvHeader(24, ":path", longPath)
	d.EndHeaders(24, false)

	s := d.conn.registry.Get(24)
	require.NotNil(t, s)
	assert.Len(t, s.Path, maxPathLen)
}
