package engine

import (
	"log/slog"
	"sync"

	"github.com/corvidquic/echoserver/internal/h3engine"
)

const (
	maxMethodLen   = 15
	maxPathLen     = 255
	maxProtocolLen = 31
)

// requestState accumulates pseudo-headers for one request stream between
// BeginHeaders and EndHeaders.
type requestState struct {
	method   string
	path     string
	protocol string
}

// dispatcher implements h3engine.RequestHandler by routing decoded request
// headers to the stream-kind/response table in end_headers, and forwarding
// any raw bytes that follow an upgraded stream into the owning Connection's
// registry.
type dispatcher struct {
	conn   *Connection
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[int64]*requestState
}

func newDispatcher(conn *Connection, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		conn:     conn,
		logger:   logger,
		inflight: make(map[int64]*requestState),
	}
}

func (d *dispatcher) BeginHeaders(streamID int64) {
	d.mu.Lock()
	d.inflight[streamID] = &requestState{}
	d.mu.Unlock()
}

func (d *dispatcher) RecvHeader(streamID int64, name, value string) {
	d.mu.Lock()
	rs, ok := d.inflight[streamID]
	d.mu.Unlock()
	if !ok {
		return
	}
	switch name {
	case ":method":
		rs.method = truncate(value, maxMethodLen)
	case ":path":
		rs.path = truncate(value, maxPathLen)
	case ":protocol":
		rs.protocol = truncate(value, maxProtocolLen)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func (d *dispatcher) EndHeaders(streamID int64, fin bool) h3engine.Response {
	d.mu.Lock()
	rs := d.inflight[streamID]
	delete(d.inflight, streamID)
	d.mu.Unlock()
	if rs == nil {
		rs = &requestState{}
	}

	stream := d.conn.registry.GetOrCreate(streamID)
	stream.Method = rs.method
	stream.Path = rs.path
	stream.Protocol = rs.protocol

	settings := d.conn.peerSettings

	switch {
	case rs.method == "CONNECT" && rs.protocol == "webtransport":
		if !settings.EnableConnectProtocol() || !settings.H3Datagram() {
			d.logAssign(streamID, "405-webtransport-not-advertised")
			_ = stream.SetKind(KindH3Request)
			return h3engine.Response{Status: 405}
		}
		if err := stream.SetKind(KindWTBidi); err != nil {
			d.logAssign(streamID, "kind-transition-error")
			return h3engine.Response{Status: 500}
		}
		d.conn.setWTSessionStream(streamID)
		d.logAssign(streamID, "webtransport-connect")
		return h3engine.Response{
			Status:  200,
			Headers: [][2]string{{"sec-webtransport-http3-draft", "draft02"}},
			Upgrade: true,
		}

	case rs.method == "CONNECT" && rs.protocol == "websocket":
		if err := stream.SetKind(KindWebSocket); err != nil {
			d.logAssign(streamID, "kind-transition-error")
			return h3engine.Response{Status: 500}
		}
		d.logAssign(streamID, "websocket-connect")
		return h3engine.Response{Status: 200, Upgrade: true}

	case rs.method == "GET" && (rs.path == "/" || rs.path == "/.well-known/webtransport"):
		_ = stream.SetKind(KindH3Request)
		d.logAssign(streamID, "get-root")
		return h3engine.Response{
			Status:  200,
			Headers: [][2]string{{"content-type", "text/plain"}},
		}

	case rs.method == "GET":
		_ = stream.SetKind(KindH3Request)
		d.logAssign(streamID, "get-unknown-path")
		return h3engine.Response{Status: 404}

	default:
		_ = stream.SetKind(KindH3Request)
		d.logAssign(streamID, "unknown-method")
		return h3engine.Response{Status: 405}
	}
}

func (d *dispatcher) logAssign(streamID int64, outcome string) {
	if d.logger == nil {
		return
	}
	d.logger.Debug("request dispatched", "stream", streamID, "outcome", outcome)
}

// RecvData forwards bytes received on an already-upgraded (WT/WebSocket)
// stream into its egress buffer, per the echo contract: inbound bytes on
// such a stream become outbound bytes on the same stream.
func (d *dispatcher) RecvData(streamID int64, data []byte) {
	stream := d.conn.registry.Get(streamID)
	if stream == nil {
		return
	}
	switch stream.Kind {
	case KindWTBidi, KindWebSocket:
		stream.Append(data)
		d.conn.wake()
	default:
		// GET/H3Request streams define no body in this core; any data that
		// arrives is simply discarded.
	}
}

func (d *dispatcher) EndStream(streamID int64) {
	stream := d.conn.registry.Get(streamID)
	if stream == nil {
		return
	}
	stream.SetFinReceived()
	d.conn.wake()
}
