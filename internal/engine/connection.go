// Package engine implements the per-connection protocol engine: the
// transport binding, application dispatch, stream registry, and write
// scheduler that together drive a single QUIC connection through the
// handshake, HTTP/3 setup (when negotiated), and echo/WebTransport/
// WebSocket traffic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/corvidquic/echoserver/internal/h3engine"
	"github.com/quic-go/quic-go"
)

// Connection is the top-level object bound to a single QUIC 4-tuple. It
// owns the stream registry and, once HTTP/3 has been negotiated and set
// up, the HTTP/3 engine.
type Connection struct {
	quicConn *quic.Conn
	alpn     string
	logger   *slog.Logger

	registry   *Registry
	h3         *h3engine.Conn
	dispatcher *dispatcher

	peerSettings h3engine.Settings

	wakeCh chan struct{}

	streamConnsMu sync.Mutex
	streamConns   map[int64]*quic.Stream

	wtMu            sync.Mutex
	wtSessionStream int64

	lastErrMu sync.Mutex
	lastErr   error

	streamsOpened     atomic.Int64
	streamsClosed     atomic.Int64
	bytesEchoed       atomic.Int64
	datagramsReceived atomic.Int64
	datagramsEchoed   atomic.Int64
}

// Stats is a read-only snapshot of a connection's traffic counters.
type Stats struct {
	StreamsOpened     int64
	StreamsClosed     int64
	BytesEchoed       int64
	DatagramsReceived int64
	DatagramsEchoed   int64
}

func newConnection(qc *quic.Conn, alpn string, logger *slog.Logger) *Connection {
	c := &Connection{
		quicConn:        qc,
		alpn:            alpn,
		logger:          logger,
		registry:        NewRegistry(),
		wakeCh:          make(chan struct{}, 1),
		streamConns:     make(map[int64]*quic.Stream),
		wtSessionStream: noStream,
	}
	c.dispatcher = newDispatcher(c, logger)
	return c
}

// run drives the connection for its lifetime: HTTP/3 setup (if ALPN=h3),
// the bidi/uni stream accept loops, datagram echo, and the write
// scheduler. It returns when the connection closes or ctx is cancelled.
func (c *Connection) run(ctx context.Context) {
	if c.alpn == ALPNH3 {
		h3conn, err := h3engine.Open(ctx, c.quicConn, c.logger)
		if err != nil {
			c.logger.Warn("http3 setup failed", "remote", c.quicConn.RemoteAddr(), "err", err)
			c.quicConn.CloseWithError(h3engine.ErrInternalError.AppCode(), "http3 setup failed")
			return
		}
		c.h3 = h3conn
		settings, err := h3conn.PeerSettings(ctx)
		if err != nil {
			c.logger.Warn("did not receive peer h3 settings", "err", err)
			return
		}
		c.peerSettings = settings
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		c.acceptBidiStreams(ctx)
	}()
	go func() {
		defer wg.Done()
		c.acceptUniStreams(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pumpDatagrams(ctx)
	}()

	go c.runScheduler()

	wg.Wait()
	close(c.wakeCh)
}

func (c *Connection) acceptBidiStreams(ctx context.Context) {
	for {
		stream, err := c.quicConn.AcceptStream(ctx)
		if err != nil {
			return
		}
		c.streamsOpened.Add(1)
		go func() {
			c.handleBidiStream(stream)
			c.streamsClosed.Add(1)
		}()
	}
}

func (c *Connection) acceptUniStreams(ctx context.Context) {
	if c.alpn == ALPNH3 {
		// h3engine.Open already started its own accept loop for the
		// control and QPACK streams; this server defines no other
		// peer-initiated unidirectional stream use in h3 mode.
		select {
		case <-ctx.Done():
		case <-c.quicConn.Context().Done():
		}
		return
	}
	for {
		stream, err := c.quicConn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go c.handleUniStream(stream)
	}
}

// Close shuts the connection down with the given application error code and
// reason, per the error taxonomy's CONNECTION_CLOSE contract.
func (c *Connection) Close(code quic.ApplicationErrorCode, reason string) error {
	return c.quicConn.CloseWithError(code, reason)
}

// Stats returns a snapshot of this connection's traffic counters.
func (c *Connection) Stats() Stats {
	return Stats{
		StreamsOpened:     c.streamsOpened.Load(),
		StreamsClosed:     c.streamsClosed.Load(),
		BytesEchoed:       c.bytesEchoed.Load(),
		DatagramsReceived: c.datagramsReceived.Load(),
		DatagramsEchoed:   c.datagramsEchoed.Load(),
	}
}

// WTSessionStream returns the stream id hosting the active WebTransport
// session, or (noStream, false) if none has been established.
func (c *Connection) WTSessionStream() (int64, bool) {
	c.wtMu.Lock()
	defer c.wtMu.Unlock()
	if c.wtSessionStream == noStream {
		return noStream, false
	}
	return c.wtSessionStream, true
}

func (c *Connection) setWTSessionStream(id int64) {
	c.wtMu.Lock()
	c.wtSessionStream = id
	c.wtMu.Unlock()
}

// clearWTSessionStream tears down the WebTransport session state if it was
// hosted on stream id, which has just been removed from the registry.
func (c *Connection) clearWTSessionStream(id int64) {
	c.wtMu.Lock()
	if c.wtSessionStream == id {
		c.wtSessionStream = noStream
	}
	c.wtMu.Unlock()
}

func (c *Connection) registerStreamConn(id int64, stream *quic.Stream) {
	c.streamConnsMu.Lock()
	c.streamConns[id] = stream
	c.streamConnsMu.Unlock()
}

func (c *Connection) unregisterStreamConn(id int64) {
	c.streamConnsMu.Lock()
	delete(c.streamConns, id)
	c.streamConnsMu.Unlock()
}

func (c *Connection) streamConn(id int64) *quic.Stream {
	c.streamConnsMu.Lock()
	defer c.streamConnsMu.Unlock()
	return c.streamConns[id]
}

// noteStreamError logs and records the most recent per-stream transport
// error. It never propagates as a panic or returned error out of the
// scheduler or accept loops.
func (c *Connection) noteStreamError(id int64, err error) {
	if err == nil {
		return
	}
	var appErr *quic.ApplicationError
	var transportErr *quic.TransportError
	switch {
	case errors.As(err, &appErr), errors.As(err, &transportErr):
		// Peer-initiated reset/abort: expected traffic, not worth a warning.
		c.logger.Debug("stream closed by peer", "stream", id, "err", err)
	default:
		c.logger.Warn("stream I/O error", "stream", id, "err", err)
	}
	c.lastErrMu.Lock()
	c.lastErr = fmt.Errorf("stream %d: %w", id, err)
	c.lastErrMu.Unlock()
}
