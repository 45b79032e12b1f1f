package engine

import (
	"context"
	"errors"
	"io"

	"github.com/quic-go/quic-go"
)

// pumpRawStream drains a raw (non-HTTP/3-framed) bidirectional stream into
// its Stream record: RawEcho streams from the start, or WTBidi/WebSocket
// streams after their CONNECT has been accepted and the HTTP/3 engine has
// handed the stream back raw. Writes back out happen separately, on the
// write scheduler's goroutine, using the same *quic.Stream registered in
// streamConns.
func (c *Connection) pumpRawStream(stream *quic.Stream) {
	id := int64(stream.StreamID())
	s := c.registry.GetOrCreate(id)
	c.registerStreamConn(id, stream)

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			s.Append(buf[:n])
			c.wake()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.noteStreamError(id, err)
			}
			s.SetFinReceived()
			c.wake()
			return
		}
	}
}

// handleBidiStream is the transport binding's stream_open/recv_stream_data
// entry point for a peer-initiated bidirectional stream: it decides,
// per-ALPN, whether the stream is raw echo or an HTTP/3 request, and pumps
// it accordingly. It returns once the stream's read side reaches FIN or
// error; the write side continues to be served by the scheduler until the
// stream has no more pending bytes.
func (c *Connection) handleBidiStream(stream *quic.Stream) {
	id := int64(stream.StreamID())

	if c.h3 != nil {
		upgraded, err := c.h3.HandleRequest(stream, c.dispatcher)
		if err != nil {
			c.logger.Warn("request stream failed", "stream", id, "err", err)
			c.registry.Remove(id)
			return
		}
		if !upgraded {
			// Response already written and the stream already closed by
			// the HTTP/3 engine; nothing further to pump.
			c.registry.Remove(id)
			return
		}
		c.pumpRawStream(stream)
		return
	}

	s := c.registry.GetOrCreate(id)
	_ = s.SetKind(KindRawEcho)
	c.pumpRawStream(stream)
}

// handleUniStream drains a peer-initiated unidirectional stream. In echo
// mode (no HTTP/3 engine) these carry no defined semantics for this server;
// the bytes are discarded. In h3 mode, the HTTP/3 engine's own
// acceptPeerUniStreams loop (started by h3engine.Open) already owns control
// and QPACK streams, so this path is only reached for ALPN=echo.
func (c *Connection) handleUniStream(stream quic.ReceiveStream) {
	buf := make([]byte, 4096)
	for {
		if _, err := stream.Read(buf); err != nil {
			return
		}
	}
}

// pumpDatagrams echoes every inbound HTTP/3 DATAGRAM (or, in echo mode,
// QUIC DATAGRAM) verbatim, dropping it silently if the connection can no
// longer accept one -- the specification's recv_datagram contract.
func (c *Connection) pumpDatagrams(ctx context.Context) {
	for {
		data, err := c.quicConn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		c.datagramsReceived.Add(1)
		if sendErr := c.quicConn.SendDatagram(data); sendErr == nil {
			c.datagramsEchoed.Add(1)
		}
		// accepted=false (buffer full, datagram too large, or datagram
		// support not negotiated) is dropped silently, per spec.
	}
}
