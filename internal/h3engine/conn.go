// Package h3engine implements the HTTP/3 framing layer on top of a raw QUIC
// connection: control and QPACK stream setup, SETTINGS exchange, and
// per-request HEADERS parsing/dispatch. It never reimplements QUIC itself —
// that is quic-go's job — and never reimplements QPACK's Huffman/static
// table codec, only the frame and stream-type envelopes RFC 9114 wraps
// around it.
package h3engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
)

// RequestHandler receives the per-request-stream callbacks a Conn produces
// while parsing an incoming bidirectional stream: one BeginHeaders/RecvHeader
// sequence terminated by EndHeaders (which returns the dispatch decision),
// then, only for streams the handler did not upgrade, one RecvData call per
// trailing DATA frame and a final EndStream. An upgraded stream is handed
// back to the caller right after its response, with no further callbacks.
type RequestHandler interface {
	BeginHeaders(streamID int64)
	RecvHeader(streamID int64, name, value string)
	EndHeaders(streamID int64, fin bool) Response
	RecvData(streamID int64, data []byte)
	EndStream(streamID int64)
}

// Response is the dispatch decision for a request stream.
type Response struct {
	Status  int
	Headers [][2]string
	// Upgrade marks a 2xx response to an extended CONNECT as accepted: once
	// written, the stream carries raw tunnel bytes, not further H3 frames,
	// per RFC 9220 §4. Conn stops parsing frames on the stream immediately
	// after writing the response and returns control to the caller.
	Upgrade bool
}

// Conn is one HTTP/3 mapping over a QUIC connection.
type Conn struct {
	quicConn *quic.Conn
	logger   *slog.Logger

	local Settings

	controlStream quic.SendStream
	encoderStream quic.SendStream
	decoderStream quic.SendStream

	decoder *qpack.Decoder

	mu           sync.Mutex
	peer         Settings
	peerReady    chan struct{}
	peerReadyHit bool
}

// Open establishes the HTTP/3 control-stream triple (control, QPACK encoder,
// QPACK decoder) and sends this server's SETTINGS frame. It requires at
// least 3 peer-allowed unidirectional stream credits; if fewer are
// available, setup fails immediately (quic-go's non-blocking OpenUniStream
// surfaces this as a stream-limit error rather than hanging).
func Open(ctx context.Context, conn *quic.Conn, logger *slog.Logger) (*Conn, error) {
	c := &Conn{
		quicConn:  conn,
		logger:    logger,
		local:     ServerSettings(),
		peerReady: make(chan struct{}),
	}
	c.decoder = qpack.NewDecoder(func(qpack.HeaderField) {})

	ctrl, err := conn.OpenUniStream()
	if err != nil {
		return nil, fmt.Errorf("open control stream: %w", err)
	}
	enc, err := conn.OpenUniStream()
	if err != nil {
		return nil, fmt.Errorf("open qpack encoder stream: %w", err)
	}
	dec, err := conn.OpenUniStream()
	if err != nil {
		return nil, fmt.Errorf("open qpack decoder stream: %w", err)
	}

	if err := writeTypedStreamHeader(ctrl, streamTypeControl); err != nil {
		return nil, fmt.Errorf("write control stream header: %w", err)
	}
	if err := c.local.WriteFrame(ctrl); err != nil {
		return nil, fmt.Errorf("write settings frame: %w", err)
	}
	if err := writeTypedStreamHeader(enc, streamTypeQPACKEncoder); err != nil {
		return nil, fmt.Errorf("write qpack encoder stream header: %w", err)
	}
	if err := writeTypedStreamHeader(dec, streamTypeQPACKDecoder); err != nil {
		return nil, fmt.Errorf("write qpack decoder stream header: %w", err)
	}

	c.controlStream = ctrl
	c.encoderStream = enc
	c.decoderStream = dec

	go c.acceptPeerUniStreams(ctx)
	return c, nil
}

// PeerSettings blocks until the peer's control-stream SETTINGS frame has
// been received and parsed, or ctx is done.
func (c *Conn) PeerSettings(ctx context.Context) (Settings, error) {
	select {
	case <-c.peerReady:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.peer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) acceptPeerUniStreams(ctx context.Context) {
	for {
		str, err := c.quicConn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go c.handlePeerUniStream(str)
	}
}

func (c *Conn) handlePeerUniStream(str quic.ReceiveStream) {
	r := bufio.NewReader(str)
	typ, err := quicvarint.Read(r)
	if err != nil {
		return
	}
	switch typ {
	case streamTypeControl:
		c.handlePeerControlStream(r)
	case streamTypeQPACKEncoder, streamTypeQPACKDecoder:
		// This engine never inserts into the QPACK dynamic table, so the
		// peer's encoder/decoder streams never carry instructions it needs
		// to act on; the streams are drained and otherwise ignored.
		io.Copy(io.Discard, r)
	default:
		// Unknown unidirectional stream type (push, or a future grease
		// type): ignore per RFC 9114 §6.2.
		io.Copy(io.Discard, r)
	}
}

func (c *Conn) handlePeerControlStream(r *bufio.Reader) {
	frameType, length, err := readFrameHeader(r)
	if err != nil {
		return
	}
	if frameType != frameTypeSettings {
		c.quicConn.CloseWithError(ErrMissingSettings.AppCode(), "first frame on control stream was not SETTINGS")
		return
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return
	}
	settings, err := ParseSettingsPayload(buf)
	if err != nil {
		c.quicConn.CloseWithError(ErrSettingsError.AppCode(), "malformed settings")
		return
	}

	c.mu.Lock()
	c.peer = settings
	if !c.peerReadyHit {
		c.peerReadyHit = true
		close(c.peerReady)
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("received peer h3 settings",
			"connect_protocol", settings.EnableConnectProtocol(),
			"h3_datagram", settings.H3Datagram())
	}

	// The control stream stays open for the connection's lifetime; this
	// server never sends further control frames, but drain anything the
	// peer sends (e.g. a future extension frame) so the stream doesn't
	// block peer writes.
	for {
		_, length, err := readFrameHeader(r)
		if err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return
		}
	}
}

// HandleRequest reads exactly one HEADERS frame from stream, drives
// handler's BeginHeaders/RecvHeader/EndHeaders sequence, writes the
// resulting response, and then either returns control to the caller (for an
// upgraded CONNECT stream, which becomes a raw tunnel) or drains any
// trailing frames and closes the stream. The returned bool reports whether
// the stream was upgraded: true means the caller now owns raw I/O on
// stream; false means the response is already written and the stream
// already closed.
func (c *Conn) HandleRequest(stream *quic.Stream, handler RequestHandler) (bool, error) {
	id := int64(stream.StreamID())
	// quicvarint.NewReader, not bufio.NewReader: a CONNECT request can be
	// upgraded (Upgrade: true below), after which stream becomes a raw
	// tunnel handed back to the caller. bufio.Reader would read ahead in
	// 4096-byte chunks and stash any bytes the client pipelined right after
	// its HEADERS frame, stranding them where the raw pump never sees them.
	// quicvarint.Reader reads exactly as many bytes as each call asks for.
	br := quicvarint.NewReader(stream)

	frameType, length, err := readFrameHeader(br)
	if err != nil {
		return false, fmt.Errorf("read request headers frame: %w", err)
	}
	if frameType != frameTypeHeaders {
		stream.CancelRead(ErrFrameUnexpected.StreamCode())
		stream.CancelWrite(ErrFrameUnexpected.StreamCode())
		return false, fmt.Errorf("expected HEADERS frame on stream %d, got type %#x", id, frameType)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return false, fmt.Errorf("read headers payload: %w", err)
	}
	fields, err := c.decoder.DecodeFull(payload)
	if err != nil {
		stream.CancelRead(ErrFrameError.StreamCode())
		stream.CancelWrite(ErrFrameError.StreamCode())
		return false, fmt.Errorf("decode headers on stream %d: %w", id, err)
	}

	handler.BeginHeaders(id)
	for _, f := range fields {
		handler.RecvHeader(id, f.Name, f.Value)
	}
	// Whether the client also set FIN alongside its HEADERS frame doesn't
	// change the dispatch decision (the table in Application Dispatch keys
	// only on method/path/protocol), and peeking for it risks blocking
	// forever on a stream an extended CONNECT will keep open indefinitely.
	resp := handler.EndHeaders(id, false)

	if err := c.writeResponse(stream, resp); err != nil {
		return false, fmt.Errorf("write response on stream %d: %w", id, err)
	}

	if resp.Upgrade {
		return true, nil
	}

	// This server defines no request body for GET or rejected requests, but
	// a client may still send trailing DATA frames before its own FIN;
	// drain and forward them rather than silently dropping the connection.
	for {
		frameType, length, err := readFrameHeader(br)
		if err != nil {
			break
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			break
		}
		if frameType == frameTypeData {
			handler.RecvData(id, payload)
		}
	}

	handler.EndStream(id)
	return false, stream.Close()
}

func (c *Conn) writeResponse(stream io.Writer, resp Response) error {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	if err := enc.WriteField(qpack.HeaderField{Name: ":status", Value: strconv.Itoa(resp.Status)}); err != nil {
		return err
	}
	for _, h := range resp.Headers {
		if err := enc.WriteField(qpack.HeaderField{Name: h[0], Value: h[1]}); err != nil {
			return err
		}
	}
	return writeHeadersFrame(stream, buf.Bytes())
}
