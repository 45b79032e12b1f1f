package h3engine

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Unidirectional stream types (RFC 9114 §6.2).
const (
	streamTypeControl      = 0x00
	streamTypePush         = 0x01
	streamTypeQPACKEncoder = 0x02
	streamTypeQPACKDecoder = 0x03
)

// Frame types (RFC 9114 §7.2).
const (
	frameTypeData     = 0x0
	frameTypeHeaders  = 0x1
	frameTypeSettings = 0x4
)

// maxFrameHeaderLen bounds how large a frame's declared length may be before
// this engine refuses to buffer it, guarding against a hostile peer claiming
// an enormous HEADERS/SETTINGS frame.
const maxFrameHeaderLen = 64 * 1024

// writeTypedStreamHeader writes the single varint that identifies a
// unidirectional stream's type, per RFC 9114 §6.2.
func writeTypedStreamHeader(w io.Writer, streamType uint64) error {
	qw := quicvarint.NewWriter(w)
	return quicvarint.Write(qw, streamType)
}

// readFrameHeader reads a (type, length) pair from r, the prefix of every
// HTTP/3 frame.
func readFrameHeader(r io.ByteReader) (frameType uint64, length uint64, err error) {
	frameType, err = quicvarint.Read(r)
	if err != nil {
		return 0, 0, err
	}
	length, err = quicvarint.Read(r)
	if err != nil {
		return 0, 0, err
	}
	if length > maxFrameHeaderLen {
		return 0, 0, fmt.Errorf("frame type %#x too large: %d bytes", frameType, length)
	}
	return frameType, length, nil
}

// writeFrameHeader writes a (type, length) pair.
func writeFrameHeader(w io.Writer, frameType, length uint64) error {
	qw := quicvarint.NewWriter(w)
	if err := quicvarint.Write(qw, frameType); err != nil {
		return err
	}
	return quicvarint.Write(qw, length)
}

// writeHeadersFrame writes a HEADERS frame (type 0x1) wrapping an
// already-QPACK-encoded header block.
func writeHeadersFrame(w io.Writer, headerBlock []byte) error {
	if err := writeFrameHeader(w, frameTypeHeaders, uint64(len(headerBlock))); err != nil {
		return err
	}
	_, err := w.Write(headerBlock)
	return err
}
