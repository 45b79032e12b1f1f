package h3engine

import (
	"bytes"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Setting identifiers this engine understands (RFC 9114 §7.2.4.1, RFC 9220,
// RFC 9297).
type Setting uint64

const (
	SettingQPACKMaxTableCapacity Setting = 0x1
	SettingMaxFieldSectionSize   Setting = 0x6
	SettingQPACKBlockedStreams   Setting = 0x7
	SettingEnableConnectProtocol Setting = 0x8
	SettingH3Datagram            Setting = 0x33
)

func (s Setting) String() string {
	switch s {
	case SettingQPACKMaxTableCapacity:
		return "QPACK_MAX_TABLE_CAPACITY"
	case SettingMaxFieldSectionSize:
		return "MAX_FIELD_SECTION_SIZE"
	case SettingQPACKBlockedStreams:
		return "QPACK_BLOCKED_STREAMS"
	case SettingEnableConnectProtocol:
		return "ENABLE_CONNECT_PROTOCOL"
	case SettingH3Datagram:
		return "H3_DATAGRAM"
	default:
		return fmt.Sprintf("H3 SETTING %#x", uint64(s))
	}
}

// Settings is a parsed/to-be-sent SETTINGS frame, keyed by identifier.
type Settings map[Setting]uint64

// ServerSettings returns the fixed SETTINGS this server advertises: QPACK
// dynamic table capacity and blocked-streams bound, extended CONNECT
// (WebTransport/WebSocket upgrade) and HTTP/3 DATAGRAM support.
func ServerSettings() Settings {
	return Settings{
		SettingQPACKMaxTableCapacity: 4096,
		SettingQPACKBlockedStreams:   100,
		SettingEnableConnectProtocol: 1,
		SettingH3Datagram:            1,
	}
}

// EnableConnectProtocol reports whether the peer advertised extended
// CONNECT support (RFC 9220).
func (s Settings) EnableConnectProtocol() bool { return s[SettingEnableConnectProtocol] == 1 }

// H3Datagram reports whether the peer advertised HTTP/3 DATAGRAM support
// (RFC 9297). A WebTransport response is only valid if both this and
// EnableConnectProtocol are advertised.
func (s Settings) H3Datagram() bool { return s[SettingH3Datagram] == 1 }

// WriteFrame serializes the settings as a SETTINGS frame (type 0x4).
func (s Settings) WriteFrame(w io.Writer) error {
	var length uint64
	for id, val := range s {
		length += uint64(quicvarint.Len(uint64(id))) + uint64(quicvarint.Len(val))
	}
	if err := writeFrameHeader(w, frameTypeSettings, length); err != nil {
		return err
	}
	qw := quicvarint.NewWriter(w)
	for id, val := range s {
		if err := quicvarint.Write(qw, uint64(id)); err != nil {
			return err
		}
		if err := quicvarint.Write(qw, val); err != nil {
			return err
		}
	}
	return nil
}

// ParseSettingsPayload parses a SETTINGS frame payload (the bytes after the
// type/length header have already been read into buf).
func ParseSettingsPayload(buf []byte) (Settings, error) {
	s := Settings{}
	r := bytes.NewReader(buf)
	for {
		id, err := quicvarint.Read(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read setting id: %w", err)
		}
		val, err := quicvarint.Read(r)
		if err != nil {
			return nil, fmt.Errorf("read setting value: %w", err)
		}
		if _, dup := s[Setting(id)]; dup {
			return nil, fmt.Errorf("duplicate setting %#x", id)
		}
		s[Setting(id)] = val
	}
	return s, nil
}
