package engine

import (
	"fmt"
	"sync"
)

// streamCapacity bounds every per-stream egress buffer at 64 KiB, matching
// the echo buffering concession described for this server: sufficient for
// echo semantics, not a general-purpose stream multiplexer.
const streamCapacity = 64 * 1024

// StreamKind identifies what a stream is being used for. It is assigned at
// most once; the only legal transitions are H3Request -> WTBidi and
// H3Request -> WebSocket, both made at CONNECT dispatch time.
type StreamKind int

const (
	KindUnassigned StreamKind = iota
	KindRawEcho
	KindH3Request
	KindWTBidi
	KindWTUni
	KindWebSocket
)

func (k StreamKind) String() string {
	switch k {
	case KindRawEcho:
		return "raw-echo"
	case KindH3Request:
		return "h3-request"
	case KindWTBidi:
		return "wt-bidi"
	case KindWTUni:
		return "wt-uni"
	case KindWebSocket:
		return "websocket"
	default:
		return "unassigned"
	}
}

// noStream is the sentinel stream id meaning "none", used for
// Stream.WTSession and Connection.wtSessionStream.
const noStream int64 = -1

// Stream is the per-stream state the engine tracks. It mirrors the data
// model in the specification: a bounded egress buffer, a send offset that
// only ever advances, and the captured pseudo-headers needed to dispatch an
// HTTP/3 request.
type Stream struct {
	ID   int64
	Kind StreamKind

	// mu guards the egress-buffer fields below: the pump goroutine appends
	// inbound bytes while the scheduler goroutine drains them concurrently.
	mu       sync.Mutex
	sendbuf  []byte
	sendoff  int
	sendlen  int
	finRecvd bool
	finSent  bool

	Method   string
	Path     string
	Protocol string

	// WTSession is the stream id of the owning WebTransport session if this
	// stream is a WT data stream (bidi or uni), or noStream otherwise.
	WTSession int64
}

// newStream allocates a Stream with an empty bounded egress buffer.
func newStream(id int64) *Stream {
	return &Stream{
		ID:        id,
		sendbuf:   make([]byte, 0, 4096),
		WTSession: noStream,
	}
}

// SetKind assigns a stream's kind, enforcing the one-shot / restricted
// transition invariant from the data model.
func (s *Stream) SetKind(k StreamKind) error {
	if s.Kind == k {
		return nil
	}
	if s.Kind == KindUnassigned {
		s.Kind = k
		return nil
	}
	if s.Kind == KindH3Request && (k == KindWTBidi || k == KindWebSocket) {
		s.Kind = k
		return nil
	}
	return fmt.Errorf("stream %d: illegal kind transition %s -> %s", s.ID, s.Kind, k)
}

// Append copies data into the egress buffer, truncating silently at
// capacity. It returns the number of bytes actually buffered; bytes past
// capacity are dropped (see the design note on raw-echo truncation).
func (s *Stream) Append(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := streamCapacity - s.sendlen
	if room <= 0 {
		return 0
	}
	if len(data) > room {
		data = data[:room]
	}
	s.sendbuf = append(s.sendbuf, data...)
	s.sendlen += len(data)
	return len(data)
}

// SetFinReceived marks that the peer has signaled FIN on this stream. FIN is
// only echoed once every captured byte has been sent (see Pending).
func (s *Stream) SetFinReceived() {
	s.mu.Lock()
	s.finRecvd = true
	s.mu.Unlock()
}

// FinReceived reports whether the peer has signaled FIN.
func (s *Stream) FinReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finRecvd
}

// Pending reports whether this stream has unsent bytes, or has received FIN
// but not yet echoed it.
func (s *Stream) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendoff < s.sendlen || (s.finRecvd && s.sendoff == s.sendlen && !s.finSent)
}

// Take returns a copy of the next chunk of unsent bytes, up to max bytes,
// along with whether FIN should accompany this write (true only on the
// final chunk). It copies rather than slicing sendbuf directly because the
// pump goroutine may concurrently append and reallocate sendbuf's backing
// array.
func (s *Stream) Take(max int) (chunk []byte, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.sendlen - s.sendoff
	if remaining > max {
		remaining = max
	}
	chunk = make([]byte, remaining)
	copy(chunk, s.sendbuf[s.sendoff:s.sendoff+remaining])
	newOff := s.sendoff + remaining
	fin = s.finRecvd && newOff == s.sendlen && !s.finSent
	return chunk, fin
}

// Advance records that n bytes (and, if fin, the FIN) were handed to the
// transport successfully.
func (s *Stream) Advance(n int, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendoff += n
	if s.sendoff > s.sendlen {
		s.sendoff = s.sendlen
	}
	if fin {
		s.finSent = true
	}
}
