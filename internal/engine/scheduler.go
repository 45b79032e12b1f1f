package engine

// maxUDPPayload bounds every write handed to a single stream per scheduler
// pass, matching the connection's MAX_UDP_PAYLOAD (1200 bytes); quic-go
// itself still packs multiple stream frames per UDP datagram; this bound is
// a conservative per-call chunk size, not a strict one-write-per-datagram
// rule.
const maxUDPPayload = 1200

// runScheduler is the per-connection write-scheduler goroutine. It wakes on
// c.wakeCh, and on each wake walks the registry for the first stream (in
// insertion order) with pending egress data or an unflushed FIN, writes up
// to maxUDPPayload bytes to it, and repeats until no stream has anything
// pending or that first stream cannot be flushed (the rest then wait for the
// next wake) -- a work-conserving, not-fair policy, matching the
// specification's "first stream with pending data in registry-insertion
// order wins" rule.
func (c *Connection) runScheduler() {
	for range c.wakeCh {
		for {
			s := c.registry.FirstPending()
			if s == nil {
				break
			}
			if !c.flushStream(s) {
				break
			}
		}
	}
}

// flushStream writes one chunk of s's pending egress bytes to its
// registered transport stream. It returns false if nothing could be
// written this pass (e.g. the stream's transport handle has not been
// registered yet, or the write failed and the stream was dropped) so the
// caller can stop spinning.
func (c *Connection) flushStream(s *Stream) bool {
	conn := c.streamConn(s.ID)
	if conn == nil {
		return false
	}

	chunk, fin := s.Take(maxUDPPayload)
	if len(chunk) == 0 && !fin {
		return false
	}

	n, err := conn.Write(chunk)
	if err != nil {
		c.noteStreamError(s.ID, err)
		c.registry.Remove(s.ID)
		c.unregisterStreamConn(s.ID)
		c.clearWTSessionStream(s.ID)
		return false
	}
	s.Advance(n, fin && n == len(chunk))
	c.bytesEchoed.Add(int64(n))

	if fin && n == len(chunk) {
		conn.Close()
		c.registry.Remove(s.ID)
		c.unregisterStreamConn(s.ID)
		c.clearWTSessionStream(s.ID)
	}
	return true
}

// wake signals the scheduler goroutine that new egress data or a new FIN
// may be pending. It never blocks: a pending signal already in the channel
// is enough to trigger a full registry re-scan.
func (c *Connection) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}
