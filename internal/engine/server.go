package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// DefaultAddr is the UDP endpoint this server binds by default.
	DefaultAddr = "0.0.0.0:4433"
	// MaxUDPPayload is the largest chunk of stream data the write scheduler
	// hands to a stream in one write. It does not bound the size of the UDP
	// datagrams quic-go emits; quic-go packetizes with its own packet size.
	MaxUDPPayload = maxUDPPayload
	// IdleTimeout matches max_idle_timeout in the advertised transport
	// parameters: 30 seconds of silence closes the connection.
	IdleTimeout = 30 * time.Second
	// InitialMaxStreamsBidi and InitialMaxStreamsUni match the transport
	// parameters this server advertises.
	InitialMaxStreamsBidi = 100
	InitialMaxStreamsUni  = 10
	// connectionIDLen is the length of server-generated source connection
	// IDs, matching the 16-byte CIDs the specification calls for.
	connectionIDLen = 16
	// initialStreamReceiveWindow and initialConnectionReceiveWindow match
	// initial_max_stream_data_bidi_local/remote/uni and initial_max_data in
	// the transport parameters this server advertises. Initial and max are
	// set equal so quic-go never auto-tunes the window away from these
	// fixed values.
	initialStreamReceiveWindow     = 262144
	initialConnectionReceiveWindow = 1048576
	// maxDatagramFrameSize matches max_datagram_frame_size in the advertised
	// transport parameters.
	maxDatagramFrameSize = 65535
)

// Config configures a Listener.
type Config struct {
	Addr     string
	CertFile string
	KeyFile  string
	Logger   *slog.Logger
}

// Listener accepts QUIC connections on a single UDP socket and demultiplexes
// them by negotiated ALPN: "h3" drives the HTTP/3 engine, "echo" drives raw
// stream/datagram echo. Both share the same Connection/Registry/Scheduler
// machinery; only the transport-binding entry point differs.
type Listener struct {
	quicLn  *quic.Listener
	logger  *slog.Logger
	entropy *Entropy
}

// Listen opens the UDP socket and QUIC listener. It does not accept
// connections until Serve is called.
func Listen(cfg Config) (*Listener, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tlsCfg, err := TLSConfig(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	entropy, err := NewEntropy()
	if err != nil {
		return nil, fmt.Errorf("init entropy source: %w", err)
	}

	quicCfg := &quic.Config{
		MaxIdleTimeout:                 IdleTimeout,
		ConnectionIDLength:             connectionIDLen,
		StatelessResetKey:              entropy.StatelessResetKey(),
		EnableDatagrams:                true,
		MaxIncomingStreams:             InitialMaxStreamsBidi,
		MaxIncomingUniStreams:          InitialMaxStreamsUni,
		InitialStreamReceiveWindow:     initialStreamReceiveWindow,
		MaxStreamReceiveWindow:         initialStreamReceiveWindow,
		InitialConnectionReceiveWindow: initialConnectionReceiveWindow,
		MaxConnectionReceiveWindow:     initialConnectionReceiveWindow,
		MaxDatagramFrameSize:           maxDatagramFrameSize,
	}

	ln, err := quic.ListenAddr(cfg.Addr, tlsCfg, quicCfg)
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", cfg.Addr, err)
	}

	cfg.Logger.Info("quic echo listener ready", "addr", cfg.Addr, "alpn", alpnOrder)
	return &Listener{quicLn: ln, logger: cfg.Logger, entropy: entropy}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, spawning one Connection per accepted QUIC connection.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		qc, err := l.quicLn.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("accept error", "err", err)
			continue
		}
		go l.serveConn(ctx, qc)
	}
}

func (l *Listener) serveConn(ctx context.Context, qc *quic.Conn) {
	alpn, err := NegotiatedALPN(ctx, qc)
	if err != nil {
		l.logger.Warn("handshake did not complete", "remote", qc.RemoteAddr(), "err", err)
		return
	}
	if alpn != ALPNH3 && alpn != ALPNEcho {
		qc.CloseWithError(0, "unsupported ALPN")
		return
	}

	l.logger.Info("connection established", "remote", qc.RemoteAddr(), "alpn", alpn)
	conn := newConnection(qc, alpn, l.logger)
	conn.run(ctx)
	l.logger.Info("connection closed", "remote", qc.RemoteAddr(), "stats", conn.Stats())
}

// Close shuts down the listener and stops accepting new connections.
func (l *Listener) Close() error {
	if l.quicLn == nil {
		return nil
	}
	return l.quicLn.Close()
}

// Addr returns the listener's local UDP address.
func (l *Listener) Addr() string {
	if l.quicLn == nil {
		return ""
	}
	return l.quicLn.Addr().String()
}
