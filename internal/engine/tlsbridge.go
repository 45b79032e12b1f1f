package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN preference order: h3 is tried first, echo second; if neither is
// offered crypto/tls's own "no application protocol" fatal alert fires,
// matching the specification's ALPN selection contract without a
// hand-written selector.
var alpnOrder = []string{"h3", "echo"}

const (
	ALPNH3   = "h3"
	ALPNEcho = "echo"
)

// TLSConfig returns the server-side TLS 1.3 configuration: either loaded
// from a cert/key file pair when both are given, or (if either is empty) a
// freshly generated self-signed ECDSA P-256 certificate for local
// development, matching the
// teacher's dual production/dev TLS setup.
func TLSConfig(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
	} else {
		cert, err = generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generate dev TLS cert: %w", err)
		}
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   append([]string(nil), alpnOrder...),
	}, nil
}

// generateSelfSignedCert produces an ECDSA P-256 self-signed certificate
// valid for localhost/loopback, for development use only.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate private key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"QUIC Echo Dev"}, CommonName: "localhost"},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: priv}, nil
}

// NegotiatedALPN reads the ALPN protocol the handshake settled on. It
// blocks until the handshake completes, as the specification requires
// ALPN to be observed only after handshake completion.
func NegotiatedALPN(ctx context.Context, conn *quic.Conn) (string, error) {
	select {
	case <-conn.HandshakeComplete():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return conn.ConnectionState().TLS.NegotiatedProtocol, nil
}
