package pgtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// SelfSignedServerTLSConfig generates an ECDSA self-signed certificate for
// "localhost" and returns a *tls.Config suitable for tls.Server, for driving
// the SSL negotiation path in tests without a real CA.
func SelfSignedServerTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pgtest: generating key: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("pgtest: creating certificate: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// UpgradeToTLS reads the client's untagged SSLRequest, replies 'S' to accept,
// and performs the server side of the TLS handshake in place on s.Conn. On
// success s.Conn is replaced by the TLS-wrapped connection so subsequent
// ReadMessage/Write* calls operate on the encrypted channel, mirroring how a
// real backend continues the startup phase after accepting SSL.
func (s *Server) UpgradeToTLS(cfg *tls.Config) error {
	if _, err := s.ReadStartupMessage(); err != nil {
		return fmt.Errorf("pgtest: reading SSLRequest: %w", err)
	}
	if _, err := s.Conn.Write([]byte{'S'}); err != nil {
		return fmt.Errorf("pgtest: writing SSL accept byte: %w", err)
	}
	tlsConn := tls.Server(s.Conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("pgtest: TLS handshake: %w", err)
	}
	s.Conn = tlsConn
	return nil
}
