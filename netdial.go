package pgclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pgwireclient/pgclient/internal/wire"
)

// TCPChannelFactory dials a single fixed host:port over TCP, the concrete
// ChannelFactory for talking to a real backend (net.Pipe-backed factories
// exist only in tests). Grounded in the teacher's TenantPool.dial.
type TCPChannelFactory struct {
	Host string
	Port int

	// DialTimeout bounds the TCP handshake itself; zero means no extra
	// timeout beyond ctx's own deadline.
	DialTimeout time.Duration
	KeepAlive   time.Duration
}

func (f TCPChannelFactory) CreateChannel(ctx context.Context) (wire.ByteChannel, error) {
	d := net.Dialer{Timeout: f.DialTimeout, KeepAlive: f.KeepAlive}
	addr := net.JoinHostPort(f.Host, fmt.Sprintf("%d", f.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &wire.NetChannel{Conn: conn}, nil
}

// TLSClientEnabler upgrades a ByteChannel to TLS using cfg once the server
// has accepted an SSLRequest. The channel's underlying conn must be a
// *wire.NetChannel wrapping a net.Conn suitable for tls.Client.
func TLSClientEnabler(cfg *tls.Config) TLSEnabler {
	return func(ctx context.Context, ch wire.ByteChannel) (wire.ByteChannel, error) {
		nc, ok := ch.(*wire.NetChannel)
		if !ok {
			return nil, fmt.Errorf("pgclient: TLSClientEnabler requires a *wire.NetChannel, got %T", ch)
		}
		tlsConn := tls.Client(nc.Conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("pgclient: TLS handshake: %w", err)
		}
		return &wire.NetChannel{Conn: tlsConn}, nil
	}
}
