package pgtest

import (
	"context"
	"net"

	"github.com/pgwireclient/pgclient/internal/wire"
)

// PipeFactory is a pgclient.ChannelFactory backed by a single pre-dialed
// net.Conn (typically the client half of a net.Pipe()).
type PipeFactory struct {
	Client net.Conn
}

func (f PipeFactory) CreateChannel(ctx context.Context) (wire.ByteChannel, error) {
	return &wire.NetChannel{Conn: f.Client}, nil
}

// TrustHandshake drains the StartupMessage and completes a trust-auth
// startup: AuthenticationOk, a server_version ParameterStatus,
// BackendKeyData, then ReadyForQuery in the given txn status (defaults to
// idle when zero).
func (s *Server) TrustHandshake(txnStatus byte) error {
	if _, err := s.ReadStartupMessage(); err != nil {
		return err
	}
	if txnStatus == 0 {
		txnStatus = 'I'
	}
	if err := s.WriteAuthenticationOk(); err != nil {
		return err
	}
	if err := s.WriteParameterStatus("server_version", "16.0"); err != nil {
		return err
	}
	if err := s.WriteBackendKeyData(1234, 5678); err != nil {
		return err
	}
	return s.WriteReadyForQuery(txnStatus)
}
