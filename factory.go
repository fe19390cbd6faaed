package pgclient

import (
	"context"

	"github.com/pgwireclient/pgclient/internal/wire"
)

// ChannelFactory opens a ByteChannel to a single fixed backend. This is the
// abstract "channel factory" of spec §9: name resolution and socket
// bootstrap are external collaborators out of scope for this module — a
// concrete implementation typically wraps net.Dialer.DialContext.
type ChannelFactory interface {
	CreateChannel(ctx context.Context) (wire.ByteChannel, error)
}

// TLSEnabler upgrades an established ByteChannel to TLS in place, after the
// server has accepted an SSLRequest. It is a first-class value rather than a
// method on Connection, per spec §9 ("self-referential closures"): no
// back-reference from the enabler to the connection is required.
type TLSEnabler func(ctx context.Context, ch wire.ByteChannel) (wire.ByteChannel, error)

// DialOptions configures a Connect call.
type DialOptions struct {
	User            string
	Database        string
	ApplicationName string
	Credential      Credential

	SSL        bool
	SSLEnabler TLSEnabler

	Delegate Delegate

	// HighWatermark/LowWatermark override the ByteChannel backpressure
	// defaults (spec §4.1); zero selects wire.DefaultHighWatermark/LowWatermark.
	HighWatermark int
	LowWatermark  int
}
