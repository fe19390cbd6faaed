// Package pgclient implements a native PostgreSQL frontend/backend wire
// protocol (v3) client: connection startup and authentication, parameterized
// statement execution with streaming results, transaction control, and a
// connection pool (see the pool subpackage). It depends on no server-side
// C client library.
package pgclient

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/scram"
	"github.com/pgwireclient/pgclient/internal/wire"
)

var connIDSeq int64

func nextConnID() string {
	n := atomic.AddInt64(&connIDSeq, 1)
	return fmt.Sprintf("conn-%d", n)
}

// Connection is a single, non-pipelined, non-concurrent-safe session with a
// PostgreSQL backend. Its operations must be serialized by the caller (the
// ConnectionPool enforces this by allocating each Connection to at most one
// requestor at a time).
type Connection struct {
	id       string
	codec    *wire.Codec
	delegate Delegate

	closed    bool
	txnStatus byte // 'I' idle, 'T' in-transaction, 'E' failed-transaction

	openStatement *Statement
	openCursor    *Cursor

	backendPID    uint32
	backendSecret uint32
	parameters    map[string]string

	user    string
	stmtSeq int64
}

// ID returns this connection's locally-assigned identifier.
func (c *Connection) ID() string { return c.id }

// Delegate returns the delegate supplied at Connect time, if any.
func (c *Connection) Delegate() Delegate { return c.delegate }

// IsClosed reports whether the connection has been torn down (gracefully or
// abruptly) or suffered a fatal protocol/socket error.
func (c *Connection) IsClosed() bool { return c.closed }

// TxnStatus returns the transaction status from the most recent
// ReadyForQuery: 'I' (idle), 'T' (in transaction), or 'E' (failed
// transaction, pending rollback).
func (c *Connection) TxnStatus() byte { return c.txnStatus }

// Parameters returns the backend ParameterStatus values observed during and
// after startup (server_version, client_encoding, etc.).
func (c *Connection) Parameters() map[string]string {
	out := make(map[string]string, len(c.parameters))
	for k, v := range c.parameters {
		out[k] = v
	}
	return out
}

// Connect performs the full startup sequence: optional TLS negotiation,
// StartupMessage, authentication, and draining ParameterStatus/
// BackendKeyData up to the first ReadyForQuery (spec §4.4 "Startup"/
// "Authentication"/"Post-auth").
func Connect(ctx context.Context, factory ChannelFactory, opts DialOptions) (*Connection, error) {
	ch, err := factory.CreateChannel(ctx)
	if err != nil {
		return nil, &pgerrors.SocketError{Cause: err}
	}

	if opts.SSL {
		upgraded, err := negotiateSSL(ctx, ch, opts.SSLEnabler)
		if err != nil {
			ch.Close()
			return nil, err
		}
		ch = upgraded
	}

	handler := wire.NewHandler(ch, opts.HighWatermark, opts.LowWatermark)
	codec := wire.NewCodec(handler)

	c := &Connection{
		id:         nextConnID(),
		codec:      codec,
		delegate:   opts.Delegate,
		parameters: make(map[string]string),
		user:       opts.User,
	}

	if err := c.sendStartup(ctx, opts); err != nil {
		c.fatal()
		return nil, err
	}

	if err := c.runStartupPhase(ctx, opts.Credential); err != nil {
		c.fatal()
		return nil, err
	}

	return c, nil
}

// negotiateSSL runs the plaintext SSLRequest/accept-or-reject exchange
// directly on the freshly dialed transport, before it is ever wrapped in a
// wire.Handler. The enabler's TLS handshake needs exclusive, synchronous
// access to those same bytes; a wire.Handler's background read loop is
// already pulling chunks off the transport the moment it's constructed, so
// wrapping first would race the handshake for the same socket data.
func negotiateSSL(ctx context.Context, ch wire.ByteChannel, enabler TLSEnabler) (wire.ByteChannel, error) {
	if err := ch.Write(ctx, wire.EncodeSSLRequest()); err != nil {
		return nil, &pgerrors.SocketError{Cause: err}
	}
	reply, err := ch.Read(ctx)
	if err != nil {
		return nil, &pgerrors.SocketError{Cause: err}
	}
	if len(reply) < 1 {
		return nil, fmt.Errorf("pgclient: empty SSL negotiation response")
	}
	switch reply[0] {
	case 'N':
		return nil, pgerrors.ErrSSLNotSupported
	case 'S':
		if enabler == nil {
			return nil, fmt.Errorf("pgclient: server accepted SSL but no SSLEnabler was configured")
		}
		tlsCh, err := enabler(ctx, ch)
		if err != nil {
			return nil, &pgerrors.SocketError{Cause: err}
		}
		return tlsCh, nil
	default:
		return nil, fmt.Errorf("pgclient: unexpected SSL negotiation byte 0x%02x", reply[0])
	}
}

func (c *Connection) sendStartup(ctx context.Context, opts DialOptions) error {
	params := [][2]string{
		{"user", opts.User},
		{"database", opts.Database},
		{"application_name", opts.ApplicationName},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "GMT"},
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeStartup(params)); err != nil {
		return &pgerrors.SocketError{Cause: err}
	}
	return nil
}

// runStartupPhase reacts to Authentication*, absorbs ParameterStatus/
// BackendKeyData/NoticeResponse, and returns once ReadyForQuery arrives.
func (c *Connection) runStartupPhase(ctx context.Context, cred Credential) error {
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			return &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgAuthentication:
			done, err := c.handleAuthentication(ctx, msg.Body, cred)
			if err != nil {
				return err
			}
			if done {
				continue
			}
		case wire.MsgParameterStatus:
			name, value, err := wire.DecodeParameterStatus(msg.Body)
			if err != nil {
				return fmt.Errorf("pgclient: decoding ParameterStatus: %w", err)
			}
			c.parameters[name] = value
			if c.delegate != nil {
				c.delegate.DidReceiveParameterStatus(name, value)
			}
		case wire.MsgBackendKeyData:
			pid, secret, err := wire.DecodeBackendKeyData(msg.Body)
			if err != nil {
				return fmt.Errorf("pgclient: decoding BackendKeyData: %w", err)
			}
			c.backendPID, c.backendSecret = pid, secret
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgErrorResponse:
			return sqlErrorFromFields(msg.Body)
		case wire.MsgReadyForQuery:
			status, err := wire.DecodeReadyForQuery(msg.Body)
			if err != nil {
				return err
			}
			c.txnStatus = status
			return nil
		default:
			return fmt.Errorf("pgclient: unexpected message type %q during startup", msg.Type)
		}
	}
}

// handleAuthentication dispatches on the Authentication* sub-type. It
// returns done=true when the caller should keep reading (AuthenticationOk or
// a completed sub-exchange), per spec §4.4.
func (c *Connection) handleAuthentication(ctx context.Context, body []byte, cred Credential) (bool, error) {
	authType, rest, err := wire.DecodeAuthentication(body)
	if err != nil {
		return false, err
	}
	switch authType {
	case 0: // AuthenticationOk
		return true, nil
	case 3: // AuthenticationCleartextPassword
		if cred.Kind != CredentialCleartextPassword {
			return false, pgerrors.CredentialRequiredFor("cleartext")
		}
		return true, c.codec.WriteMessage(ctx, wire.EncodePasswordMessage(cred.Password))
	case 5: // AuthenticationMD5Password
		if cred.Kind != CredentialMD5Password {
			return false, pgerrors.CredentialRequiredFor("md5")
		}
		if len(rest) < 4 {
			return false, fmt.Errorf("pgclient: AuthenticationMD5Password salt too short")
		}
		salt := rest[:4]
		md5Pass := computeMD5Password(c.user, cred.Password, salt)
		return true, c.codec.WriteMessage(ctx, wire.EncodePasswordMessage(md5Pass))
	case 10: // AuthenticationSASL
		mechs := scram.ParseMechanisms(rest)
		if !scram.Contains(mechs, "SCRAM-SHA-256") {
			return false, fmt.Errorf("pgclient: server did not offer SCRAM-SHA-256, offered %v", mechs)
		}
		if cred.Kind != CredentialSCRAMSHA256 {
			return false, pgerrors.CredentialRequiredFor("scram-sha-256")
		}
		return true, c.runSCRAM(ctx, cred)
	default:
		return false, pgerrors.ErrUnsupportedAuthenticationType
	}
}

func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// runSCRAM drives the SASLInitialResponse/SASLContinue/SASLResponse/
// SASLFinal exchange of spec §4.3, returning once the server signature has
// been verified (the subsequent AuthenticationOk is read by the caller's
// loop).
func (c *Connection) runSCRAM(ctx context.Context, cred Credential) error {
	// SCRAM's AuthMessage does not bind to the SASL username (channel
	// binding is disabled); PostgreSQL ignores it in favor of the
	// StartupMessage "user" parameter, so an empty username is used here.
	client, err := scram.NewClient("", cred.Password)
	if err != nil {
		return err
	}
	clientFirst := client.ClientFirstMessage()
	if err := c.codec.WriteMessage(ctx, wire.EncodeSASLInitialResponse("SCRAM-SHA-256", clientFirst)); err != nil {
		return &pgerrors.SocketError{Cause: err}
	}

	msg, err := c.codec.ReadMessage(ctx)
	if err != nil {
		return &pgerrors.SocketError{Cause: err}
	}
	if msg.Type == wire.MsgErrorResponse {
		return sqlErrorFromFields(msg.Body)
	}
	if msg.Type != wire.MsgAuthentication {
		return fmt.Errorf("pgclient: expected AuthenticationSASLContinue, got %q", msg.Type)
	}
	authType, serverFirst, err := wire.DecodeAuthentication(msg.Body)
	if err != nil || authType != 11 {
		return fmt.Errorf("pgclient: expected AuthenticationSASLContinue (11), got %d", authType)
	}

	clientFinal, err := client.HandleServerFirstMessage(serverFirst)
	if err != nil {
		return err
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeSASLResponse(clientFinal)); err != nil {
		return &pgerrors.SocketError{Cause: err}
	}

	msg, err = c.codec.ReadMessage(ctx)
	if err != nil {
		return &pgerrors.SocketError{Cause: err}
	}
	if msg.Type == wire.MsgErrorResponse {
		return sqlErrorFromFields(msg.Body)
	}
	if msg.Type != wire.MsgAuthentication {
		return fmt.Errorf("pgclient: expected AuthenticationSASLFinal, got %q", msg.Type)
	}
	authType, serverFinal, err := wire.DecodeAuthentication(msg.Body)
	if err != nil || authType != 12 {
		return fmt.Errorf("pgclient: expected AuthenticationSASLFinal (12), got %d", authType)
	}
	return client.VerifyServerFinalMessage(serverFinal)
}

func (c *Connection) emitNotice(body []byte) {
	if c.delegate == nil {
		return
	}
	fields, err := wire.DecodeFields(body)
	if err != nil {
		return
	}
	c.delegate.DidReceiveNotice(Notice{
		Severity: fields[wire.FieldSeverity],
		Code:     fields[wire.FieldCode],
		Message:  fields[wire.FieldMessage],
		Detail:   fields[wire.FieldDetail],
		Hint:     fields[wire.FieldHint],
	})
}

func sqlErrorFromFields(body []byte) error {
	fields, err := wire.DecodeFields(body)
	if err != nil {
		return fmt.Errorf("pgclient: decoding ErrorResponse: %w", err)
	}
	return &pgerrors.SQLError{
		Severity: fields[wire.FieldSeverity],
		Code:     fields[wire.FieldCode],
		Message:  fields[wire.FieldMessage],
		Detail:   fields[wire.FieldDetail],
		Hint:     fields[wire.FieldHint],
		Position: fields[wire.FieldPosition],
	}
}

// fatal marks the connection Closed after a protocol desynchronization or
// socket error — per spec §4.4, no partial-protocol recovery is attempted.
func (c *Connection) fatal() {
	c.closed = true
	c.codec.Close()
}

// CloseAbruptly closes the transport without sending Terminate. Idempotent.
func (c *Connection) CloseAbruptly() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeOpenChildren()
	return c.codec.Close()
}

// Close sends Terminate, then closes the channel without reading any further
// backend messages. Idempotent.
// Transitively closes any open Statement/Cursor; an in-progress explicit
// transaction is implicitly discarded by the server.
func (c *Connection) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeOpenChildren()
	_ = c.codec.WriteMessage(ctx, wire.EncodeTerminate())
	return c.codec.Close()
}

func (c *Connection) closeOpenChildren() {
	if c.openCursor != nil {
		c.openCursor.closed = true
		c.openCursor = nil
	}
	if c.openStatement != nil {
		c.openStatement.closed = true
		c.openStatement = nil
	}
}
