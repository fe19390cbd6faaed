package pgclient

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/pgtest"
)

func dialOpts(cred Credential) DialOptions {
	return DialOptions{
		User:            "alice",
		Database:        "app",
		ApplicationName: "pgclient-test",
		Credential:      cred,
	}
}

func TestConnectTrustAuth(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- server.TrustHandshake('I') }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(TrustCredential()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.CloseAbruptly()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if conn.TxnStatus() != 'I' {
		t.Errorf("TxnStatus = %q, want 'I'", conn.TxnStatus())
	}
	if conn.Parameters()["server_version"] != "16.0" {
		t.Errorf("missing server_version parameter: %v", conn.Parameters())
	}
	if conn.IsClosed() {
		t.Error("connection reported closed right after Connect")
	}
}

func TestConnectMD5Auth(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		if _, err := server.ReadStartupMessage(); err != nil {
			errCh <- err
			return
		}
		if err := server.WriteAuthenticationMD5Password([4]byte{1, 2, 3, 4}); err != nil {
			errCh <- err
			return
		}
		typ, body, err := server.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		if typ != 'p' {
			errCh <- errors.New("expected PasswordMessage")
			return
		}
		want := computeMD5Password("alice", "secret", []byte{1, 2, 3, 4})
		got := string(body[:len(body)-1])
		if got != want {
			errCh <- errors.New("unexpected md5 password: " + got)
			return
		}
		if err := server.WriteAuthenticationOk(); err != nil {
			errCh <- err
			return
		}
		errCh <- server.WriteReadyForQuery('I')
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(MD5PasswordCredential("secret")))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.CloseAbruptly()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestConnectOverTLS(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	serverCfg, err := pgtest.SelfSignedServerTLSConfig()
	if err != nil {
		t.Fatalf("SelfSignedServerTLSConfig: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.UpgradeToTLS(serverCfg); err != nil {
			errCh <- err
			return
		}
		errCh <- server.TrustHandshake('I')
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := dialOpts(TrustCredential())
	opts.SSL = true
	opts.SSLEnabler = TLSClientEnabler(&tls.Config{InsecureSkipVerify: true})

	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.CloseAbruptly()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if conn.TxnStatus() != 'I' {
		t.Errorf("TxnStatus = %q, want 'I'", conn.TxnStatus())
	}
}

func TestConnectSCRAMAuth(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ScramHandshake("secret", 'I') }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(SCRAMSHA256Credential("secret")))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.CloseAbruptly()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if conn.TxnStatus() != 'I' {
		t.Errorf("TxnStatus = %q, want 'I'", conn.TxnStatus())
	}
}

func TestConnectCredentialMismatch(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	go func() {
		server.ReadStartupMessage()
		server.WriteAuthenticationMD5Password([4]byte{1, 2, 3, 4})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(TrustCredential()))
	if !errors.Is(err, pgerrors.ErrMD5PasswordCredentialRequired) {
		t.Fatalf("err = %v, want ErrMD5PasswordCredentialRequired", err)
	}
}

func TestConnectServerErrorDuringStartup(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	go func() {
		server.ReadStartupMessage()
		server.WriteErrorResponse("FATAL", "28000", "invalid authorization")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(TrustCredential()))
	var sqlErr *pgerrors.SQLError
	if !errors.As(err, &sqlErr) {
		t.Fatalf("err = %v, want *pgerrors.SQLError", err)
	}
	if sqlErr.Code != "28000" {
		t.Errorf("Code = %q, want 28000", sqlErr.Code)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := pgtest.Pipe()
	defer client.Close()

	go server.TrustHandshake('I')

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(TrustCredential()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	go func() {
		// Drain the Terminate message so Close's write doesn't block on pipe.
		server.ReadMessage()
	}()

	if err := conn.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !conn.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}
