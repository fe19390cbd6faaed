package pgclient

import (
	"context"
	"errors"
	"testing"
	"time"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/pgtest"
)

func connectForTest(t *testing.T) (*Connection, *pgtest.Server, context.Context) {
	t.Helper()
	client, server := pgtest.Pipe()
	t.Cleanup(func() { client.Close() })

	done := make(chan error, 1)
	go func() { done <- server.TrustHandshake('I') }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, err := Connect(ctx, pgtest.PipeFactory{Client: client}, dialOpts(TrustCredential()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	return conn, server, ctx
}

func TestPrepareStatementWithResultColumns(t *testing.T) {
	conn, server, ctx := connectForTest(t)
	defer conn.CloseAbruptly()

	serverDone := make(chan error, 1)
	go func() {
		if _, _, err := server.ReadMessage(); err != nil { // Parse
			serverDone <- err
			return
		}
		if _, _, err := server.ReadMessage(); err != nil { // Describe
			serverDone <- err
			return
		}
		if _, _, err := server.ReadMessage(); err != nil { // Sync
			serverDone <- err
			return
		}
		if err := server.WriteParseComplete(); err != nil {
			serverDone <- err
			return
		}
		if err := server.WriteRowDescription([]pgtest.RowDescriptionColumn{
			{Name: "?column?", TypeOID: 23, TypeSize: 4},
		}); err != nil {
			serverDone <- err
			return
		}
		serverDone <- server.WriteReadyForQuery('I')
	}()

	stmt, err := conn.PrepareStatement(ctx, "SELECT $1")
	if err != nil {
		t.Fatalf("PrepareStatement: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
	if len(stmt.Columns()) != 1 || stmt.Columns()[0].Name != "?column?" {
		t.Errorf("Columns() = %+v", stmt.Columns())
	}
	if stmt.Closed() {
		t.Error("Statement reports closed right after Prepare")
	}
}

func TestPrepareStatementErrorResponseIsRecoverable(t *testing.T) {
	conn, server, ctx := connectForTest(t)
	defer conn.CloseAbruptly()

	serverDone := make(chan error, 1)
	go func() {
		server.ReadMessage() // Parse
		server.ReadMessage() // Describe
		server.ReadMessage() // Sync
		if err := server.WriteErrorResponse("ERROR", "42601", "syntax error"); err != nil {
			serverDone <- err
			return
		}
		serverDone <- server.WriteReadyForQuery('I')
	}()

	_, err := conn.PrepareStatement(ctx, "SELEKT 1")
	if err == nil {
		t.Fatal("expected a sqlError")
	}
	var sqlErr *pgerrors.SQLError
	if !errors.As(err, &sqlErr) {
		t.Fatalf("err = %v, want *pgerrors.SQLError", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
	if conn.IsClosed() {
		t.Error("recoverable ErrorResponse should not close the connection")
	}
}
