package pgclient

import (
	"testing"

	"github.com/pgwireclient/pgclient/internal/pgtest"
)

func TestCursorStreamsRowsThenCommandComplete(t *testing.T) {
	conn, server, ctx := connectForTest(t)
	defer conn.CloseAbruptly()

	prepDone := make(chan error, 1)
	go func() {
		server.ReadMessage() // Parse
		server.ReadMessage() // Describe
		server.ReadMessage() // Sync
		server.WriteParseComplete()
		server.WriteRowDescription([]pgtest.RowDescriptionColumn{{Name: "x", TypeOID: 23, TypeSize: 4}})
		prepDone <- server.WriteReadyForQuery('I')
	}()
	stmt, err := conn.PrepareStatement(ctx, "SELECT $1")
	if err != nil {
		t.Fatalf("PrepareStatement: %v", err)
	}
	if err := <-prepDone; err != nil {
		t.Fatalf("server prepare: %v", err)
	}

	execDone := make(chan error, 1)
	go func() {
		server.ReadMessage() // Bind
		server.ReadMessage() // Execute
		server.ReadMessage() // Flush
		if err := server.WriteBindComplete(); err != nil {
			execDone <- err
			return
		}
		one := "1"
		two := "2"
		if err := server.WriteDataRow([]*string{&one}); err != nil {
			execDone <- err
			return
		}
		if err := server.WriteDataRow([]*string{&two}); err != nil {
			execDone <- err
			return
		}
		if err := server.WriteCommandComplete("SELECT 2"); err != nil {
			execDone <- err
			return
		}
		server.ReadMessage() // Sync, sent once the cursor is exhausted
		execDone <- server.WriteReadyForQuery('I')
	}()

	val := "123"
	cur, err := stmt.Execute(ctx, []*string{&val})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	row, err := cur.Next(ctx)
	if err != nil || row == nil || *row.Columns[0] != "1" {
		t.Fatalf("first Next: row=%v err=%v", row, err)
	}
	row, err = cur.Next(ctx)
	if err != nil || row == nil || *row.Columns[0] != "2" {
		t.Fatalf("second Next: row=%v err=%v", row, err)
	}
	row, err = cur.Next(ctx)
	if err != nil || row != nil {
		t.Fatalf("third Next should signal exhaustion: row=%v err=%v", row, err)
	}
	if !cur.Closed() {
		t.Error("Cursor should be closed after exhaustion")
	}
	if n, ok := cur.RowCount(); !ok || n != 2 {
		t.Errorf("RowCount() = (%d, %v), want (2, true)", n, ok)
	}

	// Further Next calls are a no-op.
	row, err = cur.Next(ctx)
	if err != nil || row != nil {
		t.Fatalf("Next after exhaustion: row=%v err=%v", row, err)
	}

	if err := <-execDone; err != nil {
		t.Fatalf("server execute: %v", err)
	}
}

func TestCursorCloseDiscardsUnreadRows(t *testing.T) {
	conn, server, ctx := connectForTest(t)
	defer conn.CloseAbruptly()

	prepDone := make(chan error, 1)
	go func() {
		server.ReadMessage()
		server.ReadMessage()
		server.ReadMessage()
		server.WriteParseComplete()
		server.WriteNoData()
		prepDone <- server.WriteReadyForQuery('I')
	}()
	stmt, err := conn.PrepareStatement(ctx, "SELECT generate_series(1,100)")
	if err != nil {
		t.Fatalf("PrepareStatement: %v", err)
	}
	if err := <-prepDone; err != nil {
		t.Fatalf("server prepare: %v", err)
	}

	execDone := make(chan error, 1)
	go func() {
		server.ReadMessage() // Bind
		server.ReadMessage() // Execute
		server.ReadMessage() // Flush
		server.WriteBindComplete()
		v := "x"
		server.WriteDataRow([]*string{&v})
		server.WriteDataRow([]*string{&v})
		server.WriteCommandComplete("SELECT 2")
		server.ReadMessage()                      // Sync, sent by Cursor.Close
		execDone <- server.WriteReadyForQuery('I')
	}()

	cur, err := stmt.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := cur.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !cur.Closed() {
		t.Error("Cursor should report closed")
	}
	if err := <-execDone; err != nil {
		t.Fatalf("server: %v", err)
	}
}
