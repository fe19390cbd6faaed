package pgclient

import (
	"context"
	"fmt"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/wire"
)

// Cursor is a lazy, forward-only, non-restartable iterator over the rows
// produced by a Statement.Execute call.
type Cursor struct {
	statement *Statement
	conn      *Connection

	closed        bool
	rowsRetrieved int
	rowCount      *int
	commandTag    string
}

// Statement returns the owning Statement.
func (cur *Cursor) Statement() *Statement { return cur.statement }

// Closed reports whether this Cursor has been closed or exhausted.
func (cur *Cursor) Closed() bool { return cur.closed }

// RowsRetrieved returns how many rows Next has returned so far.
func (cur *Cursor) RowsRetrieved() int { return cur.rowsRetrieved }

// RowCount returns the affected/returned row count parsed from
// CommandComplete's command tag, once available.
func (cur *Cursor) RowCount() (int, bool) {
	if cur.rowCount == nil {
		return 0, false
	}
	return *cur.rowCount, true
}

// Execute sends Bind(portal, statement, values)+Execute(portal)+Flush and
// returns a Cursor once BindComplete has been observed. Sync is deferred
// until the Cursor is closed or exhausted (spec §4.4/§4.5). Per the
// one-active-child rule, any previously open Cursor on the Connection is
// closed first.
func (s *Statement) Execute(ctx context.Context, values []*string) (*Cursor, error) {
	c := s.conn
	if c.closed {
		return nil, pgerrors.ErrConnectionClosed
	}
	if s.closed {
		return nil, fmt.Errorf("pgclient: statement %q is closed", s.name)
	}
	if c.openCursor != nil && !c.openCursor.closed {
		if err := c.openCursor.Close(ctx); err != nil {
			return nil, err
		}
	}

	const portal = ""
	if err := c.codec.WriteMessage(ctx, wire.EncodeBind(portal, s.name, values)); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeExecute(portal, 0)); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeFlush()); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}

	cur := &Cursor{statement: s, conn: c}

	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			return nil, &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgBindComplete:
			c.openCursor = cur
			return cur, nil
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgErrorResponse:
			sqlErr := sqlErrorFromFields(msg.Body)
			if err := c.codec.WriteMessage(ctx, wire.EncodeSync()); err != nil {
				c.fatal()
				return nil, &pgerrors.SocketError{Cause: err}
			}
			if aerr := c.absorbToReadyForQuery(ctx); aerr != nil {
				c.fatal()
				return nil, aerr
			}
			return nil, sqlErr
		default:
			c.fatal()
			return nil, fmt.Errorf("pgclient: unexpected message %q while binding portal", msg.Type)
		}
	}
}

// Next returns the next Row, or (nil, nil) once the Cursor is exhausted or
// closed, matching Option<Result<Row>>. An ErrorResponse is surfaced exactly
// once: the call that observes it returns the error, and the Cursor is
// closed so every subsequent call returns (nil, nil).
func (cur *Cursor) Next(ctx context.Context) (*Row, error) {
	if cur.closed {
		return nil, nil
	}
	c := cur.conn
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			cur.closed = true
			return nil, &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgDataRow:
			values, err := wire.DecodeDataRow(msg.Body)
			if err != nil {
				c.fatal()
				cur.closed = true
				return nil, fmt.Errorf("pgclient: decoding DataRow: %w", err)
			}
			cur.rowsRetrieved++
			return &Row{Columns: values}, nil
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgCommandComplete:
			tag, err := wire.DecodeCommandComplete(msg.Body)
			if err == nil {
				cur.commandTag = tag
				if n, ok := parseRowCount(tag); ok {
					cur.rowCount = &n
				}
			}
			if ferr := cur.finish(ctx); ferr != nil {
				return nil, ferr
			}
			return nil, nil
		case wire.MsgEmptyQueryResponse, wire.MsgPortalSuspended:
			if ferr := cur.finish(ctx); ferr != nil {
				return nil, ferr
			}
			return nil, nil
		case wire.MsgErrorResponse:
			sqlErr := sqlErrorFromFields(msg.Body)
			if ferr := cur.finish(ctx); ferr != nil {
				return nil, ferr
			}
			return nil, sqlErr
		default:
			c.fatal()
			cur.closed = true
			return nil, fmt.Errorf("pgclient: unexpected message %q while streaming rows", msg.Type)
		}
	}
}

// Close discards any unread rows, sends Sync, and restores the connection to
// Ready. Idempotent — a no-op on an already-exhausted/closed Cursor.
func (cur *Cursor) Close(ctx context.Context) error {
	if cur.closed {
		return nil
	}
	c := cur.conn
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			cur.closed = true
			return &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgDataRow:
			continue // discard unread rows
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgCommandComplete, wire.MsgEmptyQueryResponse, wire.MsgPortalSuspended, wire.MsgErrorResponse:
			return cur.finish(ctx)
		default:
			c.fatal()
			cur.closed = true
			return fmt.Errorf("pgclient: unexpected message %q while closing cursor", msg.Type)
		}
	}
}

// finish sends Sync, absorbs to the next ReadyForQuery, and marks the
// Cursor closed — the shared tail of Next (on a terminal message) and
// Close (after draining).
func (cur *Cursor) finish(ctx context.Context) error {
	c := cur.conn
	if err := c.codec.WriteMessage(ctx, wire.EncodeSync()); err != nil {
		c.fatal()
		cur.closed = true
		return &pgerrors.SocketError{Cause: err}
	}
	if err := c.absorbToReadyForQuery(ctx); err != nil {
		c.fatal()
		cur.closed = true
		return err
	}
	cur.closed = true
	if c.openCursor == cur {
		c.openCursor = nil
	}
	return nil
}

// parseRowCount extracts the trailing row count from a CommandComplete
// command tag, e.g. "DELETE 3" or "SELECT 1".
func parseRowCount(tag string) (int, bool) {
	i := len(tag)
	for i > 0 && tag[i-1] >= '0' && tag[i-1] <= '9' {
		i--
	}
	if i == len(tag) {
		return 0, false
	}
	n := 0
	for _, ch := range tag[i:] {
		n = n*10 + int(ch-'0')
	}
	return n, true
}
