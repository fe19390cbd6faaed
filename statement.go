package pgclient

import (
	"context"
	"fmt"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/wire"
)

// Statement is a server-side prepared statement handle bound to the
// Connection that created it. Its lifetime is bounded by that Connection:
// closing the Connection closes the Statement.
type Statement struct {
	name    string
	conn    *Connection
	text    string
	closed  bool
	columns []ColumnMetadata
}

// ID returns the server-side prepared statement name.
func (s *Statement) ID() string { return s.name }

// Closed reports whether this Statement (or its owning Connection) has been
// closed.
func (s *Statement) Closed() bool { return s.closed || s.conn.closed }

// Columns returns the result column metadata collected by Describe, or nil
// for statements with no result columns (NoData).
func (s *Statement) Columns() []ColumnMetadata { return s.columns }

// PrepareStatement sends Parse+Describe+Sync for text, reads the replies
// (ParseComplete, ParameterDescription, RowDescription or NoData) up to
// ReadyForQuery, and returns a handle once ReadyForQuery arrives; it does not
// check that each of the other replies was received.
// Per the one-active-child rule, any previously open Cursor/Statement on
// this Connection is closed first.
func (c *Connection) PrepareStatement(ctx context.Context, text string) (*Statement, error) {
	if c.closed {
		return nil, pgerrors.ErrConnectionClosed
	}
	if err := c.closeOpenChildren2(ctx); err != nil {
		return nil, err
	}

	c.stmtSeq++
	name := fmt.Sprintf("pgclient_stmt_%d", c.stmtSeq)

	if err := c.codec.WriteMessage(ctx, wire.EncodeParse(name, text, nil)); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeDescribe(wire.TargetStatement, name)); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeSync()); err != nil {
		c.fatal()
		return nil, &pgerrors.SocketError{Cause: err}
	}

	stmt := &Statement{name: name, conn: c, text: text}

	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			return nil, &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgParseComplete, wire.MsgParameterDesc, wire.MsgNoData:
			continue
		case wire.MsgRowDescription:
			cols, err := wire.DecodeRowDescription(msg.Body)
			if err != nil {
				c.fatal()
				return nil, fmt.Errorf("pgclient: decoding RowDescription: %w", err)
			}
			stmt.columns = toPublicColumns(cols)
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgErrorResponse:
			sqlErr := sqlErrorFromFields(msg.Body)
			if aerr := c.absorbToReadyForQuery(ctx); aerr != nil {
				c.fatal()
				return nil, aerr
			}
			return nil, sqlErr
		case wire.MsgReadyForQuery:
			status, err := wire.DecodeReadyForQuery(msg.Body)
			if err != nil {
				c.fatal()
				return nil, err
			}
			c.txnStatus = status
			c.openStatement = stmt
			return stmt, nil
		default:
			c.fatal()
			return nil, fmt.Errorf("pgclient: unexpected message %q while preparing statement", msg.Type)
		}
	}
}

// Close sends Close(statement) and reads CloseComplete. Idempotent;
// transitively closes any Cursor this Statement owns.
func (s *Statement) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	c := s.conn
	if cur := c.openCursor; cur != nil && cur.statement == s && !cur.closed && !c.closed {
		if err := cur.Close(ctx); err != nil {
			return err
		}
	}
	return s.closeOnWire(ctx)
}

func (s *Statement) closeOnWire(ctx context.Context) error {
	s.closed = true
	c := s.conn
	if c.openStatement == s {
		c.openStatement = nil
	}
	if c.closed {
		return nil
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeClose(wire.TargetStatement, s.name)); err != nil {
		c.fatal()
		return &pgerrors.SocketError{Cause: err}
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeSync()); err != nil {
		c.fatal()
		return &pgerrors.SocketError{Cause: err}
	}
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			return &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgCloseComplete:
			continue
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgErrorResponse:
			sqlErr := sqlErrorFromFields(msg.Body)
			if aerr := c.absorbToReadyForQuery(ctx); aerr != nil {
				c.fatal()
				return aerr
			}
			return sqlErr
		case wire.MsgReadyForQuery:
			status, err := wire.DecodeReadyForQuery(msg.Body)
			if err != nil {
				c.fatal()
				return err
			}
			c.txnStatus = status
			return nil
		default:
			c.fatal()
			return fmt.Errorf("pgclient: unexpected message %q while closing statement", msg.Type)
		}
	}
}

func toPublicColumns(cols []wire.ColumnMetadata) []ColumnMetadata {
	out := make([]ColumnMetadata, len(cols))
	for i, c := range cols {
		out[i] = ColumnMetadata{
			Name:                  c.Name,
			TableOID:              c.TableOID,
			ColumnAttributeNumber: c.ColumnAttributeNumber,
			DataTypeOID:           c.DataTypeOID,
			DataTypeSize:          c.DataTypeSize,
			DataTypeModifier:      c.DataTypeModifier,
		}
	}
	return out
}

// closeOpenChildren2 implements the one-active-child rule: before any new
// Parse, the previously open Cursor (if any) is drained-and-closed and the
// previously open Statement is sent Close(statement).
func (c *Connection) closeOpenChildren2(ctx context.Context) error {
	if c.openCursor != nil && !c.openCursor.closed {
		if err := c.openCursor.Close(ctx); err != nil {
			return err
		}
	}
	if c.openStatement != nil && !c.openStatement.closed {
		if err := c.openStatement.closeOnWire(ctx); err != nil {
			return err
		}
	}
	return nil
}

// absorbToReadyForQuery reads and discards messages until the next
// ReadyForQuery, updating txnStatus — the FSM's recovery path after a
// recoverable ErrorResponse mid-query (spec §4.4 "Failure semantics").
func (c *Connection) absorbToReadyForQuery(ctx context.Context) error {
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			return &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgReadyForQuery:
			status, err := wire.DecodeReadyForQuery(msg.Body)
			if err != nil {
				return err
			}
			c.txnStatus = status
			return nil
		default:
			// Ignore everything else (CommandComplete, further DataRows,
			// a stray ErrorResponse) — we're draining to resync.
		}
	}
}
