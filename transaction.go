package pgclient

import (
	"context"
	"fmt"

	pgerrors "github.com/pgwireclient/pgclient/errors"
	"github.com/pgwireclient/pgclient/internal/wire"
)

// BeginTransaction issues a simple-query BEGIN. Any open Cursor/Statement is
// closed first, per the one-active-child rule.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	return c.runSimpleCommand(ctx, "BEGIN")
}

// CommitTransaction issues a simple-query COMMIT. Fails with
// pgerrors.ErrNotInTransaction if txnStatus is already 'I'.
func (c *Connection) CommitTransaction(ctx context.Context) error {
	if c.txnStatus == 'I' {
		return pgerrors.ErrNotInTransaction
	}
	return c.runSimpleCommand(ctx, "COMMIT")
}

// RollbackTransaction issues a simple-query ROLLBACK. Fails with
// pgerrors.ErrNotInTransaction if txnStatus is already 'I'.
func (c *Connection) RollbackTransaction(ctx context.Context) error {
	if c.txnStatus == 'I' {
		return pgerrors.ErrNotInTransaction
	}
	return c.runSimpleCommand(ctx, "ROLLBACK")
}

// runSimpleCommand sends a simple Query message and drains the response
// until ReadyForQuery, updating txnStatus. Used for BEGIN/COMMIT/ROLLBACK,
// which never return rows worth surfacing through a Cursor.
func (c *Connection) runSimpleCommand(ctx context.Context, sql string) error {
	if c.closed {
		return pgerrors.ErrConnectionClosed
	}
	if err := c.closeOpenChildren2(ctx); err != nil {
		return err
	}
	if err := c.codec.WriteMessage(ctx, wire.EncodeQuery(sql)); err != nil {
		c.fatal()
		return &pgerrors.SocketError{Cause: err}
	}

	var sqlErr error
	for {
		msg, err := c.codec.ReadMessage(ctx)
		if err != nil {
			c.fatal()
			return &pgerrors.SocketError{Cause: err}
		}
		switch msg.Type {
		case wire.MsgCommandComplete, wire.MsgEmptyQueryResponse, wire.MsgRowDescription, wire.MsgDataRow:
			continue
		case wire.MsgNoticeResponse:
			c.emitNotice(msg.Body)
		case wire.MsgErrorResponse:
			sqlErr = sqlErrorFromFields(msg.Body)
		case wire.MsgReadyForQuery:
			status, err := wire.DecodeReadyForQuery(msg.Body)
			if err != nil {
				c.fatal()
				return err
			}
			c.txnStatus = status
			return sqlErr
		default:
			c.fatal()
			return fmt.Errorf("pgclient: unexpected message %q during simple query", msg.Type)
		}
	}
}
