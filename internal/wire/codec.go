package wire

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Codec reads framed backend messages off a ByteChannel and writes framed
// frontend messages to it. It owns the read-side reassembly buffer: a
// message's type+length+body may straddle several transport chunks, so
// ReadMessage buffers partial messages across calls.
type Codec struct {
	ch  ByteChannel
	buf []byte // bytes read but not yet consumed into a complete message
}

func NewCodec(ch ByteChannel) *Codec {
	return &Codec{ch: ch}
}

// WriteMessage writes a pre-encoded frontend message (see the Encode*
// helpers) to the channel.
func (c *Codec) WriteMessage(ctx context.Context, raw []byte) error {
	return c.ch.Write(ctx, raw)
}

// fill reads more bytes from the channel into the internal buffer.
func (c *Codec) fill(ctx context.Context) error {
	chunk, err := c.ch.Read(ctx)
	if err != nil {
		return err
	}
	c.buf = append(c.buf, chunk...)
	return nil
}

// ReadMessage decodes the next tagged backend message: a 1-byte type, a
// 4-byte big-endian length (inclusive of itself), and length-4 bytes of
// body. A length shorter than 4 is a protocol error.
func (c *Codec) ReadMessage(ctx context.Context) (Message, error) {
	for len(c.buf) < 5 {
		if err := c.fill(ctx); err != nil {
			return Message{}, err
		}
	}
	typ := c.buf[0]
	msgLen := binary.BigEndian.Uint32(c.buf[1:5])
	if msgLen < 4 {
		return Message{}, fmt.Errorf("wire: protocol error: message length %d shorter than the length field itself", msgLen)
	}
	total := 1 + int(msgLen)
	for len(c.buf) < total {
		if err := c.fill(ctx); err != nil {
			return Message{}, err
		}
	}
	body := make([]byte, msgLen-4)
	copy(body, c.buf[5:total])
	c.buf = c.buf[total:]
	return Message{Type: typ, Body: body}, nil
}

// Close tears down the underlying channel.
func (c *Codec) Close() error { return c.ch.Close() }
