// Package wire implements the byte-level framing of the PostgreSQL frontend/
// backend protocol: an abstract duplex ByteChannel with backpressure, and a
// MessageCodec that packs/parses typed messages on top of it.
package wire

import (
	"context"
	"io"
	"net"
	"sync"
)

// Default backpressure watermarks, per spec: pause transport reads above
// high, resume at or below low.
const (
	DefaultHighWatermark = 2048
	DefaultLowWatermark  = 1024

	readChunkSize = 4096
)

// ByteChannel is an abstract duplex byte stream. Read returns io.EOF when
// the peer has closed its write side (analogous to Option<Bytes> = None).
type ByteChannel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

// NetChannel is a minimal ByteChannel over a net.Conn with no backpressure
// bookkeeping of its own — it is meant to be wrapped in a Handler.
type NetChannel struct {
	Conn net.Conn
}

func (c *NetChannel) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, readChunkSize)
	n, err := c.Conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (c *NetChannel) Write(ctx context.Context, p []byte) error {
	_, err := c.Conn.Write(p)
	return err
}

func (c *NetChannel) Close() error { return c.Conn.Close() }

// Handler sits between the transport and the consumer (MessageCodec). It
// owns a background read loop that pulls chunks from the transport and
// queues them for the consumer, pausing the transport read loop once
// unconsumedBytes exceeds the high watermark and resuming once consumption
// brings it back to or below the low watermark. Errors observed on either
// the transport or a failed write are latched: whichever is observed first
// wins, and a transport error takes precedence over a write-synthesized one.
type Handler struct {
	mu   sync.Mutex
	cond *sync.Cond

	transport ByteChannel
	high, low int

	chunks     [][]byte
	unconsumed int

	paused bool
	closed bool

	transportErr error
	writeErr     error

	resumeSignal chan struct{}
	loopDone     chan struct{}
}

// NewHandler wraps transport with backpressure accounting and starts its
// read loop. high/low of 0 select the package defaults.
func NewHandler(transport ByteChannel, high, low int) *Handler {
	if high <= 0 {
		high = DefaultHighWatermark
	}
	if low <= 0 {
		low = DefaultLowWatermark
	}
	h := &Handler{
		transport:    transport,
		high:         high,
		low:          low,
		resumeSignal: make(chan struct{}, 1),
		loopDone:     make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.readLoop()
	return h
}

func (h *Handler) readLoop() {
	defer close(h.loopDone)
	ctx := context.Background()
	for {
		h.mu.Lock()
		for !h.closed && h.unconsumed > h.high {
			h.paused = true
			h.mu.Unlock()
			<-h.resumeSignal
			h.mu.Lock()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.paused = false
		h.mu.Unlock()

		chunk, err := h.transport.Read(ctx)
		h.mu.Lock()
		if err != nil {
			if h.transportErr == nil {
				h.transportErr = err
			}
			h.closed = true
			h.cond.Broadcast()
			h.mu.Unlock()
			return
		}
		if len(chunk) > 0 {
			h.chunks = append(h.chunks, chunk)
			h.unconsumed += len(chunk)
			h.cond.Broadcast()
		}
		h.mu.Unlock()
	}
}

// Read returns the next buffered chunk, blocking until one is available or
// the channel is closed/errored. It never lets unconsumedBytes exceed
// high_watermark + one chunk, since at most one in-flight transport read can
// land while paused.
func (h *Handler) Read(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	for len(h.chunks) == 0 {
		if h.transportErr != nil {
			err := h.transportErr
			h.mu.Unlock()
			return nil, err
		}
		if h.closed {
			h.mu.Unlock()
			return nil, io.EOF
		}
		h.cond.Wait()
	}
	chunk := h.chunks[0]
	h.chunks = h.chunks[1:]
	h.unconsumed -= len(chunk)
	if h.paused && h.unconsumed <= h.low {
		select {
		case h.resumeSignal <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
	return chunk, nil
}

// Write forwards to the transport. A latched transport error is reported in
// preference to an error synthesized by this write.
func (h *Handler) Write(ctx context.Context, p []byte) error {
	h.mu.Lock()
	if h.transportErr != nil {
		err := h.transportErr
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	err := h.transport.Write(ctx, p)
	if err != nil {
		h.mu.Lock()
		if h.transportErr != nil {
			err = h.transportErr
		} else if h.writeErr == nil {
			h.writeErr = err
		}
		h.mu.Unlock()
	}
	return err
}

// Close tears down the transport and wakes any blocked Read. The transport
// is closed before waiting for the read loop to exit: a loop blocked inside
// the transport's own Read (not the pause-wait) only returns once the
// transport itself unblocks it, never merely from the closed flag.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.cond.Broadcast()
	select {
	case h.resumeSignal <- struct{}{}:
	default:
	}
	h.mu.Unlock()

	err := h.transport.Close()
	<-h.loopDone
	return err
}

// UnconsumedBytes reports the current backlog, for tests asserting the
// high-watermark invariant.
func (h *Handler) UnconsumedBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unconsumed
}
