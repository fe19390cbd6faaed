// Package pool implements a FIFO-fair connection pool on top of
// pgclient.Connection: bounded concurrent connections, LRU idle reuse
// (most-recently-released first), per-request and per-allocation timeouts,
// and periodic metrics snapshots.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgwireclient/pgclient"
	pgerrors "github.com/pgwireclient/pgclient/errors"
)

// DialFunc creates one new physical Connection. The pool never interprets
// its arguments; it is whatever the caller closed over (ChannelFactory,
// DialOptions, host/port).
type DialFunc func(ctx context.Context) (*pgclient.Connection, error)

// Config controls pool sizing, timeouts, and metrics cadence. NewPool
// replaces zero or negative MaximumConnections, MaximumPendingRequests,
// PendingRequestTimeout and AllocatedConnectionTimeout with DefaultConfig's
// values. The other fields are used as given: a zero MetricsLoggingInterval
// disables periodic metrics logging, and a zero MetricsResetWhenLogged is
// false.
type Config struct {
	MaximumConnections         int
	MaximumPendingRequests     int
	PendingRequestTimeout      time.Duration
	AllocatedConnectionTimeout time.Duration
	MetricsLoggingInterval     time.Duration
	MetricsResetWhenLogged     bool

	// IdleTimeout, when > 0, reaps idle connections that have sat unused
	// longer than this, down to a floor of one idle connection. Zero
	// disables reaping (the default), so LRU-only test scenarios are
	// unaffected.
	IdleTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaximumConnections:         10,
		MaximumPendingRequests:     200,
		PendingRequestTimeout:      10 * time.Second,
		AllocatedConnectionTimeout: 30 * time.Second,
		MetricsLoggingInterval:     time.Hour,
		MetricsResetWhenLogged:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaximumConnections <= 0 {
		c.MaximumConnections = d.MaximumConnections
	}
	if c.MaximumPendingRequests <= 0 {
		c.MaximumPendingRequests = d.MaximumPendingRequests
	}
	if c.PendingRequestTimeout <= 0 {
		c.PendingRequestTimeout = d.PendingRequestTimeout
	}
	if c.AllocatedConnectionTimeout <= 0 {
		c.AllocatedConnectionTimeout = d.AllocatedConnectionTimeout
	}
	return c
}

// Counters mirrors the metrics counters of the spec verbatim; every delta
// field resets at the start of each metrics period.
type Counters struct {
	SuccessfulRequests                    int64
	UnsuccessfulRequestsTooBusy            int64
	UnsuccessfulRequestsTimedOut           int64
	UnsuccessfulRequestsError              int64
	MinimumPendingRequests                 int64
	MaximumPendingRequests                 int64
	ConnectionsAtStartOfPeriod             int64
	ConnectionsAtEndOfPeriod               int64
	ConnectionsCreated                     int64
	AllocatedConnectionsClosedByRequestor  int64
	AllocatedConnectionsTimedOut           int64
}

type pooledEntry struct {
	conn           *pgclient.Connection
	lastReleasedAt time.Time
	allocatedTimer *time.Timer
}

type pendingRequest struct {
	resultCh chan acquireResult
	timer    *time.Timer
	done     bool // guards against double-delivery from a racing timer/release
}

type acquireResult struct {
	conn *pgclient.Connection
	err  error
}

// ConnectionPool is a bounded, FIFO-fair pool of pgclient.Connection values.
type ConnectionPool struct {
	mu     sync.Mutex
	cfg    Config
	dial   DialFunc
	logger *slog.Logger

	idle      []*pooledEntry // tail = most recently released, reused first
	allocated map[*pgclient.Connection]*pooledEntry
	pending   []*pendingRequest

	total  int // idle + allocated + in-flight dials, bounded by MaximumConnections
	closed bool

	counters           Counters
	periodPendingMin    int64
	periodPendingMax    int64
	stopMetrics         chan struct{}
	stopReap            chan struct{}
	metricsWG           sync.WaitGroup
}

// NewPool constructs a pool that dials new connections with dial.
func NewPool(cfg Config, dial DialFunc, logger *slog.Logger) *ConnectionPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ConnectionPool{
		cfg:       cfg.withDefaults(),
		dial:      dial,
		logger:    logger,
		allocated: make(map[*pgclient.Connection]*pooledEntry),
		stopMetrics: make(chan struct{}),
		stopReap:    make(chan struct{}),
	}
	if p.cfg.MetricsLoggingInterval > 0 {
		p.metricsWG.Add(1)
		go p.metricsLoop()
	}
	if p.cfg.IdleTimeout > 0 {
		p.metricsWG.Add(1)
		go p.reapLoop()
	}
	return p
}

// AcquireConnection implements the spec's allocation policy: idle reuse,
// then new-connection creation, then FIFO queueing, then rejection.
func (p *ConnectionPool) AcquireConnection(ctx context.Context) (*pgclient.Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, pgerrors.ErrConnectionPoolClosed
	}

	if len(p.pending) == 0 && len(p.idle) > 0 {
		entry := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.allocateLocked(entry)
		p.counters.SuccessfulRequests++
		p.mu.Unlock()
		return entry.conn, nil
	}

	if p.total < p.cfg.MaximumConnections {
		p.total++
		p.mu.Unlock()

		conn, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.counters.UnsuccessfulRequestsError++
			p.mu.Unlock()
			return nil, err
		}

		p.mu.Lock()
		entry := &pooledEntry{conn: conn}
		p.allocateLocked(entry)
		p.counters.SuccessfulRequests++
		p.counters.ConnectionsCreated++
		p.mu.Unlock()
		return conn, nil
	}

	if len(p.pending) >= p.cfg.MaximumPendingRequests {
		p.counters.UnsuccessfulRequestsTooBusy++
		p.mu.Unlock()
		return nil, pgerrors.ErrTooManyRequestsForConnections
	}

	req := &pendingRequest{resultCh: make(chan acquireResult, 1)}
	timeout := p.cfg.PendingRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	req.timer = time.AfterFunc(timeout, func() { p.timeoutPending(req) })
	p.pending = append(p.pending, req)
	p.trackPendingDepthLocked()
	p.mu.Unlock()

	select {
	case res := <-req.resultCh:
		if res.err == nil {
			p.mu.Lock()
			p.counters.SuccessfulRequests++
			p.mu.Unlock()
		}
		return res.conn, res.err
	case <-ctx.Done():
		if removed := p.cancelPending(req); !removed {
			// req was already dequeued (delivered or timed out) concurrently
			// with ctx being cancelled; claim whatever it received so a
			// connection handed to us in that race isn't leaked.
			select {
			case res := <-req.resultCh:
				if res.conn != nil {
					p.ReleaseConnection(res.conn)
				}
			default:
			}
		}
		return nil, ctx.Err()
	}
}

// allocateLocked moves entry into the allocated set and starts its
// allocatedConnectionTimeout timer. Caller holds p.mu.
func (p *ConnectionPool) allocateLocked(entry *pooledEntry) {
	p.allocated[entry.conn] = entry
	entry.allocatedTimer = time.AfterFunc(p.cfg.AllocatedConnectionTimeout, func() {
		p.timeoutAllocated(entry.conn)
	})
}

func (p *ConnectionPool) trackPendingDepthLocked() {
	n := int64(len(p.pending))
	if n < p.periodPendingMin || p.periodPendingMin == 0 {
		p.periodPendingMin = n
	}
	if n > p.periodPendingMax {
		p.periodPendingMax = n
	}
}

// timeoutPending fires when a queued request's PendingRequestTimeout
// elapses before a connection became available.
func (p *ConnectionPool) timeoutPending(req *pendingRequest) {
	p.mu.Lock()
	if req.done {
		p.mu.Unlock()
		return
	}
	for i, r := range p.pending {
		if r == req {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	req.done = true
	p.counters.UnsuccessfulRequestsTimedOut++
	p.mu.Unlock()
	req.resultCh <- acquireResult{err: pgerrors.ErrTimedOutAcquiringConnection}
}

// cancelPending removes req from the queue after the caller's context was
// cancelled before a connection (or the request timeout) arrived. Returns
// false if req had already been dequeued by a racing release/timeout.
func (p *ConnectionPool) cancelPending(req *pendingRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.done {
		return false
	}
	req.done = true
	req.timer.Stop()
	for i, r := range p.pending {
		if r == req {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return true
		}
	}
	return false
}

// timeoutAllocated force-closes a connection that exceeded
// AllocatedConnectionTimeout without being released.
func (p *ConnectionPool) timeoutAllocated(conn *pgclient.Connection) {
	p.mu.Lock()
	entry, ok := p.allocated[conn]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.allocated, conn)
	p.total--
	p.counters.AllocatedConnectionsTimedOut++
	p.mu.Unlock()

	_ = entry.conn.CloseAbruptly()
	p.logger.Warn("pool: allocated connection timed out", "connection_id", conn.ID())
}

// ReleaseConnection returns a connection to the pool. A double release, a
// connection the requestor already closed, or one left mid-transaction all
// result in the connection being discarded rather than reused — the
// conservative choice for a `ReadyForQuery` reporting `E` or `T` (spec §9
// Open Questions).
func (p *ConnectionPool) ReleaseConnection(conn *pgclient.Connection) {
	p.mu.Lock()

	entry, ok := p.allocated[conn]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("pool: release of a connection not held by this pool", "connection_id", conn.ID())
		_ = conn.CloseAbruptly()
		return
	}
	delete(p.allocated, conn)
	if entry.allocatedTimer != nil {
		entry.allocatedTimer.Stop()
	}

	if conn.IsClosed() {
		p.total--
		p.counters.AllocatedConnectionsClosedByRequestor++
		p.mu.Unlock()
		return
	}

	if conn.TxnStatus() != 'I' {
		p.total--
		p.mu.Unlock()
		p.logger.Warn("pool: closing connection released with an open transaction", "connection_id", conn.ID(), "txn_status", string(conn.TxnStatus()))
		_ = conn.CloseAbruptly()
		return
	}

	if p.closed {
		p.total--
		p.mu.Unlock()
		_ = conn.CloseAbruptly()
		return
	}

	entry.lastReleasedAt = time.Now()

	if len(p.pending) > 0 {
		req := p.pending[0]
		p.pending = p.pending[1:]
		req.timer.Stop()
		if req.done {
			// The request's timeout (or ctx cancellation) already claimed
			// it while we held the lock that dequeued it; put the
			// connection back for the next head instead of leaking it.
			p.mu.Unlock()
			p.ReleaseConnection(conn)
			return
		}
		req.done = true
		p.allocateLocked(entry)
		p.mu.Unlock()
		req.resultCh <- acquireResult{conn: conn}
		return
	}

	p.idle = append(p.idle, entry)
	p.mu.Unlock()
}

// WithConnection acquires a connection, invokes fn, and releases it
// regardless of outcome, including a panic propagating out of fn.
func (p *ConnectionPool) WithConnection(ctx context.Context, fn func(*pgclient.Connection) error) error {
	conn, err := p.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer p.ReleaseConnection(conn)
	return fn(conn)
}

// Close shuts the pool down. With force=false, idle connections close
// immediately and allocated ones close on release; pending requests fail
// immediately either way. With force=true, allocated connections are also
// closed immediately.
func (p *ConnectionPool) Close(force bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	pending := p.pending
	p.pending = nil
	idle := p.idle
	p.idle = nil

	var forceClosed []*pooledEntry
	if force {
		for _, entry := range p.allocated {
			forceClosed = append(forceClosed, entry)
		}
		p.allocated = make(map[*pgclient.Connection]*pooledEntry)
	}
	p.mu.Unlock()

	close(p.stopMetrics)
	close(p.stopReap)

	for _, req := range pending {
		req.timer.Stop()
		if !req.done {
			req.done = true
			req.resultCh <- acquireResult{err: pgerrors.ErrConnectionPoolClosed}
		}
	}
	for _, entry := range idle {
		_ = entry.conn.CloseAbruptly()
	}
	for _, entry := range forceClosed {
		if entry.allocatedTimer != nil {
			entry.allocatedTimer.Stop()
		}
		_ = entry.conn.CloseAbruptly()
	}

	p.metricsWG.Wait()
}

// Stats is a point-in-time snapshot of pool sizing and occupancy, for
// introspection endpoints rather than metrics accounting.
type Stats struct {
	MaximumConnections     int
	MaximumPendingRequests int
	Idle                   int
	Allocated              int
	Pending                int
	Total                  int
}

// Stats returns the pool's current limits and occupancy.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaximumConnections:     p.cfg.MaximumConnections,
		MaximumPendingRequests: p.cfg.MaximumPendingRequests,
		Idle:                   len(p.idle),
		Allocated:              len(p.allocated),
		Pending:                len(p.pending),
		Total:                  p.total,
	}
}

// UpdateLimits applies new sizing/timeout values to a live pool: future
// AcquireConnection calls and timers use them, while connections already
// allocated or queued keep running under the limits in effect when they
// started. Only MaximumConnections, MaximumPendingRequests,
// PendingRequestTimeout and AllocatedConnectionTimeout are applied, and zero
// values among them are ignored, not applied as zero; MetricsLoggingInterval,
// MetricsResetWhenLogged and IdleTimeout keep the values given to NewPool.
func (p *ConnectionPool) UpdateLimits(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.MaximumConnections > 0 {
		p.cfg.MaximumConnections = cfg.MaximumConnections
	}
	if cfg.MaximumPendingRequests > 0 {
		p.cfg.MaximumPendingRequests = cfg.MaximumPendingRequests
	}
	if cfg.PendingRequestTimeout > 0 {
		p.cfg.PendingRequestTimeout = cfg.PendingRequestTimeout
	}
	if cfg.AllocatedConnectionTimeout > 0 {
		p.cfg.AllocatedConnectionTimeout = cfg.AllocatedConnectionTimeout
	}
}

// ComputeMetrics snapshots the current counters. If reset, the delta
// counters (everything but the *OfPeriod gauges) zero for the next period
// and ConnectionsAtStartOfPeriod carries forward ConnectionsAtEndOfPeriod.
func (p *ConnectionPool) ComputeMetrics(reset bool) Counters {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.counters
	snap.MinimumPendingRequests = p.periodPendingMin
	snap.MaximumPendingRequests = p.periodPendingMax
	snap.ConnectionsAtEndOfPeriod = int64(len(p.allocated) + len(p.idle))

	if reset {
		end := snap.ConnectionsAtEndOfPeriod
		p.counters = Counters{ConnectionsAtStartOfPeriod: end}
		p.periodPendingMin = 0
		p.periodPendingMax = 0
	}
	return snap
}

func (p *ConnectionPool) metricsLoop() {
	defer p.metricsWG.Done()
	ticker := time.NewTicker(p.cfg.MetricsLoggingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := p.ComputeMetrics(p.cfg.MetricsResetWhenLogged)
			p.logger.Info("pool metrics",
				"successful_requests", snap.SuccessfulRequests,
				"unsuccessful_too_busy", snap.UnsuccessfulRequestsTooBusy,
				"unsuccessful_timed_out", snap.UnsuccessfulRequestsTimedOut,
				"unsuccessful_error", snap.UnsuccessfulRequestsError,
				"connections_created", snap.ConnectionsCreated,
				"connections_at_end", snap.ConnectionsAtEndOfPeriod,
			)
		case <-p.stopMetrics:
			return
		}
	}
}

// reapLoop closes idle connections that have sat unused longer than
// IdleTimeout, always keeping at least one idle connection — the
// supplemented feature grounded in the teacher's TenantPool.reapLoop.
func (p *ConnectionPool) reapLoop() {
	defer p.metricsWG.Done()
	ticker := time.NewTicker(p.cfg.IdleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopReap:
			return
		}
	}
}

func (p *ConnectionPool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= 1 {
		return
	}
	now := time.Now()
	kept := p.idle[:0:0]
	excess := len(p.idle) - 1
	reaped := 0
	for i, entry := range p.idle {
		if reaped < excess && now.Sub(entry.lastReleasedAt) >= p.cfg.IdleTimeout {
			_ = entry.conn.CloseAbruptly()
			p.total--
			reaped++
			continue
		}
		kept = append(kept, p.idle[i])
	}
	p.idle = kept
}
