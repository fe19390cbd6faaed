// Package metrics exposes a pool.ConnectionPool's counters as Prometheus
// metrics on a dedicated registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgwireclient/pgclient/pool"
)

// Collector holds the Prometheus metrics for one ConnectionPool.
type Collector struct {
	Registry *prometheus.Registry

	successfulRequests    prometheus.Counter
	unsuccessfulTooBusy   prometheus.Counter
	unsuccessfulTimedOut  prometheus.Counter
	unsuccessfulError     prometheus.Counter
	connectionsCreated    prometheus.Counter
	closedByRequestor     prometheus.Counter
	allocatedTimedOut     prometheus.Counter
	pendingDepth          *prometheus.GaugeVec
	connectionsAtEnd      prometheus.Gauge
	acquireDuration       prometheus.Histogram
}

// New creates and registers all metrics on a fresh registry. Safe to call
// multiple times (e.g. in tests, or once per pool instance).
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		successfulRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_successful_requests_total",
			Help: "Connection acquisitions that succeeded.",
		}),
		unsuccessfulTooBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_unsuccessful_requests_too_busy_total",
			Help: "Acquisitions rejected because the pending queue was full.",
		}),
		unsuccessfulTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_unsuccessful_requests_timed_out_total",
			Help: "Pending acquisitions that timed out waiting for a connection.",
		}),
		unsuccessfulError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_unsuccessful_requests_error_total",
			Help: "Acquisitions that failed because dialing a new connection errored.",
		}),
		connectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_connections_created_total",
			Help: "Physical connections dialed by the pool.",
		}),
		closedByRequestor: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_allocated_connections_closed_by_requestor_total",
			Help: "Connections the requestor had already closed at release time.",
		}),
		allocatedTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_pool_allocated_connections_timed_out_total",
			Help: "Connections force-closed after exceeding allocatedConnectionTimeout.",
		}),
		pendingDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pgclient_pool_pending_requests",
			Help: "Minimum/maximum pending queue depth observed in the current metrics period.",
		}, []string{"bound"}),
		connectionsAtEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgclient_pool_connections",
			Help: "Allocated plus idle connections at the last metrics snapshot.",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgclient_pool_acquire_duration_seconds",
			Help:    "Time spent in AcquireConnection, successful or not.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}

	reg.MustRegister(
		c.successfulRequests,
		c.unsuccessfulTooBusy,
		c.unsuccessfulTimedOut,
		c.unsuccessfulError,
		c.connectionsCreated,
		c.closedByRequestor,
		c.allocatedTimedOut,
		c.pendingDepth,
		c.connectionsAtEnd,
		c.acquireDuration,
	)

	return c
}

// Observe folds one ComputeMetrics snapshot into the registered metrics.
// Each snapshot's counter fields are added to the monotonic Prometheus
// counters, so Observe expects per-period deltas (pool.ComputeMetrics(true));
// feeding it successive non-resetting snapshots (pool.ComputeMetrics(false))
// adds the same cumulative totals again and over-counts. The gauges are set,
// not added, from each snapshot.
func (c *Collector) Observe(snap pool.Counters) {
	c.successfulRequests.Add(float64(snap.SuccessfulRequests))
	c.unsuccessfulTooBusy.Add(float64(snap.UnsuccessfulRequestsTooBusy))
	c.unsuccessfulTimedOut.Add(float64(snap.UnsuccessfulRequestsTimedOut))
	c.unsuccessfulError.Add(float64(snap.UnsuccessfulRequestsError))
	c.connectionsCreated.Add(float64(snap.ConnectionsCreated))
	c.closedByRequestor.Add(float64(snap.AllocatedConnectionsClosedByRequestor))
	c.allocatedTimedOut.Add(float64(snap.AllocatedConnectionsTimedOut))
	c.pendingDepth.WithLabelValues("min").Set(float64(snap.MinimumPendingRequests))
	c.pendingDepth.WithLabelValues("max").Set(float64(snap.MaximumPendingRequests))
	c.connectionsAtEnd.Set(float64(snap.ConnectionsAtEndOfPeriod))
}

// AcquireDuration observes how long one AcquireConnection call took.
func (c *Collector) AcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}
