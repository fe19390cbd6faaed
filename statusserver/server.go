// Package statusserver exposes a read-only HTTP view over one or more
// named pool.ConnectionPool instances: current status, per-pool stats,
// Prometheus metrics, and a small HTML dashboard. Grounded in the teacher's
// internal/api.Server, trimmed to the introspection routes this module
// actually has state for (no tenant CRUD — there is only ever one kind of
// backend here, dialed directly by the caller).
package statusserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgwireclient/pgclient/metrics"
	"github.com/pgwireclient/pgclient/pool"
)

// Server is the introspection HTTP server.
type Server struct {
	mu     sync.RWMutex
	pools  map[string]*pool.ConnectionPool
	coll   *metrics.Collector
	logger *slog.Logger

	startTime  time.Time
	httpServer *http.Server
}

// New creates a Server with no pools registered yet; add them with
// AddPool before or after Start.
func New(coll *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pools:     make(map[string]*pool.ConnectionPool),
		coll:      coll,
		logger:    logger,
		startTime: time.Now(),
	}
}

// AddPool registers a pool under name for the /pools/{id} route.
func (s *Server) AddPool(name string, p *pool.ConnectionPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[name] = p
}

// RemovePool unregisters a pool.
func (s *Server) RemovePool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, name)
}

// Start begins serving on addr in the background. Call Stop to shut down.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.listPoolsHandler).Methods("GET")
	r.HandleFunc("/pools/{id}", s.poolHandler).Methods("GET")
	if s.coll != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.coll.Registry, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("statusserver: listening", "addr", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("statusserver: server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.mu.RLock()
	numPools := len(s.pools)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_pools":      numPools,
	})
}

type poolSummary struct {
	Name  string     `json:"name"`
	Stats pool.Stats `json:"stats"`
}

func (s *Server) listPoolsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	summaries := make([]poolSummary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, poolSummary{Name: name, Stats: s.pools[name].Stats()})
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) poolHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	p, ok := s.pools[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    id,
		"stats":   p.Stats(),
		"metrics": p.ComputeMetrics(false),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
