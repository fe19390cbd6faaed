package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/pgwireclient/pgclient"
	"github.com/pgwireclient/pgclient/metrics"
	"github.com/pgwireclient/pgclient/pool"
)

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	dial := func(ctx context.Context) (*pgclient.Connection, error) {
		return nil, context.Canceled
	}
	p := pool.NewPool(pool.Config{MaximumConnections: 4}, dial, nil)
	t.Cleanup(func() { p.Close(true) })

	s := New(metrics.New(), nil)
	s.AddPool("primary", p)

	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.listPoolsHandler).Methods("GET")
	r.HandleFunc("/pools/{id}", s.poolHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")
	return s, r
}

func TestStatusHandler(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["num_pools"].(float64) != 1 {
		t.Errorf("num_pools = %v, want 1", body["num_pools"])
	}
}

func TestListPoolsHandler(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/pools", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var summaries []poolSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "primary" {
		t.Errorf("summaries = %+v", summaries)
	}
	if summaries[0].Stats.MaximumConnections != 4 {
		t.Errorf("MaximumConnections = %d, want 4", summaries[0].Stats.MaximumConnections)
	}
}

func TestPoolHandlerNotFound(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/pools/missing", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestPoolHandlerFound(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/pools/primary", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDashboardHandlerServesHTML(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}
