package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/logdispatch/internal/dispatcher"
)

var _ HealthChecker = (*dispatcher.HealthChecker)(nil)

func newTestServer(checker HealthChecker, registry *prometheus.Registry) *Server {
	return NewServer(Config{MetricsEnabled: true}, checker, registry, nil)
}

func localURL(t *testing.T, s *Server, path string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", s.Addr(), err)
	}
	return "http://127.0.0.1:" + port + path
}

func TestServer_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()

	checker := &mockHealthChecker{liveness: true, readiness: false}
	handler := newTestServer(checker, registry).Handler()

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/health/live", http.StatusOK, `"status":"alive"`},
		{"/health/ready", http.StatusServiceUnavailable, `"status":"not ready"`},
		{"/metrics", http.StatusOK, "test_metric_total 1"},
		{"/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Status code = %v, want %v", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("Body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_CustomPaths(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true}
	s := NewServer(Config{
		LivenessPath:  "/livez",
		ReadinessPath: "/readyz",
	}, checker, prometheus.NewRegistry(), nil)

	for _, path := range []string{"/livez", "/readyz"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %v, want %v", path, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %v, want 404 when metrics are disabled", w.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true}
	s := newTestServer(checker, prometheus.NewRegistry())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get(localURL(t, s, "/health/live"))
	if err != nil {
		t.Fatalf("GET /health/live error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code = %v, want %v (body %s)", resp.StatusCode, http.StatusOK, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if _, err := http.Get(localURL(t, s, "/health/live")); err == nil {
		t.Error("GET after Shutdown succeeded, want connection error")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	checker := &mockHealthChecker{liveness: true}
	first := newTestServer(checker, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Shutdown(context.Background())

	_, port, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}

	second := NewServer(Config{}, checker, nil, nil)
	second.httpServer.Addr = ":" + port
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Error("Start() on a bound port error = nil, want error")
	}
}

func TestServer_ConcurrentRequests(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true}
	server := httptest.NewServer(newTestServer(checker, prometheus.NewRegistry()).Handler())
	defer server.Close()

	const requests = 10
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(server.URL + "/health/ready")
			if err != nil {
				t.Errorf("Request failed: %v", err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
			}
		}()
	}
	wg.Wait()
}
