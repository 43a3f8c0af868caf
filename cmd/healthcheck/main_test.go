package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		url, addr, want string
	}{
		{"", "", "http://localhost:8080/healthz"},
		{"", ":9090", "http://localhost:9090/healthz"},
		{"", "0.0.0.0:7000", "http://0.0.0.0:7000/healthz"},
		{"http://bot:1/healthz", ":9090", "http://bot:1/healthz"},
	}
	for _, tt := range tests {
		t.Setenv("HEALTHCHECK_URL", tt.url)
		t.Setenv("HTTP_ADDR", tt.addr)
		if got := target(); got != tt.want {
			t.Errorf("target() with url=%q addr=%q = %q, want %q", tt.url, tt.addr, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if err := probe(context.Background(), srv.URL+"/healthz"); err != nil {
		t.Errorf("healthy probe: %v", err)
	}
	healthy = false
	if err := probe(context.Background(), srv.URL+"/healthz"); err == nil {
		t.Error("expected error for 503")
	}
}
