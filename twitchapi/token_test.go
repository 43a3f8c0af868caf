package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "test-client" || r.Form.Get("client_secret") != "test-secret" {
			t.Errorf("credentials not sent in form body: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-token-123",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_GetCached(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL}

	for i := 0; i < 3; i++ {
		tok, err := ts.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if tok != "app-token-123" {
			t.Errorf("Get() = %q, want app-token-123", tok)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{ClientID: "only-id"}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestTokenSource_CanceledContext(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ts.Get(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("token endpoint should not be called with a canceled context")
	}
}

func TestTokenSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":400,"message":"invalid client"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "bad", TokenURL: srv.URL}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error from failing token endpoint")
	}
}
