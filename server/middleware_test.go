package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name               string
		username, password string
		token              string
		reqUser, reqPass   string
		reqToken           string
		want               int
	}{
		{name: "no auth configured", want: http.StatusOK},
		{name: "valid basic auth", username: "admin", password: "pw", reqUser: "admin", reqPass: "pw", want: http.StatusOK},
		{name: "wrong username", username: "admin", password: "pw", reqUser: "root", reqPass: "pw", want: http.StatusUnauthorized},
		{name: "wrong password", username: "admin", password: "pw", reqUser: "admin", reqPass: "nope", want: http.StatusUnauthorized},
		{name: "valid token", token: "tok", reqToken: "tok", want: http.StatusOK},
		{name: "wrong token", token: "tok", reqToken: "bad", want: http.StatusUnauthorized},
		{name: "token wins over bad basic auth", username: "admin", password: "pw", token: "tok", reqToken: "tok", reqUser: "x", reqPass: "y", want: http.StatusOK},
		{name: "username without password is not auth", username: "admin", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{username: tt.username, password: tt.password, token: tt.token}
			req := httptest.NewRequest(http.MethodGet, "/admin/queue", nil)
			if tt.reqUser != "" || tt.reqPass != "" {
				req.SetBasicAuth(tt.reqUser, tt.reqPass)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			adminAuth(okHandler(), cfg).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := &ipRateLimiter{
		cfg:      &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute},
		now:      func() time.Time { return now },
		visitors: map[string][]time.Time{},
	}
	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request inside the window should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other IPs are limited separately")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("1.2.3.4") {
		t.Error("request after the window should pass")
	}
	now = now.Add(2 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Errorf("cleanup left %d visitors", len(rl.visitors))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := &ipRateLimiter{
		cfg:      &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: 30 * time.Second},
		now:      time.Now,
		visitors: map[string][]time.Time{},
	}
	h := rateLimitMiddleware(okHandler(), rl)
	send := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/alerts", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	if rr := send(""); rr.Code != http.StatusOK {
		t.Fatalf("first: %d", rr.Code)
	}
	rr := send("")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "30" {
		t.Errorf("second: %d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if rr := send("203.0.113.9, 10.0.0.1"); rr.Code != http.StatusOK {
		t.Errorf("forwarded client should have its own bucket: %d", rr.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := &ipRateLimiter{cfg: &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute}, now: time.Now, visitors: map[string][]time.Time{}}
	for i := 0; i < 5; i++ {
		if !rl.allow("ip") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "bogus")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.requestsPerIP != 5 || cfg.window != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, forwarded, want string
	}{
		{"10.0.0.1:1234", "", "10.0.0.1"},
		{"10.0.0.1:1234", "198.51.100.7", "198.51.100.7"},
		{"10.0.0.1:1234", " 198.51.100.7 , 10.0.0.1", "198.51.100.7"},
		{"[::1]:8080", "", "::1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *corsConfig
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{"permissive", &corsConfig{permissive: true}, "http://anything", http.MethodGet, "*", http.StatusOK},
		{"allowed origin", &corsConfig{allowedOrigins: []string{"https://overlay.example"}}, "https://overlay.example", http.MethodGet, "https://overlay.example", http.StatusOK},
		{"wildcard subdomain", &corsConfig{allowedOrigins: []string{"*.example.com"}}, "https://obs.example.com", http.MethodGet, "https://obs.example.com", http.StatusOK},
		{"blocked origin", &corsConfig{allowedOrigins: []string{"https://overlay.example"}}, "https://evil.example", http.MethodGet, "", http.StatusOK},
		{"preflight", &corsConfig{permissive: true}, "http://x", http.MethodOptions, "*", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/overlay/events", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			withCORSConfig(okHandler(), tt.cfg).ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
