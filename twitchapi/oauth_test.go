package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestOAuthConfig_AuthCodeURL(t *testing.T) {
	cfg := OAuthConfig("cid", "secret", "http://localhost:8080/auth/twitch/callback", nil)
	raw := cfg.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasPrefix(raw, Endpoint.AuthURL) {
		t.Errorf("url %q does not start with %q", raw, Endpoint.AuthURL)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "state-123" || q.Get("response_type") != "code" {
		t.Errorf("unexpected query: %v", q)
	}
	if q.Get("scope") != strings.Join(DefaultBotScopes, " ") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"chat:read chat:edit", []string{"chat:read", "chat:edit"}},
		{"chat:read,chat:edit", []string{"chat:read", "chat:edit"}},
		{" chat:read ,, chat:edit ", []string{"chat:read", "chat:edit"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		got := ParseScopes(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseScopes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRefreshUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    14400,
			"scope":         []string{"chat:read"},
			"token_type":    "bearer",
		})
	}))
	defer srv.Close()

	cfg := OAuthConfig("cid", "secret", "", nil)
	cfg.Endpoint.TokenURL = srv.URL
	tok, err := RefreshUserToken(context.Background(), cfg, "old-refresh")
	if err != nil {
		t.Fatalf("RefreshUserToken: %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if time.Until(tok.Expiry) < time.Hour {
		t.Errorf("expiry too soon: %v", tok.Expiry)
	}
}

func TestRefreshUserToken_MissingParams(t *testing.T) {
	cfg := OAuthConfig("cid", "", "", nil)
	if _, err := RefreshUserToken(context.Background(), cfg, "rt"); err == nil {
		t.Fatal("expected error without client secret")
	}
	if _, err := RefreshUserToken(context.Background(), nil, "rt"); err == nil {
		t.Fatal("expected error with nil config")
	}
}

func TestComputeExpiry(t *testing.T) {
	if d := time.Until(ComputeExpiry(0)); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("default expiry off: %v", d)
	}
	if d := time.Until(ComputeExpiry(120)); d < 110*time.Second || d > 130*time.Second {
		t.Errorf("expiry off: %v", d)
	}
}
