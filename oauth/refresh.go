// Package oauth keeps the chat bot's user token fresh. The token lives in the
// oauth_tokens table; a background loop refreshes it with jitter when its
// expiry falls inside a window, and callers read the current access token
// through the Refresher.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/streambot/db"
)

// TokenStore persists tokens per provider.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (db.Token, error)
	UpsertOAuthToken(ctx context.Context, provider string, tok db.Token) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Refresher owns one provider's token.
type Refresher struct {
	Store    TokenStore
	Provider string
	Refresh  RefreshFunc
	// Interval is how often the background loop checks the token.
	Interval time.Duration
	// Window refreshes tokens whose remaining lifetime is at most Window.
	Window time.Duration
	// Fallback is used when the store has no token, e.g. TWITCH_OAUTH_TOKEN.
	Fallback string

	mu sync.Mutex
}

// NewRefresher returns a refresher with a 5m interval and 15m window.
func NewRefresher(store TokenStore, provider string, fn RefreshFunc) *Refresher {
	return &Refresher{Store: store, Provider: provider, Refresh: fn, Interval: 5 * time.Minute, Window: 15 * time.Minute}
}

// AccessToken returns a usable access token, refreshing first when it is
// inside the window.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	tok, err := r.ensure(ctx)
	if errors.Is(err, db.ErrNoToken) && r.Fallback != "" {
		return r.Fallback, nil
	}
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource over AccessToken.
func (r *Refresher) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, r: r}
}

type tokenSource struct {
	ctx context.Context
	r   *Refresher
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	at, err := ts.r.AccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: at, TokenType: "Bearer"}, nil
}

// Save stores a freshly issued token, e.g. from the authorization callback.
func (r *Refresher) Save(ctx context.Context, tok *oauth2.Token) error {
	return r.Store.UpsertOAuthToken(ctx, r.Provider, db.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        scopeOf(tok),
	})
}

// scopeOf reads the granted scopes. Twitch returns them as a JSON array.
func scopeOf(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// ensure loads the token and refreshes it when needed. Concurrent callers
// share one refresh.
func (r *Refresher) ensure(ctx context.Context) (db.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return db.Token{}, err
	}
	if tok.RefreshToken == "" || tok.Expiry.IsZero() || time.Until(tok.Expiry) > r.window() {
		return tok, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	fresh, err := r.Refresh(ctx2, tok.RefreshToken)
	if err != nil {
		if time.Now().Before(tok.Expiry) {
			slog.Warn("token refresh failed, using current token", slog.String("provider", r.Provider), slog.Any("err", err))
			return tok, nil
		}
		return db.Token{}, fmt.Errorf("refresh %s token: %w", r.Provider, err)
	}
	next := db.Token{AccessToken: fresh.AccessToken, RefreshToken: fresh.RefreshToken, Expiry: fresh.Expiry, Scope: tok.Scope}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, next); err != nil {
		return db.Token{}, fmt.Errorf("persist %s token: %w", r.Provider, err)
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", next.Expiry))
	return next, nil
}

func (r *Refresher) window() time.Duration {
	if r.Window <= 0 {
		return 15 * time.Minute
	}
	return r.Window
}

// Run checks the token every Interval (±20% jitter) until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	next := time.Duration(rand.Int63n(int64(interval / 2)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
		if _, err := r.ensure(ctx); err != nil && !errors.Is(err, db.ErrNoToken) && ctx.Err() == nil {
			slog.Warn("token check failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		jitterRange := int64(interval / 5)
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		next = interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
	}
}
