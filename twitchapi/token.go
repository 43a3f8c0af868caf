package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// App tokens cannot send chat; chat needs the bot's user token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Twitch token endpoint.
	TokenURL   string
	HTTPClient *http.Client

	mu  sync.Mutex
	src oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	src, err := ts.source()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}

func (ts *TokenSource) source() (oauth2.TokenSource, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.src != nil {
		return ts.src, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	cfg := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     Endpoint.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.TokenURL != "" {
		cfg.TokenURL = ts.TokenURL
	}
	// The token source keeps this context for every later refresh.
	ctx := context.Background()
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	ts.src = cfg.TokenSource(ctx)
	return ts.src, nil
}
