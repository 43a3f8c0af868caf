package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is Twitch's OAuth2 endpoint. Twitch wants credentials in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://id.twitch.tv/oauth2/authorize",
	TokenURL:  "https://id.twitch.tv/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DefaultBotScopes are requested for the chat bot / broadcaster token.
var DefaultBotScopes = []string{"chat:read", "chat:edit", "channel:manage:broadcast", "moderator:read:followers"}

// OAuthConfig builds the authorization-code config for the bot's user token.
func OAuthConfig(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = DefaultBotScopes
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     Endpoint,
	}
}

// ParseScopes splits a comma or space separated scope list.
func ParseScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// RefreshUserToken exchanges a refresh token for a new user token.
func RefreshUserToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	// An expired token forces the source to refresh.
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	return cfg.TokenSource(ctx, stale).Token()
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
