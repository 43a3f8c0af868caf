// Package twitchapi is a small Helix client covering the calls the bot makes:
// user and channel lookups, channel edits and EventSub subscription management.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("twitchapi: not found")
	// ErrNoUserToken is returned by calls that need a broadcaster token when none is configured.
	ErrNoUserToken = errors.New("twitchapi: no user token source configured")
)

// APIError is a non-2xx Helix response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: %d %s", e.Status, e.Message)
}

// HelixClient calls Helix with an app token, or with the broadcaster's user
// token for endpoints that require one.
type HelixClient struct {
	AppTokenSource  *TokenSource
	UserTokenSource oauth2.TokenSource
	ClientID        string
	BaseURL         string
	HTTPClient      *http.Client
}

// User is a Helix user.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// ChannelInfo is the subset of channel information the bot tracks.
type ChannelInfo struct {
	BroadcasterID   string `json:"broadcaster_id"`
	BroadcasterName string `json:"broadcaster_name"`
	Language        string `json:"broadcaster_language"`
	Title           string `json:"title"`
	GameID          string `json:"game_id"`
	GameName        string `json:"game_name"`
}

// ChannelEdit is a partial channel update. Empty fields are left unchanged.
type ChannelEdit struct {
	Title  string `json:"title,omitempty"`
	GameID string `json:"game_id,omitempty"`
}

// Category is a search result from search/categories.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (hc *HelixClient) appToken(ctx context.Context) (string, error) {
	if hc.AppTokenSource == nil {
		return "", errors.New("twitchapi: no app token source configured")
	}
	return hc.AppTokenSource.Get(ctx)
}

func (hc *HelixClient) userToken() (string, error) {
	if hc.UserTokenSource == nil {
		return "", ErrNoUserToken
	}
	tok, err := hc.UserTokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("user token: %w", err)
	}
	return tok.AccessToken, nil
}

// do sends one request. A nil out discards the response body.
func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	u := hc.base() + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	logRateLimit(resp, path)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// logRateLimit warns when less than a third of the rate-limit bucket remains.
func logRateLimit(resp *http.Response, path string) {
	limit, err1 := strconv.Atoi(resp.Header.Get("Ratelimit-Limit"))
	remaining, err2 := strconv.Atoi(resp.Header.Get("Ratelimit-Remaining"))
	if err1 != nil || err2 != nil || limit <= 0 {
		return
	}
	if remaining*3 < limit {
		slog.Warn("helix rate limit running low", slog.String("path", path), slog.Int("remaining", remaining), slog.Int("limit", limit))
	}
}

// GetUser looks up a user by login name.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (User, error) {
	login = strings.TrimPrefix(strings.TrimSpace(login), "@")
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	tok, err := hc.appToken(ctx)
	if err != nil {
		return User{}, err
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "users", url.Values{"login": {login}}, tok, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user %q: %w", login, ErrNotFound)
	}
	return body.Data[0], nil
}

// GetChannelInfo returns the broadcaster's current title and category.
func (hc *HelixClient) GetChannelInfo(ctx context.Context, broadcasterID string) (ChannelInfo, error) {
	if broadcasterID == "" {
		return ChannelInfo{}, fmt.Errorf("broadcasterID empty")
	}
	tok, err := hc.appToken(ctx)
	if err != nil {
		return ChannelInfo{}, err
	}
	var body struct {
		Data []ChannelInfo `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "channels", url.Values{"broadcaster_id": {broadcasterID}}, tok, nil, &body); err != nil {
		return ChannelInfo{}, err
	}
	if len(body.Data) == 0 {
		return ChannelInfo{}, fmt.Errorf("channel %s: %w", broadcasterID, ErrNotFound)
	}
	return body.Data[0], nil
}

// ModifyChannel updates title and/or category. It needs the broadcaster's user token.
func (hc *HelixClient) ModifyChannel(ctx context.Context, broadcasterID string, edit ChannelEdit) error {
	if edit == (ChannelEdit{}) {
		return nil
	}
	tok, err := hc.userToken()
	if err != nil {
		return err
	}
	return hc.do(ctx, http.MethodPatch, "channels", url.Values{"broadcaster_id": {broadcasterID}}, tok, edit, nil)
}

// SearchCategories returns categories matching query, best match first.
func (hc *HelixClient) SearchCategories(ctx context.Context, query string) ([]Category, error) {
	tok, err := hc.appToken(ctx)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []Category `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "search/categories", url.Values{"query": {query}}, tok, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetFollowerTotal returns the broadcaster's follower count.
func (hc *HelixClient) GetFollowerTotal(ctx context.Context, broadcasterID string) (int, error) {
	tok, err := hc.userToken()
	if errors.Is(err, ErrNoUserToken) {
		tok, err = hc.appToken(ctx)
	}
	if err != nil {
		return 0, err
	}
	var body struct {
		Total int `json:"total"`
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "first": {"1"}}
	if err := hc.do(ctx, http.MethodGet, "channels/followers", q, tok, nil, &body); err != nil {
		return 0, err
	}
	return body.Total, nil
}

// Transport is an EventSub delivery transport.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is an EventSub subscription descriptor.
type Subscription struct {
	ID        string            `json:"id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt string            `json:"created_at,omitempty"`
	Cost      int               `json:"cost,omitempty"`
}

// ListSubscriptions returns every EventSub subscription owned by the client id.
func (hc *HelixClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	tok, err := hc.appToken(ctx)
	if err != nil {
		return nil, err
	}
	var out []Subscription
	after := ""
	for {
		q := url.Values{}
		if after != "" {
			q.Set("after", after)
		}
		var body struct {
			Data       []Subscription `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.do(ctx, http.MethodGet, "eventsub/subscriptions", q, tok, nil, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
		if body.Pagination.Cursor == "" || body.Pagination.Cursor == after {
			return out, nil
		}
		after = body.Pagination.Cursor
	}
}

// CreateSubscription registers sub and returns the created descriptor.
func (hc *HelixClient) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	tok, err := hc.appToken(ctx)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Version == "" {
		sub.Version = "1"
	}
	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "eventsub/subscriptions", nil, tok, sub, &body); err != nil {
		return Subscription{}, fmt.Errorf("create %s subscription: %w", sub.Type, err)
	}
	if len(body.Data) == 0 {
		return Subscription{}, fmt.Errorf("create %s subscription: empty response", sub.Type)
	}
	return body.Data[0], nil
}

// DeleteSubscription removes a subscription by id.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("subscription id empty")
	}
	tok, err := hc.appToken(ctx)
	if err != nil {
		return err
	}
	return hc.do(ctx, http.MethodDelete, "eventsub/subscriptions", url.Values{"id": {id}}, tok, nil, nil)
}
