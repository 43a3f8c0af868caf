package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

// newHelix returns a client pointed at handler, with pre-issued tokens.
func newHelix(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"app-token","expires_in":3600,"token_type":"bearer"}`)
	}))
	t.Cleanup(tokenSrv.Close)
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)
	return &HelixClient{
		AppTokenSource:  &TokenSource{ClientID: "test-client-id", ClientSecret: "s", TokenURL: tokenSrv.URL},
		UserTokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-token"}),
		ClientID:        "test-client-id",
		BaseURL:         api.URL,
	}
}

func TestHelixClient_GetUser(t *testing.T) {
	tests := []struct {
		name        string
		login       string
		response    string
		status      int
		wantID      string
		wantErr     bool
		errNotFound bool
	}{
		{
			name:     "found",
			login:    "@SomeStreamer",
			response: `{"data":[{"id":"12345","login":"somestreamer","display_name":"SomeStreamer","profile_image_url":"https://img/x.png"}]}`,
			status:   http.StatusOK,
			wantID:   "12345",
		},
		{
			name:        "not found",
			login:       "nobody",
			response:    `{"data":[]}`,
			status:      http.StatusOK,
			wantErr:     true,
			errNotFound: true,
		},
		{
			name:     "api error",
			login:    "someone",
			response: `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`,
			status:   http.StatusUnauthorized,
			wantErr:  true,
		},
		{
			name:    "empty login",
			login:   " ",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/users" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer app-token" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
				if got := r.URL.Query().Get("login"); got != strings.TrimPrefix(tt.login, "@") {
					t.Errorf("login query = %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.response)
			})
			u, err := hc.GetUser(context.Background(), tt.login)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetUser() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errNotFound && !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if tt.status == http.StatusUnauthorized {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Status != 401 || apiErr.Message != "Invalid OAuth token" {
					t.Errorf("expected APIError 401, got %v", err)
				}
			}
			if u.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", u.ID, tt.wantID)
			}
		})
	}
}

func TestHelixClient_GetChannelInfo(t *testing.T) {
	hc := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != "42" {
			t.Errorf("broadcaster_id = %q", r.URL.Query().Get("broadcaster_id"))
		}
		_, _ = io.WriteString(w, `{"data":[{"broadcaster_id":"42","broadcaster_name":"zac","title":"making stuff","game_id":"509660","game_name":"Makers & Crafting"}]}`)
	})
	info, err := hc.GetChannelInfo(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetChannelInfo: %v", err)
	}
	if info.Title != "making stuff" || info.GameName != "Makers & Crafting" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestHelixClient_ModifyChannel(t *testing.T) {
	var got ChannelEdit
	calls := 0
	hc := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("expected user token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := hc.ModifyChannel(context.Background(), "42", ChannelEdit{Title: "new title"}); err != nil {
		t.Fatalf("ModifyChannel: %v", err)
	}
	if got.Title != "new title" || got.GameID != "" {
		t.Errorf("body = %+v", got)
	}
	if err := hc.ModifyChannel(context.Background(), "42", ChannelEdit{}); err != nil {
		t.Fatalf("empty edit: %v", err)
	}
	if calls != 1 {
		t.Errorf("empty edit should not call the API, calls = %d", calls)
	}

	hc.UserTokenSource = nil
	if err := hc.ModifyChannel(context.Background(), "42", ChannelEdit{Title: "x"}); !errors.Is(err, ErrNoUserToken) {
		t.Errorf("expected ErrNoUserToken, got %v", err)
	}
}

func TestHelixClient_GetFollowerTotal(t *testing.T) {
	hc := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/followers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"total":1234,"data":[]}`)
	})
	n, err := hc.GetFollowerTotal(context.Background(), "42")
	if err != nil || n != 1234 {
		t.Fatalf("GetFollowerTotal = %d, %v", n, err)
	}
}

func TestHelixClient_Subscriptions(t *testing.T) {
	var created Subscription
	var deleted string
	hc := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eventsub/subscriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("after") == "" {
				_, _ = io.WriteString(w, `{"data":[{"id":"a","type":"channel.follow","version":"2","status":"enabled"}],"pagination":{"cursor":"c1"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"data":[{"id":"b","type":"channel.raid","version":"1","status":"enabled"}],"pagination":{}}`)
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode: %v", err)
			}
			created.ID = "new-id"
			created.Status = "webhook_callback_verification_pending"
			created.Transport.Secret = ""
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []Subscription{created}})
		case http.MethodDelete:
			deleted = r.URL.Query().Get("id")
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	subs, err := hc.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != "a" || subs[1].ID != "b" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	sub, err := hc.CreateSubscription(ctx, Subscription{
		Type:      "channel.cheer",
		Condition: map[string]string{"broadcaster_user_id": "42"},
		Transport: Transport{Method: "webhook", Callback: "https://bot.example/eventSubCallback", Secret: "s3cret"},
	})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if sub.ID != "new-id" || created.Version != "1" || created.Transport.Secret != "s3cret" {
		t.Errorf("unexpected create round trip: sent %+v got %+v", created, sub)
	}

	if err := hc.DeleteSubscription(ctx, "a"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if deleted != "a" {
		t.Errorf("deleted id = %q", deleted)
	}
	if err := hc.DeleteSubscription(ctx, ""); err == nil {
		t.Error("expected error for empty id")
	}
}
