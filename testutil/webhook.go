package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/streambot/eventsub"
)

// SignedNotification builds a correctly signed EventSub notification request.
func SignedNotification(t *testing.T, secret, messageID string, ts time.Time, subType string, event any) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"subscription": map[string]any{"id": "sub-" + subType, "type": subType, "version": "1", "status": "enabled"},
		"event":        event,
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return SignedRequest(secret, messageID, ts, eventsub.MessageTypeNotification, body)
}

// SignedRequest builds a webhook request for body signed with secret.
func SignedRequest(secret, messageID string, ts time.Time, messageType string, body []byte) *http.Request {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodPost, eventsub.CallbackPath, bytes.NewReader(body))
	req.Header.Set(eventsub.HeaderMessageID, messageID)
	req.Header.Set(eventsub.HeaderMessageTimestamp, stamp)
	req.Header.Set(eventsub.HeaderMessageType, messageType)
	req.Header.Set(eventsub.HeaderMessageSignature, eventsub.NewVerifier(secret).Sign(messageID, stamp, body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
