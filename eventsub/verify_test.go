package eventsub

import "testing"

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	body := []byte(`{"subscription":{"type":"channel.follow"},"event":{"user_name":"ninja"}}`)
	sig := v.Sign("msg-1", "2024-01-01T12:00:00Z", body)
	if !v.Verify("msg-1", "2024-01-01T12:00:00Z", sig, body) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifier_TamperRejected(t *testing.T) {
	v := NewVerifier("s3cret")
	id, ts := "msg-1", "2024-01-01T12:00:00Z"
	body := []byte(`{"event":{"bits":100}}`)
	sig := v.Sign(id, ts, body)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		if v.Verify(id, ts, sig, tampered) {
			t.Fatalf("flipping body byte %d still verified", i)
		}
	}
	tests := []struct {
		name           string
		id, ts, sig    string
		verifierSecret string
	}{
		{"id changed", "msg-2", ts, sig, "s3cret"},
		{"timestamp changed", id, "2024-01-01T12:00:01Z", sig, "s3cret"},
		{"signature byte flipped", id, ts, sig[:len(sig)-1] + flipHex(sig[len(sig)-1]), "s3cret"},
		{"missing prefix", id, ts, sig[len("sha256="):], "s3cret"},
		{"wrong secret", id, ts, sig, "other"},
		{"empty secret", id, ts, NewVerifier("").Sign(id, ts, body), ""},
		{"empty id", "", ts, NewVerifier("s3cret").Sign("", ts, body), "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if NewVerifier(tt.verifierSecret).Verify(tt.id, tt.ts, tt.sig, body) {
				t.Error("expected rejection")
			}
		})
	}
}

func flipHex(c byte) string {
	if c == '0' {
		return "1"
	}
	return "0"
}
