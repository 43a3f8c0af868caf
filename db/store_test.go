package db_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/streambot/crypto"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/testutil"
)

func sealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	s, err := crypto.NewSealer(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func cleanupProvider(t *testing.T, store *db.Store, provider string) {
	t.Cleanup(func() {
		_, _ = store.DB.ExecContext(context.Background(), `DELETE FROM oauth_tokens WHERE provider=$1`, provider)
	})
}

func TestTokenRoundTripSealed(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := db.NewStore(database, sealer(t))
	ctx := context.Background()
	cleanupProvider(t, store, "test-sealed")

	want := db.Token{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour).UTC().Truncate(time.Second), Scope: "chat:read chat:edit"}
	if err := store.UpsertOAuthToken(ctx, "test-sealed", want); err != nil {
		t.Fatal(err)
	}

	var raw string
	if err := database.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE provider='test-sealed'`).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw == want.AccessToken {
		t.Error("access token stored in plaintext")
	}

	got, err := store.GetOAuthToken(ctx, "test-sealed")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) || got.Scope != want.Scope {
		t.Errorf("got %+v, want %+v", got, want)
	}

	plain := db.NewStore(database, nil)
	if _, err := plain.GetOAuthToken(ctx, "test-sealed"); err == nil {
		t.Error("reading a sealed token without a key should fail")
	}
}

func TestSealPlaintextTokens(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	plain := db.NewStore(database, nil)
	cleanupProvider(t, plain, "test-plain")

	if err := plain.UpsertOAuthToken(ctx, "test-plain", db.Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	sealed := db.NewStore(database, sealer(t))
	n, err := sealed.SealPlaintextTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("sealed %d rows, want at least 1", n)
	}
	got, err := sealed.GetOAuthToken(ctx, "test-plain")
	if err != nil || got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Errorf("after sealing got %+v, %v", got, err)
	}

	if _, err := plain.SealPlaintextTokens(ctx); err == nil {
		t.Error("sealing without a key should fail")
	}
}

func TestGetOAuthTokenMissing(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := db.NewStore(database, nil)
	if _, err := store.GetOAuthToken(context.Background(), "does-not-exist"); !errors.Is(err, db.ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestCustomShoutouts(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := db.NewStore(database, nil)
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM custom_shoutouts WHERE username LIKE 'test_%'`)
	})

	if msg, err := store.CustomShoutout(ctx, "test_nobody"); err != nil || msg != "" {
		t.Errorf("missing shout-out = %q, %v", msg, err)
	}
	if err := store.SetCustomShoutout(ctx, "Test_Friend", "the legendary friend"); err != nil {
		t.Fatal(err)
	}
	if msg, _ := store.CustomShoutout(ctx, "test_friend"); msg != "the legendary friend" {
		t.Errorf("shout-out = %q", msg)
	}
	all, err := store.ListCustomShoutouts(ctx)
	if err != nil || all["test_friend"] != "the legendary friend" {
		t.Errorf("list = %v, %v", all, err)
	}
	if err := store.DeleteCustomShoutout(ctx, "TEST_FRIEND"); err != nil {
		t.Fatal(err)
	}
	if msg, _ := store.CustomShoutout(ctx, "test_friend"); msg != "" {
		t.Errorf("shout-out after delete = %q", msg)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, dirty, err := db.MigrationVersion(database)
	if err != nil || dirty || v < 1 {
		t.Errorf("version = %d dirty=%v err=%v", v, dirty, err)
	}
}

func TestConnectRequiresDSN(t *testing.T) {
	if _, err := db.Connect(""); err == nil {
		t.Error("expected error for empty dsn")
	}
}
