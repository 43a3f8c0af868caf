// Package db provides the Postgres connection, embedded schema migrations and
// the bot's small data access layer: OAuth tokens and custom shout-outs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/streambot/crypto"
)

// ProviderTwitch is the oauth_tokens row of the chat bot account.
const ProviderTwitch = "twitch"

// Encryption versions stored per token row.
const (
	encPlaintext = 0
	encSealed    = 1
)

// ErrNoToken is returned when no token row exists for a provider.
var ErrNoToken = errors.New("no stored token")

// Connect opens a Postgres connection pool for dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Token is a stored OAuth token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Store reads and writes bot data. With a nil Sealer tokens are stored in plaintext.
type Store struct {
	DB     *sql.DB
	Sealer *crypto.Sealer
}

// NewStore returns a store over db.
func NewStore(db *sql.DB, sealer *crypto.Sealer) *Store {
	return &Store{DB: db, Sealer: sealer}
}

func (s *Store) seal(v string) (string, error) {
	if s.Sealer == nil {
		return v, nil
	}
	return s.Sealer.Seal(v)
}

// UpsertOAuthToken stores or replaces the token for provider, sealed when a Sealer is set.
func (s *Store) UpsertOAuthToken(ctx context.Context, provider string, tok Token) error {
	access, err := s.seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	version := encPlaintext
	var keyID sql.NullString
	if s.Sealer != nil {
		version = encSealed
		keyID = sql.NullString{String: s.Sealer.KeyID(), Valid: true}
	}
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		provider, access, refresh, expiry, strings.TrimSpace(tok.Scope), version, keyID)
	if err != nil {
		return fmt.Errorf("upsert %s token: %w", provider, err)
	}
	return nil
}

// GetOAuthToken returns the token for provider or ErrNoToken.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (Token, error) {
	var (
		tok     Token
		expiry  sql.NullTime
		version int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, encryption_version FROM oauth_tokens WHERE provider=$1`,
		provider).Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, &tok.Scope, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("read %s token: %w", provider, err)
	}
	tok.Expiry = expiry.Time
	if version == encSealed {
		if s.Sealer == nil {
			return Token{}, fmt.Errorf("%s token is encrypted but ENCRYPTION_KEY is not configured", provider)
		}
		if tok.AccessToken, err = s.Sealer.Open(tok.AccessToken); err != nil {
			return Token{}, fmt.Errorf("open access token: %w", err)
		}
		if tok.RefreshToken, err = s.Sealer.Open(tok.RefreshToken); err != nil {
			return Token{}, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return tok, nil
}

// SealPlaintextTokens re-writes every plaintext token row with the store's
// Sealer and returns the number of rows changed.
func (s *Store) SealPlaintextTokens(ctx context.Context) (int, error) {
	if s.Sealer == nil {
		return 0, fmt.Errorf("ENCRYPTION_KEY is not configured")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE encryption_version=$1`, encPlaintext)
	if err != nil {
		return 0, fmt.Errorf("list plaintext tokens: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		providers = append(providers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sealed := 0
	for _, p := range providers {
		tok, err := s.GetOAuthToken(ctx, p)
		if err != nil {
			return sealed, err
		}
		if err := s.UpsertOAuthToken(ctx, p, tok); err != nil {
			return sealed, err
		}
		sealed++
	}
	return sealed, nil
}

// CustomShoutout returns the custom shout-out text for login, or "" when none is set.
func (s *Store) CustomShoutout(ctx context.Context, login string) (string, error) {
	var msg string
	err := s.DB.QueryRowContext(ctx, `SELECT message FROM custom_shoutouts WHERE username=$1`, strings.ToLower(login)).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read shout-out for %s: %w", login, err)
	}
	return msg, nil
}

// SetCustomShoutout stores the shout-out text for login.
func (s *Store) SetCustomShoutout(ctx context.Context, login, message string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO custom_shoutouts(username, message, updated_at) VALUES($1,$2,NOW())
		ON CONFLICT(username) DO UPDATE SET message=EXCLUDED.message, updated_at=NOW()`,
		strings.ToLower(login), message)
	return err
}

// DeleteCustomShoutout removes the shout-out for login.
func (s *Store) DeleteCustomShoutout(ctx context.Context, login string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM custom_shoutouts WHERE username=$1`, strings.ToLower(login))
	return err
}

// ListCustomShoutouts returns all shout-outs keyed by login.
func (s *Store) ListCustomShoutouts(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT username, message FROM custom_shoutouts ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var u, m string
		if err := rows.Scan(&u, &m); err != nil {
			return nil, err
		}
		out[u] = m
	}
	return out, rows.Err()
}
