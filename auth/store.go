package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kicklite/kicklite/crypto"
	"github.com/kicklite/kicklite/db"
)

const (
	tokensKey  = "session:tokens"
	profileKey = "session:profile"
)

// Tokens is the persisted credential snapshot. It is written wholesale on
// sign-in, refresh, and sign-out, never field by field.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Profile is an opaque bag of display fields returned by the token proxy. It
// survives refreshes that omit profile data.
type Profile map[string]interface{}

// Store persists the session in the kv table. When Enc is set the blobs are
// encrypted at rest; either way a value that fails to decrypt or parse is
// treated as absent, not as an error.
type Store struct {
	DB  *sql.DB
	Enc crypto.Encryptor
}

func (s *Store) load(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, ok, err := db.GetKV(ctx, s.DB, key)
	if err != nil {
		return false, &StorageError{Op: "read", Err: err}
	}
	if !ok {
		return false, nil
	}
	if s.Enc != nil {
		raw, err = crypto.DecryptString(s.Enc, raw)
		if err != nil {
			slog.Warn("stored session value failed to decrypt; treating as absent", slog.String("key", key), slog.Any("err", err))
			return false, nil
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		slog.Warn("stored session value failed to parse; treating as absent", slog.String("key", key), slog.Any("err", err))
		return false, nil
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}
	val := string(raw)
	if s.Enc != nil {
		val, err = crypto.EncryptString(s.Enc, val)
		if err != nil {
			return &StorageError{Op: "encrypt", Err: err}
		}
	}
	if err := db.SetKV(ctx, s.DB, key, val); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

// LoadTokens returns the persisted token snapshot, or nil when absent or
// unreadable.
func (s *Store) LoadTokens(ctx context.Context) (*Tokens, error) {
	var t Tokens
	ok, err := s.load(ctx, tokensKey, &t)
	if err != nil || !ok {
		return nil, err
	}
	if t.AccessToken == "" || t.RefreshToken == "" {
		slog.Warn("stored tokens incomplete; treating as absent")
		return nil, nil
	}
	return &t, nil
}

func (s *Store) SaveTokens(ctx context.Context, t *Tokens) error {
	return s.save(ctx, tokensKey, t)
}

// LoadProfile returns the persisted profile, or nil when absent or unreadable.
func (s *Store) LoadProfile(ctx context.Context) (Profile, error) {
	var p Profile
	ok, err := s.load(ctx, profileKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	return p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	return s.save(ctx, profileKey, p)
}

// Clear removes both blobs. Clearing an already-empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := db.DeleteKV(ctx, s.DB, tokensKey); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	if err := db.DeleteKV(ctx, s.DB, profileKey); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}
