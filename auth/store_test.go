package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/kicklite/kicklite/crypto"
	"github.com/kicklite/kicklite/db"
	"github.com/kicklite/kicklite/testutil"
)

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestStoreRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &Store{DB: database}

	if tok, err := store.LoadTokens(ctx); err != nil || tok != nil {
		t.Fatalf("empty store: tokens=%+v err=%v", tok, err)
	}

	want := &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	if err := store.SaveTokens(ctx, want); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if err := store.SaveProfile(ctx, Profile{"username": "alice"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, err := store.LoadTokens(ctx)
	if err != nil || got == nil {
		t.Fatalf("LoadTokens: got=%+v err=%v", got, err)
	}
	if got.AccessToken != want.AccessToken || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("LoadTokens = %+v, want %+v", got, want)
	}
	profile, err := store.LoadProfile(ctx)
	if err != nil || profile["username"] != "alice" {
		t.Errorf("LoadProfile = %+v err=%v", profile, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if tok, _ := store.LoadTokens(ctx); tok != nil {
		t.Error("tokens should be gone after Clear")
	}
	// Clearing an empty store is a no-op.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestStoreEncryptedAtRest(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &Store{DB: database, Enc: testEncryptor(t)}

	want := &Tokens{AccessToken: "secret-at", RefreshToken: "secret-rt", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.SaveTokens(ctx, want); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	t.Cleanup(func() { _ = store.Clear(ctx) })

	raw, ok, err := db.GetKV(ctx, database, "session:tokens")
	if err != nil || !ok {
		t.Fatalf("GetKV: ok=%v err=%v", ok, err)
	}
	if strings.Contains(raw, "secret-at") || strings.Contains(raw, "secret-rt") {
		t.Error("raw stored value must not contain plaintext tokens")
	}

	got, err := store.LoadTokens(ctx)
	if err != nil || got == nil || got.AccessToken != "secret-at" {
		t.Errorf("LoadTokens = %+v err=%v", got, err)
	}
}

func TestStoreMalformedValueTreatedAsAbsent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &Store{DB: database}
	t.Cleanup(func() { _ = store.Clear(ctx) })

	if err := db.SetKV(ctx, database, "session:tokens", "{not json"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	tok, err := store.LoadTokens(ctx)
	if err != nil {
		t.Fatalf("malformed value must not error: %v", err)
	}
	if tok != nil {
		t.Errorf("malformed value should read as absent, got %+v", tok)
	}

	// A value that parses but misses required fields also reads as absent.
	if err := db.SetKV(ctx, database, "session:tokens", `{"access_token":"only"}`); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if tok, _ := store.LoadTokens(ctx); tok != nil {
		t.Errorf("incomplete tokens should read as absent, got %+v", tok)
	}
}
