package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	tokens  *Tokens
	profile Profile
	failSet bool
}

func (s *memStore) LoadTokens(ctx context.Context) (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return nil, nil
	}
	t := *s.tokens
	return &t, nil
}

func (s *memStore) SaveTokens(ctx context.Context, t *Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return &StorageError{Op: "write", Err: errors.New("disk full")}
	}
	c := *t
	s.tokens = &c
	return nil
}

func (s *memStore) LoadProfile(ctx context.Context) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, nil
}

func (s *memStore) SaveProfile(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	return nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	s.profile = nil
	return nil
}

func (s *memStore) storedTokens() *Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

type fakeProxy struct {
	mu           sync.Mutex
	exchanges    int
	refreshes    int
	exchangeResp *TokenResponse
	refreshResp  *TokenResponse
	exchangeErr  error
	refreshErr   error
	// refreshGate, when set, blocks Refresh until it is closed.
	refreshGate chan struct{}
}

func (p *fakeProxy) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.exchangeResp, nil
}

func (p *fakeProxy) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	p.mu.Lock()
	gate := p.refreshGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshResp, nil
}

func (p *fakeProxy) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

type fakeCreds struct {
	mu  sync.Mutex
	tok string
}

func (c *fakeCreds) Set(tok string) {
	c.mu.Lock()
	c.tok = tok
	c.mu.Unlock()
}

func (c *fakeCreds) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok
}

func newTestManager(store SessionStore, proxy Exchanger, creds CredentialSink) *Manager {
	return NewManager(ManagerConfig{
		Store:        store,
		Proxy:        proxy,
		Creds:        creds,
		ClientID:     "client-id",
		AuthorizeURL: "https://kick.example/oauth/authorize",
		Scopes:       "user:read",
		RedirectURI:  "http://127.0.0.1:8080/auth/callback",
		ProxyURL:     "https://proxy.example",
	})
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func callbackParams(state, code string) url.Values {
	v := url.Values{}
	if state != "" {
		v.Set("state", state)
	}
	if code != "" {
		v.Set("code", code)
	}
	return v
}

func TestBeginSignInMissingConfig(t *testing.T) {
	m := NewManager(ManagerConfig{Store: &memStore{}, Proxy: &fakeProxy{}})
	_, err := m.BeginSignIn(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
	for _, name := range []string{"KICK_CLIENT_ID", "KICK_PROXY_URL"} {
		found := false
		for _, miss := range cfgErr.Missing {
			if miss == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing list should name %s: %v", name, cfgErr.Missing)
		}
	}
	if m.Status().Error == "" {
		t.Error("status should carry the configuration error")
	}
}

func TestBeginSignInBuildsAuthorizeURL(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	attempt, err := m.BeginSignIn(context.Background())
	if err != nil {
		t.Fatalf("BeginSignIn: %v", err)
	}
	u, err := url.Parse(attempt.AuthorizeURL)
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "client-id" {
		t.Errorf("unexpected query: %s", u.RawQuery)
	}
	if q.Get("state") != attempt.State {
		t.Errorf("state param %q != attempt state %q", q.Get("state"), attempt.State)
	}
	if q.Get("scope") != "user:read" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestCompleteSignInSuccess(t *testing.T) {
	store := &memStore{}
	proxy := &fakeProxy{exchangeResp: &TokenResponse{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresIn:    3600,
		Profile:      Profile{"username": "alice"},
	}}
	creds := &fakeCreds{}
	m := newTestManager(store, proxy, creds)

	attempt, err := m.BeginSignIn(context.Background())
	if err != nil {
		t.Fatalf("BeginSignIn: %v", err)
	}
	if err := m.CompleteSignIn(context.Background(), attempt.ID, callbackParams(attempt.State, "the-code")); err != nil {
		t.Fatalf("CompleteSignIn: %v", err)
	}

	st := m.Status()
	if !st.Authenticated || st.Error != "" {
		t.Errorf("status = %+v, want authenticated with no error", st)
	}
	if st.Profile["username"] != "alice" {
		t.Errorf("profile not kept: %v", st.Profile)
	}
	if got := store.storedTokens(); got == nil || got.AccessToken != "at" {
		t.Errorf("tokens not persisted: %+v", got)
	}
	if creds.current() != "at" {
		t.Errorf("bearer credential = %q, want at", creds.current())
	}
	if !m.refreshScheduled() {
		t.Error("background refresh should be scheduled")
	}
}

func TestCompleteSignInStateMismatch(t *testing.T) {
	store := &memStore{}
	proxy := &fakeProxy{exchangeResp: &TokenResponse{AccessToken: "at", RefreshToken: "rt"}}
	m := newTestManager(store, proxy, nil)

	attempt, _ := m.BeginSignIn(context.Background())
	err := m.CompleteSignIn(context.Background(), attempt.ID, callbackParams("forged-state", "the-code"))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %v", err)
	}
	if store.storedTokens() != nil {
		t.Error("a mismatched state must not persist tokens")
	}
	if m.Status().Authenticated {
		t.Error("session must stay signed out")
	}
	proxy.mu.Lock()
	if proxy.exchanges != 0 {
		t.Error("code must not be exchanged on state mismatch")
	}
	proxy.mu.Unlock()
}

func TestCompleteSignInSupersededAttempt(t *testing.T) {
	store := &memStore{}
	proxy := &fakeProxy{exchangeResp: &TokenResponse{AccessToken: "at", RefreshToken: "rt"}}
	m := newTestManager(store, proxy, nil)

	first, _ := m.BeginSignIn(context.Background())
	second, _ := m.BeginSignIn(context.Background())

	// The first attempt's redirect arrives after a second attempt began. Even
	// with its own correct state it must be rejected.
	err := m.CompleteSignIn(context.Background(), first.ID, callbackParams(first.State, "stale-code"))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError for stale attempt, got %v", err)
	}
	if store.storedTokens() != nil {
		t.Error("stale completion must not persist tokens")
	}

	// The live attempt still completes normally.
	if err := m.CompleteSignIn(context.Background(), second.ID, callbackParams(second.State, "the-code")); err != nil {
		t.Fatalf("live attempt should complete: %v", err)
	}
}

func TestCompleteSignInProviderError(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	attempt, _ := m.BeginSignIn(context.Background())
	params := callbackParams(attempt.State, "")
	params.Set("error", "access_denied")
	err := m.CompleteSignIn(context.Background(), attempt.ID, params)
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Errorf("want provider error surfaced, got %v", err)
	}
	if m.Status().Error == "" {
		t.Error("status should carry the error line")
	}
}

func TestCompleteSignInMissingCode(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	attempt, _ := m.BeginSignIn(context.Background())
	err := m.CompleteSignIn(context.Background(), attempt.ID, callbackParams(attempt.State, ""))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %v", err)
	}
}

func TestCancelSignIn(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	attempt, _ := m.BeginSignIn(context.Background())
	m.CancelSignIn(attempt.ID)
	if got := m.Status().Error; !strings.Contains(got, "cancelled") {
		t.Errorf("status error = %q, want cancellation notice", got)
	}
	// The cancelled attempt can no longer complete.
	if err := m.CompleteSignIn(context.Background(), attempt.ID, callbackParams(attempt.State, "code")); err == nil {
		t.Error("cancelled attempt must not complete")
	}
}

func TestBootstrapExpiredTriggersOneSilentRefresh(t *testing.T) {
	store := &memStore{tokens: &Tokens{
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	proxy := &fakeProxy{refreshResp: &TokenResponse{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: 3600}}
	creds := &fakeCreds{}
	m := newTestManager(store, proxy, creds)

	m.Bootstrap(context.Background())

	if got := proxy.refreshCount(); got != 1 {
		t.Errorf("refresh count = %d, want exactly 1", got)
	}
	st := m.Status()
	if !st.Authenticated {
		t.Error("bootstrap with refreshable tokens should end authenticated")
	}
	if creds.current() != "new-at" {
		t.Errorf("bearer = %q, want new-at", creds.current())
	}
	if got := store.storedTokens(); got == nil || got.AccessToken != "new-at" {
		t.Errorf("refreshed tokens not persisted: %+v", got)
	}
}

func TestBootstrapValidTokensSkipsRefresh(t *testing.T) {
	store := &memStore{tokens: &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	proxy := &fakeProxy{}
	m := newTestManager(store, proxy, &fakeCreds{})

	m.Bootstrap(context.Background())

	if got := proxy.refreshCount(); got != 0 {
		t.Errorf("refresh count = %d, want 0 for unexpired tokens", got)
	}
	if !m.Status().Authenticated {
		t.Error("expected authenticated")
	}
	if !m.refreshScheduled() {
		t.Error("background refresh should be scheduled")
	}
}

func TestBootstrapMissingTokensSignedOut(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	m.Bootstrap(context.Background())
	st := m.Status()
	if st.Authenticated || st.Error != "" {
		t.Errorf("empty store should bootstrap to a clean signed-out state: %+v", st)
	}
}

func TestRefreshFailureSignsOutAndClearsStorage(t *testing.T) {
	store := &memStore{tokens: &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	proxy := &fakeProxy{refreshErr: &AuthError{Reason: "refresh token revoked"}}
	creds := &fakeCreds{}
	m := newTestManager(store, proxy, creds)
	m.Bootstrap(context.Background())

	err := m.Refresh(context.Background(), false)
	if err == nil {
		t.Fatal("expected refresh error")
	}

	st := m.Status()
	if st.Authenticated {
		t.Error("failed refresh must leave the session signed out")
	}
	if !strings.Contains(st.Error, "revoked") {
		t.Errorf("error notice should be preserved across the sign-out, got %q", st.Error)
	}
	if store.storedTokens() != nil {
		t.Error("failed refresh must clear persisted tokens")
	}
	if creds.current() != "" {
		t.Error("bearer credential must be dropped")
	}
	if m.refreshScheduled() {
		t.Error("no refresh timer may survive the sign-out")
	}
}

func TestRefreshPreservesOmittedFields(t *testing.T) {
	oldExpiry := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	store := &memStore{tokens: &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    oldExpiry,
	}}
	store.profile = Profile{"username": "alice"}
	// Response omits refresh_token, expires_in, and profile.
	proxy := &fakeProxy{refreshResp: &TokenResponse{AccessToken: "new-at"}}
	m := newTestManager(store, proxy, nil)
	m.Bootstrap(context.Background())

	if err := m.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := store.storedTokens()
	if got.RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q, want previous value kept", got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(oldExpiry) {
		t.Errorf("ExpiresAt = %v, want previous expiry kept", got.ExpiresAt)
	}
	if m.Status().Profile["username"] != "alice" {
		t.Error("profile should survive a refresh that omits it")
	}
}

func TestRefreshWhileInFlight(t *testing.T) {
	store := &memStore{tokens: &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}}
	gate := make(chan struct{})
	proxy := &fakeProxy{
		refreshResp: &TokenResponse{AccessToken: "new-at"},
		refreshGate: gate,
	}
	m := newTestManager(store, proxy, nil)
	m.Bootstrap(context.Background())

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.Refresh(context.Background(), false) }()

	// Wait until the first refresh is parked at the proxy, then a second
	// interactive call must report the collision instead of a false success.
	waitForCondition(t, "first refresh in flight", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.refreshing
	})
	if err := m.Refresh(context.Background(), false); !errors.Is(err, ErrRefreshInFlight) {
		t.Errorf("second Refresh = %v, want ErrRefreshInFlight", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	if proxy.refreshCount() != 1 {
		t.Errorf("proxy refreshes = %d, want 1", proxy.refreshCount())
	}
	if got := store.storedTokens().AccessToken; got != "new-at" {
		t.Errorf("AccessToken = %q, want new-at", got)
	}
}

func TestRefreshWithoutTokens(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	if err := m.Refresh(context.Background(), false); err == nil {
		t.Error("refresh without a stored refresh token should fail")
	}
	if m.Status().Authenticated {
		t.Error("must stay signed out")
	}
}

func TestSignOutIdempotent(t *testing.T) {
	store := &memStore{tokens: &Tokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	creds := &fakeCreds{}
	m := newTestManager(store, &fakeProxy{}, creds)
	m.Bootstrap(context.Background())

	if err := m.SignOut(context.Background(), false); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if m.refreshScheduled() {
		t.Error("sign-out must cancel the refresh timer")
	}
	if store.storedTokens() != nil || creds.current() != "" {
		t.Error("sign-out must clear storage and the credential")
	}
	// Signing out again is a no-op.
	if err := m.SignOut(context.Background(), false); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
}

func TestSignOutPreserveError(t *testing.T) {
	m := newTestManager(&memStore{}, &fakeProxy{}, nil)
	m.mu.Lock()
	m.errMsg = "something went wrong"
	m.mu.Unlock()

	_ = m.SignOut(context.Background(), true)
	if m.Status().Error != "something went wrong" {
		t.Error("preserveError should keep the notice")
	}
	_ = m.SignOut(context.Background(), false)
	if m.Status().Error != "" {
		t.Error("plain sign-out should clear the notice")
	}
}

func TestPersistFailureDoesNotActivateCredential(t *testing.T) {
	store := &memStore{failSet: true}
	proxy := &fakeProxy{exchangeResp: &TokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}}
	creds := &fakeCreds{}
	m := newTestManager(store, proxy, creds)

	attempt, _ := m.BeginSignIn(context.Background())
	err := m.CompleteSignIn(context.Background(), attempt.ID, callbackParams(attempt.State, "code"))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("want StorageError, got %v", err)
	}
	if creds.current() != "" {
		t.Error("credential must not activate when persistence failed")
	}
	if m.Status().Authenticated {
		t.Error("session must not report authenticated")
	}
}
