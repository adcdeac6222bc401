package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/kicklite/kicklite/telemetry"
)

// SessionStore is the persistence surface the manager needs. *Store satisfies
// it; tests use an in-memory fake.
type SessionStore interface {
	LoadTokens(ctx context.Context) (*Tokens, error)
	SaveTokens(ctx context.Context, t *Tokens) error
	LoadProfile(ctx context.Context) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
	Clear(ctx context.Context) error
}

// Exchanger performs the proxied OAuth exchanges. *ProxyClient satisfies it.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// CredentialSink receives the active bearer token. The manager is the only
// writer; pass "" to drop the credential.
type CredentialSink interface {
	Set(token string)
}

type ManagerConfig struct {
	Store SessionStore
	Proxy Exchanger
	Creds CredentialSink

	ClientID     string
	AuthorizeURL string
	// Scopes is space-separated.
	Scopes      string
	RedirectURI string
	// ProxyURL is only inspected for the configuration check; exchanges go
	// through Proxy.
	ProxyURL string

	// RefreshLead is how far before expiry the background refresh fires.
	// Defaults to one minute.
	RefreshLead time.Duration
	// DefaultTokenLifetime applies when the proxy omits expires_in and no
	// previous expiry exists. Defaults to one hour.
	DefaultTokenLifetime time.Duration

	Now func() time.Time
}

// Attempt is one in-flight authorization attempt. Its State is the
// anti-forgery value the redirect must echo; only the most recently begun
// attempt is accepted at completion time.
type Attempt struct {
	ID           string
	State        string
	AuthorizeURL string
}

// Status is the manager's externally visible session state.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	Profile       Profile   `json:"profile,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Manager owns the token lifecycle: bootstrap from storage, the authorization
// code flow, background refresh scheduling, and sign-out. It is the single
// writer of the bearer credential and of the persisted session.
type Manager struct {
	store SessionStore
	proxy Exchanger
	creds CredentialSink

	clientID        string
	authorizeURL    string
	scopes          string
	redirectURI     string
	proxyConfigured bool

	refreshLead     time.Duration
	defaultLifetime time.Duration
	now             func() time.Time

	mu           sync.Mutex
	tokens       *Tokens
	profile      Profile
	errMsg       string
	attemptID    string
	attemptState string
	refreshTimer *time.Timer
	refreshing   bool
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		store:           cfg.Store,
		proxy:           cfg.Proxy,
		creds:           cfg.Creds,
		clientID:        cfg.ClientID,
		authorizeURL:    cfg.AuthorizeURL,
		scopes:          cfg.Scopes,
		redirectURI:     cfg.RedirectURI,
		proxyConfigured: cfg.ProxyURL != "",
		refreshLead:     cfg.RefreshLead,
		defaultLifetime: cfg.DefaultTokenLifetime,
		now:             cfg.Now,
	}
	if m.refreshLead <= 0 {
		m.refreshLead = time.Minute
	}
	if m.defaultLifetime <= 0 {
		m.defaultLifetime = time.Hour
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) missingConfig() []string {
	var missing []string
	if m.clientID == "" {
		missing = append(missing, "KICK_CLIENT_ID")
	}
	if !m.proxyConfigured {
		missing = append(missing, "KICK_PROXY_URL")
	}
	return missing
}

// Bootstrap restores a persisted session on startup. Expired tokens trigger
// exactly one silent refresh before the session is reported; a failed restore
// falls back to signed-out without blocking startup.
func (m *Manager) Bootstrap(ctx context.Context) {
	profile, perr := m.store.LoadProfile(ctx)
	tokens, terr := m.store.LoadTokens(ctx)
	if perr != nil || terr != nil {
		slog.Error("failed to restore session", slog.Any("profile_err", perr), slog.Any("tokens_err", terr))
		m.mu.Lock()
		if m.errMsg == "" {
			m.errMsg = "failed to restore session"
		}
		m.mu.Unlock()
		_ = m.SignOut(ctx, true)
		return
	}
	if tokens == nil {
		m.mu.Lock()
		m.profile = profile
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.tokens = tokens
	m.profile = profile
	expired := !tokens.ExpiresAt.After(m.now())
	m.mu.Unlock()

	if expired {
		// The refresh either installs a fresh pair or signs out; ignore the
		// error here, the status error line already carries it.
		_ = m.Refresh(ctx, true)
		return
	}
	m.mu.Lock()
	m.applyTokensLocked()
	m.mu.Unlock()
	slog.Info("session restored", slog.Time("expires_at", tokens.ExpiresAt))
}

// BeginSignIn starts an authorization attempt and returns the URL to send the
// user to. Starting a new attempt supersedes any previous one: a stale
// redirect can no longer complete.
func (m *Manager) BeginSignIn(ctx context.Context) (*Attempt, error) {
	if missing := m.missingConfig(); len(missing) > 0 {
		err := &ConfigurationError{Missing: missing}
		m.mu.Lock()
		m.errMsg = err.Error()
		m.mu.Unlock()
		return nil, err
	}

	state := uuid.NewString()
	conf := &oauth2.Config{
		ClientID:    m.clientID,
		RedirectURL: m.redirectURI,
		Scopes:      strings.Fields(m.scopes),
		Endpoint:    oauth2.Endpoint{AuthURL: m.authorizeURL},
	}
	attempt := &Attempt{
		ID:           uuid.NewString(),
		State:        state,
		AuthorizeURL: conf.AuthCodeURL(state),
	}

	m.mu.Lock()
	m.attemptID = attempt.ID
	m.attemptState = attempt.State
	m.errMsg = ""
	m.mu.Unlock()
	return attempt, nil
}

// CompleteSignIn consumes the redirect callback for an attempt. The callback
// must belong to the live attempt and echo its state value exactly; otherwise
// nothing is persisted and an AuthError is surfaced.
func (m *Manager) CompleteSignIn(ctx context.Context, attemptID string, params url.Values) error {
	m.mu.Lock()
	liveID, liveState := m.attemptID, m.attemptState
	m.mu.Unlock()

	if attemptID == "" || attemptID != liveID {
		return m.failSignIn(&AuthError{Reason: "authentication attempt is no longer active"})
	}
	// This attempt is decided either way; retire it.
	defer m.retireAttempt(attemptID)

	if e := params.Get("error"); e != "" {
		return m.failSignIn(&AuthError{Reason: e})
	}
	if st := params.Get("state"); st == "" || st != liveState {
		return m.failSignIn(&AuthError{Reason: "authentication response state mismatch"})
	}
	code := params.Get("code")
	if code == "" {
		return m.failSignIn(&AuthError{Reason: "no authorization code returned"})
	}

	resp, err := m.proxy.ExchangeCode(ctx, code, m.redirectURI)
	if err != nil {
		return m.failSignIn(err)
	}
	next := &Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.resolveExpiry(resp.ExpiresIn, time.Time{}),
	}
	if err := m.persistSession(ctx, next, resp.Profile); err != nil {
		return m.failSignIn(err)
	}
	if telemetry.AuthSignIns != nil {
		telemetry.AuthSignIns.Inc()
	}
	slog.Info("sign-in complete", slog.Time("expires_at", next.ExpiresAt))
	return nil
}

// CancelSignIn abandons the live attempt, surfacing a cancellation notice.
// Cancelling a superseded or unknown attempt is a no-op.
func (m *Manager) CancelSignIn(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attemptID == "" || attemptID != m.attemptID {
		return
	}
	m.attemptID = ""
	m.attemptState = ""
	m.errMsg = "authentication was cancelled"
}

// Refresh exchanges the stored refresh token for a new pair. Silent callers
// run from timers and swallow the returned error; interactive callers may
// surface it. A refresh already in flight yields ErrRefreshInFlight so
// interactive callers aren't told an exchange happened on their behalf.
// Failure signs the session out, preserving the error notice.
func (m *Manager) Refresh(ctx context.Context, silent bool) error {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return ErrRefreshInFlight
	}
	m.refreshing = true
	tokens := m.tokens
	profile := m.profile
	m.errMsg = ""
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	if tokens == nil || tokens.RefreshToken == "" {
		_ = m.SignOut(ctx, false)
		return &AuthError{Reason: "no refresh token available"}
	}
	if !m.proxyConfigured {
		err := &ConfigurationError{Missing: []string{"KICK_PROXY_URL"}}
		m.mu.Lock()
		m.errMsg = err.Error()
		m.mu.Unlock()
		_ = m.SignOut(ctx, true)
		return err
	}

	resp, err := m.proxy.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return m.failRefresh(ctx, err, silent)
	}
	next := &Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    m.resolveExpiry(resp.ExpiresIn, tokens.ExpiresAt),
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	nextProfile := profile
	if resp.Profile != nil {
		nextProfile = resp.Profile
	}
	if err := m.persistSession(ctx, next, nextProfile); err != nil {
		return m.failRefresh(ctx, err, silent)
	}
	if telemetry.AuthRefreshesSucceeded != nil {
		telemetry.AuthRefreshesSucceeded.Inc()
	}
	return nil
}

// SignOut clears the session in memory and storage and drops the bearer
// credential. The scheduled refresh is cancelled before anything else.
// Idempotent. preserveError keeps the current error notice, used when sign-out
// is itself failure recovery.
func (m *Manager) SignOut(ctx context.Context, preserveError bool) error {
	m.mu.Lock()
	if !preserveError {
		m.errMsg = ""
	}
	m.cancelRefreshTimerLocked()
	m.tokens = nil
	m.profile = nil
	m.mu.Unlock()

	if m.creds != nil {
		m.creds.Set("")
	}
	if err := m.store.Clear(ctx); err != nil {
		slog.Error("failed to clear persisted session", slog.Any("err", err))
		return err
	}
	return nil
}

// Status reports the current session for presentation.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Authenticated: m.tokens != nil && m.tokens.AccessToken != "",
		Profile:       m.profile,
		Error:         m.errMsg,
	}
	if m.tokens != nil {
		st.ExpiresAt = m.tokens.ExpiresAt
	}
	return st
}

// persistSession writes the new pair to storage first and only then activates
// it: the credential never outruns persistence.
func (m *Manager) persistSession(ctx context.Context, t *Tokens, p Profile) error {
	if err := m.store.SaveTokens(ctx, t); err != nil {
		return err
	}
	if p != nil {
		if err := m.store.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.tokens = t
	if p != nil {
		m.profile = p
	}
	m.errMsg = ""
	m.applyTokensLocked()
	m.mu.Unlock()
	return nil
}

// applyTokensLocked pushes the credential to the API layer and reschedules the
// background refresh. Exactly one timer is outstanding at a time; an expiry
// already inside the lead window refreshes immediately instead.
func (m *Manager) applyTokensLocked() {
	m.cancelRefreshTimerLocked()
	if m.tokens == nil {
		if m.creds != nil {
			m.creds.Set("")
		}
		return
	}
	if m.creds != nil {
		m.creds.Set(m.tokens.AccessToken)
	}
	d := m.tokens.ExpiresAt.Sub(m.now()) - m.refreshLead
	if d <= 0 {
		go func() { _ = m.Refresh(context.Background(), true) }()
		return
	}
	m.refreshTimer = time.AfterFunc(d, func() {
		_ = m.Refresh(context.Background(), true)
	})
}

func (m *Manager) cancelRefreshTimerLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

func (m *Manager) resolveExpiry(expiresIn int, fallback time.Time) time.Time {
	if expiresIn > 0 {
		return m.now().Add(time.Duration(expiresIn) * time.Second)
	}
	if !fallback.IsZero() {
		return fallback
	}
	return m.now().Add(m.defaultLifetime)
}

func (m *Manager) failSignIn(err error) error {
	slog.Warn("sign-in failed", slog.Any("err", err))
	m.mu.Lock()
	m.errMsg = err.Error()
	m.mu.Unlock()
	return err
}

func (m *Manager) failRefresh(ctx context.Context, err error, silent bool) error {
	slog.Warn("token refresh failed", slog.Any("err", err), slog.Bool("silent", silent))
	if telemetry.AuthRefreshesFailed != nil {
		telemetry.AuthRefreshesFailed.Inc()
	}
	m.mu.Lock()
	m.errMsg = err.Error()
	m.mu.Unlock()
	_ = m.SignOut(ctx, true)
	return err
}

func (m *Manager) retireAttempt(attemptID string) {
	m.mu.Lock()
	if m.attemptID == attemptID {
		m.attemptID = ""
		m.attemptState = ""
	}
	m.mu.Unlock()
}

// refreshScheduled reports whether a background refresh timer is outstanding.
func (m *Manager) refreshScheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshTimer != nil
}
