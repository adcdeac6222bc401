package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// TokenResponse is the proxy's answer to a code exchange or refresh. Expiry
// arrives as a relative lifetime; Profile is optional.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    int     `json:"expires_in"`
	Profile      Profile `json:"profile"`
}

// ProxyClient talks to the backend that performs the actual OAuth exchanges so
// the client secret stays server-side.
type ProxyClient struct {
	// BaseURL without trailing slash, e.g. https://auth.example.com/kick.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *ProxyClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ProxyClient) post(ctx context.Context, path string, body interface{}) (*TokenResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	var payload struct {
		TokenResponse
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode proxy response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload.Error
		if msg == "" {
			msg = fmt.Sprintf("proxy returned status %d", resp.StatusCode)
		}
		return nil, &AuthError{Reason: msg}
	}
	return &payload.TokenResponse, nil
}

// ExchangeCode trades an authorization code for a token pair. Both the access
// and refresh tokens are required in the response.
func (c *ProxyClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	resp, err := c.post(ctx, "/token", map[string]string{
		"code":        code,
		"redirectUri": redirectURI,
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, &AuthError{Reason: "token exchange returned an invalid response"}
	}
	return resp, nil
}

// Refresh trades a refresh token for a new pair. A missing refresh token in
// the response means the old one stays valid.
func (c *ProxyClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.post(ctx, "/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &AuthError{Reason: "refresh did not return an access token"}
	}
	return resp, nil
}
