// Package kickapi contains minimal helpers to interact with Kick REST APIs
// for channel metadata, the livestream directory, and channel search. Calls
// attach a bearer token when one is available from the credential provider.
package kickapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Channel is a Kick channel with its owning user and, when live, the current
// livestream. The numeric ID doubles as the chat room identifier.
type Channel struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	Slug        string      `json:"slug"`
	PlaybackURL string      `json:"playback_url"`
	Livestream  *Livestream `json:"livestream"`
	User        User        `json:"user"`
}

type Livestream struct {
	ID           int64  `json:"id"`
	Slug         string `json:"slug"`
	SessionTitle string `json:"session_title"`
	IsLive       bool   `json:"is_live"`
	ViewerCount  int    `json:"viewer_count"`
	Thumbnail    struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
}

type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

// LivestreamsPage is one page of the livestream directory.
type LivestreamsPage struct {
	Data []Channel `json:"data"`
}

// Client talks to the Kick REST API.
type Client struct {
	// BaseURL defaults to https://kick.com.
	BaseURL string
	// SearchURL and SearchKey configure the Typesense-backed channel search.
	SearchURL  string
	SearchKey  string
	HTTPClient *http.Client
	// Creds supplies the bearer token for authenticated calls; nil or an
	// empty token means anonymous requests.
	Creds CredentialProvider
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://kick.com"
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.Creds != nil {
		if tok := c.Creds.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("kick api %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetChannel fetches channel metadata by slug, including the live stream and
// the numeric id used to join the chat room.
func (c *Client) GetChannel(ctx context.Context, slug string) (*Channel, error) {
	if slug == "" {
		return nil, fmt.Errorf("slug empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/api/v2/channels/"+slug, nil)
	if err != nil {
		return nil, err
	}
	var ch Channel
	if err := c.do(req, &ch); err != nil {
		return nil, err
	}
	if ch.ID == 0 {
		return nil, fmt.Errorf("channel not found")
	}
	return &ch, nil
}

// GetLivestreams fetches one page of the livestream directory sorted by
// viewer count.
func (c *Client) GetLivestreams(ctx context.Context, page, limit int) (*LivestreamsPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 24
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/stream/livestreams/tr", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("sort", "desc")
	req.URL.RawQuery = q.Encode()
	var out LivestreamsPage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
