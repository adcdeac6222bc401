// Package emotes fetches and merges 7TV emote sets into a name -> image URL
// catalog used for chat rendering. Loading emotes is a non-critical
// enhancement: callers degrade to plain text when a reload fails.
package emotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kicklite/kicklite/telemetry"
)

const (
	preferredFormat   = "WEBP"
	preferredFileName = "2x.webp"
)

// Catalog maps emote name (case-sensitive) to an absolute image URL. It is
// rebuilt wholesale on every reload; treat instances as immutable snapshots.
type Catalog map[string]string

type hostFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

type host struct {
	URL   string     `json:"url"`
	Files []hostFile `json:"files"`
}

type emote struct {
	Name string `json:"name"`
	Data *struct {
		Host host `json:"host"`
	} `json:"data"`
}

type emoteSet struct {
	Emotes []emote `json:"emotes"`
}

type userResponse struct {
	EmoteSet *emoteSet `json:"emote_set"`
}

// Client fetches emote sets from the 7TV API.
type Client struct {
	// BaseURL is the API root, e.g. https://7tv.io/v3.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Reload fetches the global emote set and the channel set for slug
// concurrently and flattens them into one catalog. A global fetch failure
// fails the reload; a channel fetch failure degrades to the global set only.
// Channel entries override global entries on name collision.
func (c *Client) Reload(ctx context.Context, channelSlug string) (Catalog, error) {
	if telemetry.EmoteReloads != nil {
		telemetry.EmoteReloads.Inc()
	}
	start := time.Now()
	defer func() {
		if telemetry.EmoteReloadDuration != nil {
			telemetry.EmoteReloadDuration.Observe(time.Since(start).Seconds())
		}
	}()

	type channelResult struct {
		set *emoteSet
		err error
	}
	channelCh := make(chan channelResult, 1)
	go func() {
		set, err := c.fetchChannelSet(ctx, channelSlug)
		channelCh <- channelResult{set: set, err: err}
	}()

	globalSet, err := c.fetchGlobalSet(ctx)
	channel := <-channelCh
	if err != nil {
		if telemetry.EmoteReloadFailures != nil {
			telemetry.EmoteReloadFailures.Inc()
		}
		return nil, fmt.Errorf("fetch global emote set: %w", err)
	}
	if channel.err != nil {
		// Channel emotes are optional decoration.
		slog.Debug("channel emote set unavailable", slog.String("channel", channelSlug), slog.Any("err", channel.err))
	}

	catalog := make(Catalog)
	addSet(catalog, globalSet)
	addSet(catalog, channel.set)
	if telemetry.EmoteCatalogSize != nil {
		telemetry.EmoteCatalogSize.Set(float64(len(catalog)))
	}
	return catalog, nil
}

func (c *Client) fetchGlobalSet(ctx context.Context) (*emoteSet, error) {
	var set emoteSet
	if err := c.getJSON(ctx, c.BaseURL+"/emote-sets/global", &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) fetchChannelSet(ctx context.Context, slug string) (*emoteSet, error) {
	if slug == "" {
		return nil, fmt.Errorf("channel slug empty")
	}
	var res userResponse
	if err := c.getJSON(ctx, c.BaseURL+"/users/kick/"+slug, &res); err != nil {
		return nil, err
	}
	if res.EmoteSet == nil {
		return &emoteSet{}, nil
	}
	return res.EmoteSet, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
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
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emote fetch failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addSet(catalog Catalog, set *emoteSet) {
	if set == nil {
		return
	}
	for _, e := range set.Emotes {
		if e.Name == "" || e.Data == nil {
			continue
		}
		if url := buildImageURL(e.Data.Host); url != "" {
			catalog[e.Name] = url
		}
	}
}

// buildImageURL resolves the renderable file for an emote host. It prefers the
// 2x WEBP rendition, falls back to any WEBP file, and returns "" when no
// supported file exists (the emote is then omitted from the catalog).
func buildImageURL(h host) string {
	if h.URL == "" {
		return ""
	}
	base := h.URL
	if !strings.HasPrefix(base, "http") {
		base = "https:" + base
	}
	var fallback string
	for _, f := range h.Files {
		if f.Format != preferredFormat {
			continue
		}
		if f.Name == preferredFileName {
			return base + "/" + f.Name
		}
		if fallback == "" {
			fallback = f.Name
		}
	}
	if fallback == "" {
		return ""
	}
	return base + "/" + fallback
}
