package kickapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// ChannelHit is a single channel row from the search endpoint.
type ChannelHit struct {
	Username       string `json:"username"`
	FollowersCount int    `json:"followers_count"`
	IsLive         bool   `json:"is_live"`
	Verified       bool   `json:"verified"`
}

// SearchChannels queries the Typesense-backed search endpoint. A blank query
// returns no hits without a network call.
func (c *Client) SearchChannels(ctx context.Context, query string) ([]ChannelHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if c.SearchKey == "" {
		return nil, fmt.Errorf("search key not configured")
	}
	searchURL := c.SearchURL
	if searchURL == "" {
		searchURL = "https://search.kick.com/multi_search"
	}
	body, err := json.Marshal(map[string]interface{}{
		"searches": []map[string]string{
			{"preset": "category_search", "q": query},
			{"preset": "channel_search", "q": query},
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set("X-Typesense-Api-Key", c.SearchKey)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}
	var out struct {
		Results []struct {
			Hits []struct {
				Document ChannelHit `json:"document"`
			} `json:"hits"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	// Results index 0 carries category hits, index 1 the channel hits.
	if len(out.Results) < 2 {
		return nil, nil
	}
	hits := make([]ChannelHit, 0, len(out.Results[1].Hits))
	for _, h := range out.Results[1].Hits {
		hits = append(hits, h.Document)
	}
	return hits, nil
}

// Searcher serializes overlapping channel searches so that only the most
// recently issued query delivers results. Stale responses, including slow ones
// that arrive out of order, are dropped.
type Searcher struct {
	Client *Client

	mu  sync.Mutex
	seq uint64
}

// Search issues the query in the background and calls deliver with the result
// unless a newer Search superseded this one before the response arrived.
func (s *Searcher) Search(ctx context.Context, query string, deliver func([]ChannelHit, error)) {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.mu.Unlock()

	go func() {
		hits, err := s.Client.SearchChannels(ctx, query)
		s.mu.Lock()
		latest := s.seq == id
		s.mu.Unlock()
		if !latest {
			return
		}
		deliver(hits, err)
	}()
}
