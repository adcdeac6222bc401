package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockServer is a path-keyed test server used to mock the Kick API, the token
// proxy, and the 7TV emote API.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockServer) respondJSON(path string, status int, body interface{}) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockChannelResponse adds a handler for the channel lookup endpoint.
func (m *MockServer) MockChannelResponse(slug string, id int64, live bool) {
	body := map[string]interface{}{
		"id":   id,
		"slug": slug,
		"user": map[string]interface{}{"id": id, "username": slug},
	}
	if live {
		body["livestream"] = map[string]interface{}{
			"id": id, "session_title": "live", "is_live": true, "viewer_count": 1,
		}
	}
	m.respondJSON("/api/v2/channels/"+slug, http.StatusOK, body)
}

// MockTokenResponse adds a handler for the proxy's code exchange endpoint.
func (m *MockServer) MockTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.respondJSON("/token", http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
	})
}

// MockRefreshResponse adds a handler for the proxy's refresh endpoint.
func (m *MockServer) MockRefreshResponse(accessToken, refreshToken string, expiresIn int) {
	m.respondJSON("/refresh", http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
	})
}

// MockProxyError makes a proxy endpoint fail with the given message.
func (m *MockServer) MockProxyError(path string, status int, message string) {
	m.respondJSON(path, status, map[string]string{"error": message})
}

// MockEmoteSet adds handlers for the 7TV global and channel set endpoints.
// Each name maps to a host URL serving a 2x.webp file.
func (m *MockServer) MockEmoteSet(path string, names map[string]string, wrapped bool) {
	emotes := make([]map[string]interface{}, 0, len(names))
	for name, hostURL := range names {
		emotes = append(emotes, map[string]interface{}{
			"name": name,
			"data": map[string]interface{}{
				"host": map[string]interface{}{
					"url": hostURL,
					"files": []map[string]string{
						{"name": "2x.webp", "format": "WEBP"},
					},
				},
			},
		})
	}
	set := map[string]interface{}{"emotes": emotes}
	if wrapped {
		m.respondJSON(path, http.StatusOK, map[string]interface{}{"emote_set": set})
	} else {
		m.respondJSON(path, http.StatusOK, set)
	}
}
