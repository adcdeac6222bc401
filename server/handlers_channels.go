package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kicklite/kicklite/kickapi"
	"github.com/kicklite/kicklite/userdata"
)

// HandleChannels lists one page of the livestream directory.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page := parseIntQuery(r, "page", 1)
	limit := parseIntQuery(r, "limit", 24)
	streams, err := h.kick.GetLivestreams(r.Context(), page, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

// HandleChannelBySlug serves /channels/{slug}.
func (h *Handlers) HandleChannelBySlug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/channels/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, "unknown channel path")
		return
	}
	ch, err := h.kick.GetChannel(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// HandleSearch serves /search?q= against the channel search endpoint.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hits, err := h.kick.SearchChannels(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if hits == nil {
		hits = []kickapi.ChannelHit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

// HandleFollows manages the followed channel list. Requires a session.
func (h *Handlers) HandleFollows(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := h.users.Follows(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"follows": list})
	case http.MethodPost:
		var body struct {
			Slug string `json:"slug"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Slug == "" {
			writeError(w, http.StatusBadRequest, "body must be {\"slug\": ...}")
			return
		}
		if err := h.users.Follow(r.Context(), body.Slug); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"followed": body.Slug})
	case http.MethodDelete:
		slug := r.URL.Query().Get("slug")
		if slug == "" {
			writeError(w, http.StatusBadRequest, "slug query parameter required")
			return
		}
		if err := h.users.Unfollow(r.Context(), slug); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"unfollowed": slug})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleChatPrefs reads and writes chat display preferences.
func (h *Handlers) HandleChatPrefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		prefs, err := h.users.ChatPrefs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	case http.MethodPut:
		var prefs userdata.ChatPrefs
		if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid preferences body")
			return
		}
		if err := h.users.SaveChatPrefs(r.Context(), prefs); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
