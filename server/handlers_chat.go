package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kicklite/kicklite/chat"
	"github.com/kicklite/kicklite/emotes"
)

// chatEvent is the wire shape of one SSE chat event.
type chatEvent struct {
	ID     string       `json:"id"`
	Sender string       `json:"sender"`
	Color  string       `json:"color,omitempty"`
	Tokens []chat.Token `json:"tokens"`
}

// HandleChat dispatches /chat/{slug}/stream and /chat/{slug}/messages.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "unknown chat path")
		return
	}
	slug := parts[0]
	switch parts[1] {
	case "stream":
		h.handleChatStream(w, r, slug)
	case "messages":
		h.handleChatMessages(w, r, slug)
	default:
		writeError(w, http.StatusNotFound, "unknown chat path")
	}
}

// handleChatStream streams a channel's chat over server-sent events. The
// subscription holds the room open for the lifetime of the request.
func (h *Handlers) handleChatStream(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer sub.Close()

	catalog := sub.Catalog
	if h.users != nil {
		if prefs, perr := h.users.ChatPrefs(r.Context()); perr == nil && !prefs.EnableEmotes {
			catalog = emotes.Catalog{}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(m chat.Message) bool {
		ev := chatEvent{
			ID:     m.ID,
			Sender: m.Sender,
			Color:  m.Color,
			Tokens: chat.Tokenize(m.Text, catalog),
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("chat event encode failed", slog.Any("err", err))
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, m := range sub.History {
		if !send(m) {
			return
		}
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-sub.Messages:
			if !ok {
				return
			}
			if !send(m) {
				return
			}
		}
	}
}

// handleChatMessages returns a one-shot snapshot of an open room's backlog.
func (h *Handlers) handleChatMessages(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	msgs, _, state, notice, ok := h.hub.Snapshot(slug)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"active":   false,
			"messages": []chat.Message{},
		})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   true,
		"state":    state.String(),
		"notice":   notice,
		"messages": msgs,
	})
}
