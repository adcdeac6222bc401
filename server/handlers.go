package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kicklite/kicklite/auth"
	"github.com/kicklite/kicklite/chat"
	"github.com/kicklite/kicklite/kickapi"
	"github.com/kicklite/kicklite/userdata"
)

// Deps are the subsystems the HTTP layer fronts.
type Deps struct {
	DB    *sql.DB
	Auth  *auth.Manager
	Kick  *kickapi.Client
	Hub   *chat.Hub
	Users *userdata.Store
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db        *sql.DB
	auth      *auth.Manager
	kick      *kickapi.Client
	hub       *chat.Hub
	users     *userdata.Store
	startedAt time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		db:        deps.DB,
		auth:      deps.Auth,
		kick:      deps.Kick,
		hub:       deps.Hub,
		users:     deps.Users,
		startedAt: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// requireAuth rejects the request with 401 unless a session is active.
func (h *Handlers) requireAuth(w http.ResponseWriter) bool {
	if h.auth == nil || !h.auth.Status().Authenticated {
		writeError(w, http.StatusUnauthorized, "sign-in required")
		return false
	}
	return true
}
