package server

import (
	"errors"
	"net/http"

	"github.com/kicklite/kicklite/auth"
)

// attemptCookie carries the sign-in attempt id between /auth/start and
// /auth/callback so a redirect can be matched to the attempt that began it.
const attemptCookie = "kicklite_auth_attempt"

// HandleAuthStart begins an authorization attempt and redirects the browser
// to the Kick authorize URL.
func (h *Handlers) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attempt, err := h.auth.BeginSignIn(r.Context())
	if err != nil {
		var cfgErr *auth.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     attemptCookie,
		Value:    attempt.ID,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, attempt.AuthorizeURL, http.StatusFound)
}

// HandleAuthCallback consumes the provider redirect. The attempt id comes from
// the cookie set by /auth/start; the query carries code/state/error.
func (h *Handlers) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attemptID := ""
	if c, err := r.Cookie(attemptCookie); err == nil {
		attemptID = c.Value
	}
	clearAttemptCookie(w)

	if err := h.auth.CompleteSignIn(r.Context(), attemptID, r.URL.Query()); err != nil {
		writeJSON(w, http.StatusUnauthorized, h.auth.Status())
		return
	}
	writeJSON(w, http.StatusOK, h.auth.Status())
}

// HandleAuthCancel abandons the in-flight sign-in attempt.
func (h *Handlers) HandleAuthCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c, err := r.Cookie(attemptCookie); err == nil {
		h.auth.CancelSignIn(c.Value)
	}
	clearAttemptCookie(w)
	writeJSON(w, http.StatusOK, h.auth.Status())
}

// HandleAuthSignOut clears the session.
func (h *Handlers) HandleAuthSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.auth.SignOut(r.Context(), false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.auth.Status())
}

// HandleAuthRefresh forces an interactive token refresh.
func (h *Handlers) HandleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.auth.Refresh(r.Context(), false); err != nil {
		if errors.Is(err, auth.ErrRefreshInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusUnauthorized, h.auth.Status())
		return
	}
	writeJSON(w, http.StatusOK, h.auth.Status())
}

// HandleAuthSession reports the session state the sign-in screen renders.
func (h *Handlers) HandleAuthSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.auth.Status())
}

func clearAttemptCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     attemptCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
