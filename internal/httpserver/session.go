package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"inventoryhub/dashboard/internal/auth"
)

type sessionView struct {
	Status          string     `json:"status"`
	User            *auth.User `json:"user,omitempty"`
	IsAdmin         bool       `json:"is_admin"`
	IsStaff         bool       `json:"is_staff"`
	AccessExpiresAt string     `json:"access_expires_at,omitempty"`
}

func (h *Handler) view(r *http.Request) sessionView {
	s := h.deps.Session.Session()
	v := sessionView{
		Status:  s.Status().String(),
		User:    s.User,
		IsAdmin: s.IsAdmin(),
		IsStaff: s.IsStaff(),
	}
	if s.Authenticated() && h.deps.Tokens != nil {
		if tok, err := h.deps.Tokens.AccessToken(r.Context()); err == nil {
			if exp, ok := auth.TokenExpiry(tok); ok {
				v.AccessExpiresAt = exp.UTC().Format(time.RFC3339)
			}
		}
	}
	return v
}

func (h *Handler) registerSessionHandlers() {
	h.mux.HandleFunc("/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.sessionAvailable(w) {
			return
		}
		writeJSON(w, http.StatusOK, h.view(r))
	})

	h.mux.HandleFunc("/v1/session/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.sessionAvailable(w) {
			return
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}
		if err := h.deps.Session.Login(r.Context(), req.Username, req.Password); err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.view(r))
	})

	h.mux.HandleFunc("/v1/session/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.sessionAvailable(w) {
			return
		}
		var req struct {
			Username string    `json:"username"`
			Email    string    `json:"email"`
			Password string    `json:"password"`
			Role     auth.Role `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username, email and password are required")
			return
		}
		if err := h.deps.Session.Register(r.Context(), req.Username, req.Email, req.Password, req.Role); err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.view(r))
	})

	h.mux.HandleFunc("/v1/session/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.sessionAvailable(w) {
			return
		}
		h.deps.Session.Logout(r.Context())
		writeJSON(w, http.StatusOK, h.view(r))
	})

	h.mux.HandleFunc("/v1/location", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if h.deps.Location == nil {
			writeError(w, http.StatusServiceUnavailable, "navigation unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": h.deps.Location.Current()})
	})
}

func (h *Handler) sessionAvailable(w http.ResponseWriter) bool {
	if h.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return false
	}
	return true
}

// requireRole gates a mutation on the dashboard's own session. An empty
// role admits any signed-in user.
func (h *Handler) requireRole(w http.ResponseWriter, role auth.Role) (auth.User, bool) {
	if !h.sessionAvailable(w) {
		return auth.User{}, false
	}
	s := h.deps.Session.Session()
	switch {
	case s.Loading:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "session is loading")
		return auth.User{}, false
	case s.User == nil:
		writeError(w, http.StatusUnauthorized, "not logged in")
		return auth.User{}, false
	case !s.User.Role.Satisfies(role):
		writeError(w, http.StatusForbidden, "forbidden")
		return auth.User{}, false
	}
	return *s.User, true
}
