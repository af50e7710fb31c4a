package httpapi

import (
	"net/http"

	"lingkod.org/internal/audit"
	"lingkod.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication disabled")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	result, err := a.authc.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !result.OK {
		_ = audit.LogEvent(ctx, "auth.login_rejected", map[string]any{
			"email":  req.Email,
			"reason": result.Message,
		})
		writeJSON(w, http.StatusUnauthorized, result)
		return
	}

	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"identity": result.Session.Identity,
		"role":     result.Session.Role,
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication disabled")
		return
	}

	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	result, err := a.authc.Register(ctx, req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !result.OK {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}

	_ = audit.LogEvent(ctx, "auth.registered", map[string]any{"email": req.Email})
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication disabled")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	if err := a.authc.Logout(ctx); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"identity": principal.Identity})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSession reports who the presented token belongs to. It is public so
// an unauthenticated caller gets a plain signed-out answer instead of 401.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	loading := false
	if a.sessions != nil {
		loading = a.sessions.Snapshot().Loading
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil || a.directory == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"signed_in": false,
			"loading":   loading,
		})
		return
	}

	principal, err := a.resolveToken(r, token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"signed_in": false,
			"loading":   loading,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signed_in": true,
		"loading":   loading,
		"principal": principal,
	})
}
