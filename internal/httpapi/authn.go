package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"lingkod.org/internal/auth"
	"lingkod.org/internal/portal"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/session",
	"/v1/certificate-types",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/openapi.yaml",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.directory == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.resolveToken(r, token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "unknown identity")
			case errors.Is(err, auth.ErrPendingApproval):
				writeError(w, r, http.StatusForbidden, "account pending approval")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveToken validates the bearer token and resolves its principal. A
// resident whose profile is still pending approval is rejected even with a
// valid token; approval can be revoked between requests.
func (a *API) resolveToken(r *http.Request, token string) (portal.Principal, error) {
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		return portal.Principal{}, err
	}
	principal, err := a.directory.Resolve(r.Context(), claims.Subject)
	if err != nil {
		return portal.Principal{}, err
	}
	if principal.Role != claims.Role {
		return portal.Principal{}, auth.ErrInvalidToken
	}
	if principal.Role == portal.RoleResident &&
		(principal.Resident == nil || principal.Resident.Status != portal.ResidentStatusActive) {
		return portal.Principal{}, auth.ErrPendingApproval
	}
	return principal, nil
}

// requireOfficial rejects the request unless an official is authenticated.
// Role checks live server-side; the client renders what it is told but the
// API is the gatekeeper.
func requireOfficial(w http.ResponseWriter, r *http.Request) (portal.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return portal.Principal{}, false
	}
	if principal.Role != portal.RoleOfficial {
		writeError(w, r, http.StatusForbidden, "officials only")
		return portal.Principal{}, false
	}
	return principal, true
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (portal.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return portal.Principal{}, false
	}
	return principal, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
