package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"civicdesk.org/internal/auth"
)

const authHeader = "Authorization"

// extractToken pulls the credential from the Authorization header. Both the
// raw token and the `Bearer <token>` form are accepted.
func extractToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	fields := strings.Fields(header)
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[0], "bearer"):
		return fields[1], nil
	case len(fields) == 1 && !strings.EqualFold(fields[0], "bearer"):
		return fields[0], nil
	}
	return "", errors.New("malformed authorization header")
}

// requireAuth authenticates the bearer access token and attaches the caller
// identity to the request context, short-circuiting with 401 otherwise.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		id, err := a.auth.Authenticate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, authFailureMessage(err))
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
}

// optionalAuth attaches the identity when a valid access token is present
// and continues anonymously otherwise. Used by endpoints that behave
// differently for known callers but never require authentication.
func (a *API) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r.Header.Get(authHeader))
		if err == nil {
			if id, err := a.auth.Authenticate(token); err == nil {
				ctx := auth.ContextWithIdentity(r.Context(), id)
				ctx = auth.ContextWithToken(ctx, token)
				r = r.WithContext(ctx)
			}
		}
		next(w, r)
	}
}

// requireMinRole authenticates, then requires the caller's rank to meet the
// minimum. Authentication always runs first: a missing identity is a 401,
// an identity of insufficient rank a 403.
func (a *API) requireMinRole(min auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.Role.AtLeast(min) {
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	})
}

// requireRole is the allowed-set variant of the role gate.
func (a *API) requireRole(allowed []auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		for _, role := range allowed {
			if id.Role == role {
				next(w, r)
				return
			}
		}
		writeError(w, r, http.StatusForbidden, "insufficient role")
	})
}

// authorizeOwner decides whether the caller may act on a resource owned by
// ownerEmail. Elevated roles bypass ownership; anonymous resources have no
// owner to match, so only elevated callers reach them.
func authorizeOwner(ctx context.Context, ownerEmail string) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.ErrUnauthenticated
	}
	if id.Elevated() {
		return nil
	}
	if ownerEmail != "" && auth.NormalizeEmail(ownerEmail) == auth.NormalizeEmail(id.Email) {
		return nil
	}
	return auth.ErrForbidden
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, auth.ErrWrongTokenType):
		return "wrong token type"
	default:
		return "invalid token"
	}
}
