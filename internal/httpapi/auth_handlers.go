package httpapi

import (
	"errors"
	"net/http"
	"time"

	"civicdesk.org/internal/audit"
	"civicdesk.org/internal/auth"
)

type principalView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
}

func viewPrincipal(p *auth.Principal) principalView {
	return principalView{
		ID:            p.ID,
		Email:         p.Email,
		Role:          string(p.Role),
		Status:        p.Status,
		EmailVerified: p.EmailVerified,
	}
}

type tokenPairView struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func viewTokenPair(pair auth.TokenPair) tokenPairView {
	return tokenPairView{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, verifyToken, err := a.auth.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.signup", map[string]any{"principal_id": p.ID})
	// Verification tokens normally go out by email; the response carries one
	// so clients without a mailbox sink can still complete the flow.
	writeJSON(w, http.StatusCreated, map[string]any{
		"principal":          viewPrincipal(p),
		"verification_token": verifyToken,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, p, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.login", map[string]any{"principal_id": p.ID})
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": viewPrincipal(p),
		"tokens":    viewTokenPair(pair),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, p, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": viewPrincipal(p),
		"tokens":    viewTokenPair(pair),
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, err := a.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		// A missing account gets the same answer as a found one so the
		// endpoint cannot be used to probe for registered emails.
		if errors.Is(err, auth.ErrNotFound) {
			writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
			return
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.password_reset.requested", map[string]any{"email": auth.NormalizeEmail(req.Email)})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"reset_token": token,
		"expires_at":  expiresAt,
	})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.password_reset.completed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := auth.IdentityFromContext(r.Context())
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	p, err := a.auth.SetRole(r.Context(), actor, req.Email, role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.role.changed", map[string]any{
		"principal_id": p.ID,
		"role":         string(role),
	})
	writeJSON(w, http.StatusOK, map[string]any{"principal": viewPrincipal(p)})
}

func (a *API) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := auth.IdentityFromContext(r.Context())
	p, err := a.auth.SetStatus(r.Context(), actor, req.Email, req.Status)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "principal.status.changed", map[string]any{
		"principal_id": p.ID,
		"status":       p.Status,
	})
	writeJSON(w, http.StatusOK, map[string]any{"principal": viewPrincipal(p)})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	case errors.Is(err, auth.ErrNotWhitelisted):
		writeError(w, r, http.StatusForbidden, "email is not whitelisted for elevated roles")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired or already used")
	case errors.Is(err, auth.ErrWrongTokenType), errors.Is(err, auth.ErrTokenMalformed):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
