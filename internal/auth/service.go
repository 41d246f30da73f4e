package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicdesk.org/internal/ids"
)

// Service provides account lifecycle operations on top of the stateless
// token service and the principal store.
type Service struct {
	store  Store
	tokens *Tokens
	now    func() time.Time
}

// NewService constructs the auth service.
func NewService(store Store, tokens *Tokens) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	return &Service{store: store, tokens: tokens, now: tokens.now}, nil
}

// Tokens exposes the underlying token service.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// TokenPair is an access/refresh credential pair with expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Signup registers a new principal with the base role and returns an
// email-verification token for out-of-band delivery.
func (s *Service) Signup(ctx context.Context, email, password string) (*Principal, string, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	p := &Principal{
		ID:           ids.New(),
		Email:        email,
		Role:         RoleUser,
		Status:       StatusActive,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		return nil, "", err
	}
	verifyToken, _, err := s.tokens.IssueSingleUse(TokenEmailVerification, email)
	if err != nil {
		return nil, "", err
	}
	return p, verifyToken, nil
}

// Login authenticates credentials and mints a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *Principal, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	p, err := s.store.FindPrincipalByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	if !p.Active() {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	pair, err := s.mintPair(p)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, p, nil
}

// Refresh exchanges a refresh token for a new pair. The principal is
// reloaded from the store so the new access token carries the current role
// and a deactivated account cannot keep refreshing.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Principal, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, nil, err
	}
	p, err := s.store.FindPrincipal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUnauthenticated
		}
		return TokenPair{}, nil, err
	}
	if !p.Active() {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	pair, err := s.mintPair(p)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, p, nil
}

func (s *Service) mintPair(p *Principal) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Authenticate verifies an access token and returns the caller identity.
// Tokens are self-contained, so no store lookup happens here.
func (s *Service) Authenticate(token string) (Identity, error) {
	claims, err := s.tokens.Verify(token, TokenAccess)
	if err != nil {
		return Identity{}, err
	}
	role, _ := ParseRole(claims.Role)
	return Identity{ID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// VerifyEmail consumes an email-verification token and marks the principal
// verified. The jti is recorded so the token cannot be redeemed twice.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token, TokenEmailVerification)
	if err != nil {
		return err
	}
	p, err := s.store.FindPrincipalByEmail(ctx, claims.Email)
	if err != nil {
		return err
	}
	if err := s.store.ConsumeSingleUse(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrTokenExpired
		}
		return err
	}
	return s.store.MarkEmailVerified(ctx, p.ID)
}

// RequestPasswordReset issues a password-reset token for the account. The
// token and expiry are returned for delivery; a missing account still yields
// ErrNotFound so the caller can decide how much to disclose.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, time.Time, error) {
	email = NormalizeEmail(email)
	if _, err := s.store.FindPrincipalByEmail(ctx, email); err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.IssueSingleUse(TokenPasswordReset, email)
}

// ResetPassword consumes a password-reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.Verify(token, TokenPasswordReset)
	if err != nil {
		return err
	}
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	p, err := s.store.FindPrincipalByEmail(ctx, claims.Email)
	if err != nil {
		return err
	}
	if err := s.store.ConsumeSingleUse(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrTokenExpired
		}
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, p.ID, hash)
}

// SetRole changes a principal's role. Only a superadmin may call it, and
// elevation to an admin role additionally requires the target email to be on
// the admin whitelist.
func (s *Service) SetRole(ctx context.Context, actor Identity, email string, role Role) (*Principal, error) {
	if actor.Role != RoleSuperadmin {
		return nil, ErrForbidden
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	email = NormalizeEmail(email)
	p, err := s.store.FindPrincipalByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if role.Elevated() {
		ok, err := s.store.Whitelisted(ctx, email)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotWhitelisted
		}
	}
	if err := s.store.UpdateRole(ctx, p.ID, role); err != nil {
		return nil, err
	}
	p.Role = role
	p.UpdatedAt = s.now().UTC()
	return p, nil
}

// SetStatus changes a principal's account status. Superadmin only.
func (s *Service) SetStatus(ctx context.Context, actor Identity, email, status string) (*Principal, error) {
	if actor.Role != RoleSuperadmin {
		return nil, ErrForbidden
	}
	status = strings.TrimSpace(strings.ToLower(status))
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	email = NormalizeEmail(email)
	p, err := s.store.FindPrincipalByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePrincipalStatus(ctx, p.ID, status); err != nil {
		return nil, err
	}
	p.Status = status
	p.UpdatedAt = s.now().UTC()
	return p, nil
}
