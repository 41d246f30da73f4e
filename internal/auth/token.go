package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates what a credential may be used for. A token is only
// accepted where its declared type matches the consuming operation.
type TokenType string

const (
	TokenAccess            TokenType = "access"
	TokenRefresh           TokenType = "refresh"
	TokenEmailVerification TokenType = "email_verification"
	TokenPasswordReset     TokenType = "password_reset"
)

const (
	defaultIssuer       = "civicdesk"
	defaultAccessTTL    = 24 * time.Hour
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultSingleUseTTL = 24 * time.Hour
)

// Claims is the payload of every civicdesk credential. Role is present on
// access tokens only: authorization must never be derived from a refresh or
// single-use token.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies signed, self-contained credentials. It holds no
// per-token state; verification needs only the shared secret and the clock.
type Tokens struct {
	secret       []byte
	issuer       string
	now          func() time.Time
	accessTTL    time.Duration
	refreshTTL   time.Duration
	singleUseTTL time.Duration
}

// TokensOption configures a Tokens service.
type TokensOption func(*Tokens)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokensOption {
	return func(t *Tokens) {
		if iss := strings.TrimSpace(issuer); iss != "" {
			t.issuer = iss
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokensOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
	}
}

// WithSingleUseTTL configures email-verification and password-reset token lifetime.
func WithSingleUseTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.singleUseTTL = ttl
		}
	}
}

// NewTokens constructs the token service with the shared signing secret.
func NewTokens(secret string, opts ...TokensOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	t := &Tokens{
		secret:       []byte(secret),
		issuer:       defaultIssuer,
		now:          time.Now,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		singleUseTTL: defaultSingleUseTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// IssueAccess signs an access token carrying id, email and role.
func (t *Tokens) IssueAccess(p *Principal) (string, time.Time, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	if !p.Role.Valid() {
		return "", time.Time{}, ErrInvalidInput
	}
	return t.sign(Claims{
		Email:     p.Email,
		Role:      string(p.Role),
		TokenType: string(TokenAccess),
	}, p.ID, t.accessTTL)
}

// IssueRefresh signs a refresh token. It deliberately omits the role: a
// refreshed access token gets the role stored for the principal at refresh
// time, not the role held when the refresh token was minted.
func (t *Tokens) IssueRefresh(p *Principal) (string, time.Time, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	return t.sign(Claims{
		Email:     p.Email,
		TokenType: string(TokenRefresh),
	}, p.ID, t.refreshTTL)
}

// IssueSingleUse signs a short-lived token for email verification or
// password reset. Recording its redemption so it cannot be consumed twice is
// the caller's responsibility.
func (t *Tokens) IssueSingleUse(purpose TokenType, subjectEmail string) (string, time.Time, error) {
	if purpose != TokenEmailVerification && purpose != TokenPasswordReset {
		return "", time.Time{}, ErrInvalidInput
	}
	subjectEmail = NormalizeEmail(subjectEmail)
	if subjectEmail == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	return t.sign(Claims{
		Email:     subjectEmail,
		TokenType: string(purpose),
	}, subjectEmail, t.singleUseTTL)
}

func (t *Tokens) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates signature and expiry and requires the declared token type
// to match want. Failures are distinguishable: ErrTokenExpired for a valid
// but stale token, ErrWrongTokenType for a type mismatch, ErrTokenMalformed
// for everything forged or undecodable.
func (t *Tokens) Verify(token string, want TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenMalformed
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }), jwt.WithIssuer(t.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Email == "" {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != string(want) {
		return nil, ErrWrongTokenType
	}
	if want == TokenAccess {
		if _, ok := ParseRole(claims.Role); !ok {
			return nil, ErrTokenMalformed
		}
	}
	return claims, nil
}

// NormalizeEmail lower-cases and trims an address; emails compare
// case-insensitively everywhere (ownership checks included).
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
