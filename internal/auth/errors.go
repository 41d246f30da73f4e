package auth

import "errors"

var (
	// Token verification failures. Callers react differently to an expired
	// token (refresh) than to a forged one (force re-login), so they are
	// distinct sentinels rather than one opaque error.
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrWrongTokenType = errors.New("auth: wrong token type")

	// ErrUnauthenticated covers missing or unverifiable credentials;
	// ErrForbidden covers a valid identity with insufficient privilege.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")

	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyExists  = errors.New("auth: already exists")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrNotWhitelisted = errors.New("auth: email not whitelisted for elevated role")
)
