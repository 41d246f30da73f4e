package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	FindPrincipal(ctx context.Context, id string) (*Principal, error)
	FindPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	UpdatePrincipalStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error

	// Whitelisted reports whether the email is pre-authorized to hold an
	// elevated role. Consulted only on role elevation, never on the request
	// hot path.
	Whitelisted(ctx context.Context, email string) (bool, error)

	// ConsumeSingleUse records redemption of a single-use token by its jti.
	// A second redemption of the same jti returns ErrAlreadyExists. The
	// expiry bounds how long the record must be retained.
	ConsumeSingleUse(ctx context.Context, jti string, expiresAt time.Time) error
}
