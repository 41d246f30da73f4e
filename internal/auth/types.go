package auth

import "time"

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Principal represents an account holder: a citizen, an administrator or a
// superadministrator. Principals are never physically deleted while
// complaints reference them; deactivation is a status change.
type Principal struct {
	ID            string
	Email         string
	Role          Role
	Status        string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p != nil && p.Status == StatusActive
}

// ValidStatus reports whether s is a recognized account status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}
