package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civicdesk.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

func (s *Store) CreatePrincipal(ctx context.Context, p *auth.Principal) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principals(id, email, role, status, email_verified, password_hash, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, p.Email, string(p.Role), p.Status, p.EmailVerified, p.PasswordHash, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrAlreadyExists
	}
	return err
}

const principalColumns = `id, email, role, status, email_verified, password_hash, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (*auth.Principal, error) {
	var p auth.Principal
	var role string
	if err := row.Scan(&p.ID, &p.Email, &role, &p.Status, &p.EmailVerified,
		&p.PasswordHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = auth.Role(role)
	return &p, nil
}

func (s *Store) FindPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where id=$1`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	row := s.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where email=$1`, email)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, role auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set role=$2, updated_at=now() where id=$1
	`, id, string(role))
	if err != nil {
		return err
	}
	return mapAffected(res, auth.ErrNotFound)
}

func (s *Store) UpdatePrincipalStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set status=$2, updated_at=now() where id=$1
	`, id, status)
	if err != nil {
		return err
	}
	return mapAffected(res, auth.ErrNotFound)
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set password_hash=$2, updated_at=now() where id=$1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	return mapAffected(res, auth.ErrNotFound)
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set email_verified=true, updated_at=now() where id=$1
	`, id)
	if err != nil {
		return err
	}
	return mapAffected(res, auth.ErrNotFound)
}

func (s *Store) Whitelisted(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from admin_whitelist where email=$1)
	`, email).Scan(&exists)
	return exists, err
}

// ConsumeSingleUse records a single-use token redemption. The conflict
// target makes the second redemption of the same jti a no-op insert, which
// surfaces as ErrAlreadyExists.
func (s *Store) ConsumeSingleUse(ctx context.Context, jti string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		insert into consumed_tokens(jti, expires_at, consumed_at)
		values ($1,$2,now())
		on conflict (jti) do nothing
	`, jti, expiresAt)
	if err != nil {
		return err
	}
	return mapAffected(res, auth.ErrAlreadyExists)
}
