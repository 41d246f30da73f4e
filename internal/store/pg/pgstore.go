// Package pg implements the complaint and principal stores on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"civicdesk.org/internal/complaint"
)

const pgUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ complaint.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, c *complaint.Complaint) error {
	_, err := s.db.ExecContext(ctx, `
		insert into complaints(id, category, description, priority, status, owner_email, created_at, escalation_level)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,0)
	`, c.ID, c.Category, c.Description, string(c.Priority), string(c.Status), c.OwnerEmail, c.CreatedAt)
	return err
}

const complaintColumns = `id, category, description, priority, status, coalesce(owner_email,''), created_at, resolved_at, escalation_level, last_escalated_at`

func scanComplaint(row interface{ Scan(...any) error }) (*complaint.Complaint, error) {
	var c complaint.Complaint
	var priority, status string
	var resolvedAt, lastEscalatedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.Category, &c.Description, &priority, &status,
		&c.OwnerEmail, &c.CreatedAt, &resolvedAt, &c.EscalationLevel, &lastEscalatedAt); err != nil {
		return nil, err
	}
	c.Priority = complaint.Priority(priority)
	c.Status = complaint.Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if lastEscalatedAt.Valid {
		t := lastEscalatedAt.Time
		c.LastEscalatedAt = &t
	}
	return &c, nil
}

func (s *Store) Get(ctx context.Context, id string) (*complaint.Complaint, error) {
	row := s.db.QueryRowContext(ctx, `select `+complaintColumns+` from complaints where id=$1`, id)
	c, err := scanComplaint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, complaint.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) List(ctx context.Context) ([]*complaint.Complaint, error) {
	return s.queryComplaints(ctx, `select `+complaintColumns+` from complaints order by created_at desc`)
}

func (s *Store) ListUnresolved(ctx context.Context) ([]*complaint.Complaint, error) {
	return s.queryComplaints(ctx, `select `+complaintColumns+` from complaints where status <> 'resolved' order by created_at asc`)
}

func (s *Store) queryComplaints(ctx context.Context, query string, args ...any) ([]*complaint.Complaint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*complaint.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatus writes status and, once only, the resolution timestamp.
// Escalation fields are never touched here; they belong to the engine.
func (s *Store) UpdateStatus(ctx context.Context, id string, status complaint.Status, resolvedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update complaints
		set status=$2, resolved_at = coalesce(resolved_at, $3)
		where id=$1
	`, id, string(status), resolvedAt)
	if err != nil {
		return err
	}
	return mapAffected(res, complaint.ErrNotFound)
}

// SetEscalation advances escalation fields with a monotonic guard in the
// update itself, so a racing writer can never lower or repeat a level.
func (s *Store) SetEscalation(ctx context.Context, id string, level int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update complaints
		set escalation_level=$2, last_escalated_at=$3
		where id=$1 and escalation_level < $2
	`, id, level, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `select 1 from complaints where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return complaint.ErrNotFound
	}
	if err != nil {
		return err
	}
	return complaint.ErrStaleLevel
}

func (s *Store) AppendEscalations(ctx context.Context, recs []*complaint.EscalationRecord) error {
	for _, r := range recs {
		if _, err := s.db.ExecContext(ctx, `
			insert into escalations(id, complaint_id, level, reason, created_at)
			values ($1,$2,$3,$4,$5)
		`, r.ID, r.ComplaintID, r.Level, r.Reason, r.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListEscalations(ctx context.Context, complaintID string) ([]*complaint.EscalationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, complaint_id, level, reason, created_at
		from escalations
		where complaint_id=$1
		order by level asc
	`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*complaint.EscalationRecord
	for rows.Next() {
		var r complaint.EscalationRecord
		if err := rows.Scan(&r.ID, &r.ComplaintID, &r.Level, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- helpers ---

func mapAffected(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
