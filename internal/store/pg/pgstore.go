// Package pg is the Postgres-backed access-record store. The in-process
// engines keep threats and incidents in memory; only the durable
// access-control records live here.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"medguard.org/internal/permission"
	"medguard.org/internal/rbac"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ rbac.Store = (*Store)(nil)

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

// NewWithDB wraps an existing connection pool. Test use.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Put upserts the access record keyed by actor id.
func (s *Store) Put(ctx context.Context, record rbac.AccessControl) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	grants, err := encodePermissions(record.Permissions)
	if err != nil {
		return err
	}
	restrictions, err := encodePermissions(record.Restrictions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into access_controls
			(actor_id, role, permissions, restrictions, access_level,
			 emergency_override, mfa_required, session_timeout_seconds,
			 audit_required, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		on conflict (actor_id) do update set
			role = excluded.role,
			permissions = excluded.permissions,
			restrictions = excluded.restrictions,
			access_level = excluded.access_level,
			emergency_override = excluded.emergency_override,
			mfa_required = excluded.mfa_required,
			session_timeout_seconds = excluded.session_timeout_seconds,
			audit_required = excluded.audit_required,
			updated_at = excluded.updated_at
	`, record.ActorID, record.Role, grants, restrictions, record.AccessLevel,
		record.EmergencyOverride, record.MFARequired, int64(record.SessionTimeout/time.Second),
		record.AuditRequired, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: actor %s", rbac.ErrAlreadyExists, record.ActorID)
		}
		return err
	}
	return nil
}

// Get loads one access record.
func (s *Store) Get(ctx context.Context, actorID string) (rbac.AccessControl, error) {
	if s.db == nil {
		return rbac.AccessControl{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select actor_id, role, permissions, restrictions, access_level,
		       emergency_override, mfa_required, session_timeout_seconds,
		       audit_required, created_at, updated_at
		from access_controls
		where actor_id = $1
	`, actorID)
	record, err := scanAccessControl(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.AccessControl{}, fmt.Errorf("%w: actor %s", rbac.ErrNotFound, actorID)
	}
	return record, err
}

// List returns all access records ordered by actor id.
func (s *Store) List(ctx context.Context) ([]rbac.AccessControl, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select actor_id, role, permissions, restrictions, access_level,
		       emergency_override, mfa_required, session_timeout_seconds,
		       audit_required, created_at, updated_at
		from access_controls
		order by actor_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.AccessControl
	for rows.Next() {
		record, err := scanAccessControl(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the record; missing actors map to rbac.ErrNotFound.
func (s *Store) Delete(ctx context.Context, actorID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from access_controls where actor_id = $1`, actorID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: actor %s", rbac.ErrNotFound, actorID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessControl(row rowScanner) (rbac.AccessControl, error) {
	var (
		record         rbac.AccessControl
		rawGrants      []byte
		rawRestricts   []byte
		timeoutSeconds int64
	)
	err := row.Scan(&record.ActorID, &record.Role, &rawGrants, &rawRestricts,
		&record.AccessLevel, &record.EmergencyOverride, &record.MFARequired,
		&timeoutSeconds, &record.AuditRequired, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return rbac.AccessControl{}, err
	}
	record.SessionTimeout = time.Duration(timeoutSeconds) * time.Second
	if record.Permissions, err = decodePermissions(rawGrants); err != nil {
		return rbac.AccessControl{}, err
	}
	if record.Restrictions, err = decodePermissions(rawRestricts); err != nil {
		return rbac.AccessControl{}, err
	}
	return record, nil
}

func encodePermissions(patterns []permission.Permission) ([]byte, error) {
	if len(patterns) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	return data, nil
}

func decodePermissions(raw []byte) ([]permission.Permission, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var patterns []permission.Permission
	if err := json.Unmarshal(raw, &patterns); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return patterns, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
