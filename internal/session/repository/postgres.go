package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"devlens/internal/session/domain"
)

type PostgresRepository struct {
	pool *sql.DB
}

func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists the session record. ID and CreatedAt must already be assigned.
func (r *PostgresRepository) Save(ctx context.Context, s *domain.Session) error {
	var data []byte
	if s.SessionData != nil {
		var err error
		if data, err = json.Marshal(s.SessionData); err != nil {
			return err
		}
	}
	_, err := r.pool.ExecContext(ctx,
		`INSERT INTO sessions
		 (id, tenant_id, session_id, action, user_id, session_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, nullString(s.TenantID), s.SessionID, s.Action,
		nullString(s.UserID), data, s.CreatedAt,
	)
	return err
}

// GetByID returns the session record for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, session_id, action, user_id, session_data, created_at
		 FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List returns session records for the tenant (all tenants when empty),
// newest first.
func (r *PostgresRepository) List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Session, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT id, tenant_id, session_id, action, user_id, session_data, created_at
	          FROM sessions`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, tenantID, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := r.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s      domain.Session
		tenant sql.NullString
		userID sql.NullString
		data   []byte
	)
	if err := row.Scan(&s.ID, &tenant, &s.SessionID, &s.Action, &userID,
		&data, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.TenantID = strPtr(tenant)
	s.UserID = strPtr(userID)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.SessionData); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
