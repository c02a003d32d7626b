package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"devlens/internal/schedule/domain"
)

type PostgresRepository struct {
	pool *sql.DB
}

// NewPostgresRepository returns a schedule repository that uses the given db
// for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists the schedule run. ID and CreatedAt must already be assigned.
func (r *PostgresRepository) Save(ctx context.Context, s *domain.Schedule) error {
	var result []byte
	if s.Result != nil {
		var err error
		if result, err = json.Marshal(s.Result); err != nil {
			return err
		}
	}
	_, err := r.pool.ExecContext(ctx,
		`INSERT INTO schedules
		 (id, tenant_id, job_id, job_name, cron_expression, status,
		  started_at, completed_at, duration_ms, error, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, nullString(s.TenantID), s.JobID, s.JobName, nullString(s.CronExpression),
		s.Status, nullTime(s.StartedAt), nullTime(s.CompletedAt), nullInt64(s.DurationMS),
		nullString(s.Error), result, s.CreatedAt,
	)
	return err
}

// GetByID returns the schedule run for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, job_id, job_name, cron_expression, status,
		        started_at, completed_at, duration_ms, error, result, created_at
		 FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List returns schedule runs for the tenant (all tenants when empty),
// newest first.
func (r *PostgresRepository) List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Schedule, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT id, tenant_id, job_id, job_name, cron_expression, status,
	                 started_at, completed_at, duration_ms, error, result, created_at
	          FROM schedules`
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

	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
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

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var (
		s         domain.Schedule
		tenant    sql.NullString
		cron      sql.NullString
		started   sql.NullTime
		completed sql.NullTime
		duration  sql.NullInt64
		errMsg    sql.NullString
		result    []byte
	)
	if err := row.Scan(&s.ID, &tenant, &s.JobID, &s.JobName, &cron, &s.Status,
		&started, &completed, &duration, &errMsg, &result, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.TenantID = strPtr(tenant)
	s.CronExpression = strPtr(cron)
	s.StartedAt = timePtr(started)
	s.CompletedAt = timePtr(completed)
	s.Error = strPtr(errMsg)
	if duration.Valid {
		v := duration.Int64
		s.DurationMS = &v
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &s.Result); err != nil {
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
