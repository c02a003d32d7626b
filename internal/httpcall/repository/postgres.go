package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"devlens/internal/httpcall/domain"
)

type PostgresRepository struct {
	pool *sql.DB
}

// NewPostgresRepository returns an http-call repository that uses the given
// db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists the call. ID and CreatedAt must already be assigned.
func (r *PostgresRepository) Save(ctx context.Context, c *domain.HTTPCall) error {
	reqBody, err := marshalOrNil(c.RequestBody)
	if err != nil {
		return err
	}
	respBody, err := marshalOrNil(c.ResponseBody)
	if err != nil {
		return err
	}
	_, err = r.pool.ExecContext(ctx,
		`INSERT INTO http_calls
		 (id, tenant_id, method, url, status_code, duration_ms,
		  request_body, response_body, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, nullString(c.TenantID), c.Method, c.URL, nullInt(c.StatusCode),
		c.DurationMS, reqBody, respBody, nullString(c.Error), c.CreatedAt,
	)
	return err
}

// GetByID returns the call for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.HTTPCall, error) {
	row := r.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, method, url, status_code, duration_ms,
		        request_body, response_body, error, created_at
		 FROM http_calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// List returns calls for the tenant (all tenants when empty), newest first.
func (r *PostgresRepository) List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.HTTPCall, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT id, tenant_id, method, url, status_code, duration_ms,
	                 request_body, response_body, error, created_at
	          FROM http_calls`
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

	var out []*domain.HTTPCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.HTTPCall, error) {
	var (
		c        domain.HTTPCall
		tenant   sql.NullString
		status   sql.NullInt64
		reqBody  []byte
		respBody []byte
		errMsg   sql.NullString
	)
	if err := row.Scan(&c.ID, &tenant, &c.Method, &c.URL, &status,
		&c.DurationMS, &reqBody, &respBody, &errMsg, &c.CreatedAt); err != nil {
		return nil, err
	}
	if tenant.Valid {
		c.TenantID = &tenant.String
	}
	if status.Valid {
		v := int(status.Int64)
		c.StatusCode = &v
	}
	if errMsg.Valid {
		c.Error = &errMsg.String
	}
	if len(reqBody) > 0 {
		if err := json.Unmarshal(reqBody, &c.RequestBody); err != nil {
			return nil, err
		}
	}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &c.ResponseBody); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func marshalOrNil(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
