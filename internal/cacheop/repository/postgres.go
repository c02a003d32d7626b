package repository

import (
	"context"
	"database/sql"
	"errors"

	"devlens/internal/cacheop/domain"
)

type PostgresRepository struct {
	pool *sql.DB
}

func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists the cache operation. ID and CreatedAt must already be assigned.
func (r *PostgresRepository) Save(ctx context.Context, op *domain.CacheOp) error {
	_, err := r.pool.ExecContext(ctx,
		`INSERT INTO cache_ops
		 (id, tenant_id, command, key, duration_ms, error, db_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, nullString(op.TenantID), op.Command, nullString(op.Key),
		nullInt64(op.DurationMS), nullString(op.Error), nullInt(op.DBIndex),
		op.CreatedAt,
	)
	return err
}

// GetByID returns the cache operation for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CacheOp, error) {
	row := r.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, command, key, duration_ms, error, db_index, created_at
		 FROM cache_ops WHERE id = $1`, id)
	op, err := scanCacheOp(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

// List returns cache operations for the tenant (all tenants when empty),
// newest first.
func (r *PostgresRepository) List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.CacheOp, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT id, tenant_id, command, key, duration_ms, error, db_index, created_at
	          FROM cache_ops`
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

	var out []*domain.CacheOp
	for rows.Next() {
		op, err := scanCacheOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheOp(row rowScanner) (*domain.CacheOp, error) {
	var (
		op       domain.CacheOp
		tenant   sql.NullString
		key      sql.NullString
		duration sql.NullInt64
		errMsg   sql.NullString
		dbIndex  sql.NullInt64
	)
	if err := row.Scan(&op.ID, &tenant, &op.Command, &key, &duration,
		&errMsg, &dbIndex, &op.CreatedAt); err != nil {
		return nil, err
	}
	op.TenantID = strPtr(tenant)
	op.Key = strPtr(key)
	op.Error = strPtr(errMsg)
	if duration.Valid {
		v := duration.Int64
		op.DurationMS = &v
	}
	if dbIndex.Valid {
		v := int(dbIndex.Int64)
		op.DBIndex = &v
	}
	return &op, nil
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

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
