package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"devlens/internal/event"
	"devlens/internal/events/domain"
)

const defaultLimit = 50

type PostgresRepository struct {
	pool *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db
// for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists the event row. ID and CreatedAt must already be assigned.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.PersistedEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.ExecContext(ctx,
		`INSERT INTO events (id, tenant_id, kind, payload, route, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, nullStringFromPtr(e.TenantID), string(e.Kind), payload,
		nullStringFromPtr(e.Route), nullIntFromPtr(e.Status), e.CreatedAt,
	)
	return err
}

// GetByID returns the event for id, or nil if not found. It returns an error
// only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.PersistedEvent, error) {
	row := r.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, kind, payload, route, status, created_at
		 FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Query returns one page of events matching f, newest first, plus the page
// meta. Zero filter fields add no constraint.
func (r *PostgresRepository) Query(ctx context.Context, f domain.Filter, p domain.Page) ([]*domain.PersistedEvent, domain.Meta, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}

	where, args := buildWhere(f)

	var total int
	countSQL := "SELECT COUNT(*) FROM events" + where
	if err := r.pool.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, domain.Meta{}, err
	}

	listSQL := fmt.Sprintf(
		`SELECT id, tenant_id, kind, payload, route, status, created_at
		 FROM events%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, (p.Page-1)*p.Limit)

	rows, err := r.pool.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return nil, domain.Meta{}, err
	}
	defer rows.Close()

	var out []*domain.PersistedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, domain.Meta{}, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Meta{}, err
	}

	meta := domain.Meta{
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: (total + p.Limit - 1) / p.Limit,
	}
	return out, meta, nil
}

func buildWhere(f domain.Filter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TenantID != "" {
		conds = append(conds, "tenant_id = "+arg(f.TenantID))
	}
	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = arg(string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Route != "" {
		conds = append(conds, "route ILIKE "+arg("%"+f.Route+"%"))
	}
	if f.Status != 0 {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.Method != "" {
		conds = append(conds, "payload->>'method' = "+arg(f.Method))
	}
	if !f.From.IsZero() && !f.To.IsZero() {
		conds = append(conds, "created_at BETWEEN "+arg(f.From)+" AND "+arg(f.To))
	}
	if f.Search != "" {
		s := arg("%" + f.Search + "%")
		conds = append(conds, "(route ILIKE "+s+" OR payload::text ILIKE "+s+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Stats aggregates overview counters. tenantID scopes the numbers when
// non-empty.
func (r *PostgresRepository) Stats(ctx context.Context, tenantID string) (*domain.Stats, error) {
	scope := ""
	var scopeArgs []any
	if tenantID != "" {
		scope = " AND tenant_id = $1"
		scopeArgs = []any{tenantID}
	}
	count := func(cond string) (int, error) {
		var n int
		err := r.pool.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM events WHERE "+cond+scope, scopeArgs...).Scan(&n)
		return n, err
	}

	stats := &domain.Stats{}
	var err error
	if stats.TotalEvents, err = count("TRUE"); err != nil {
		return nil, err
	}
	if stats.TotalRequests, err = count("kind = 'request'"); err != nil {
		return nil, err
	}
	if stats.TotalExceptions, err = count("kind = 'exception'"); err != nil {
		return nil, err
	}
	if stats.TotalLogs, err = count("kind = 'log'"); err != nil {
		return nil, err
	}
	if stats.Last24Hours.Requests, err = count("kind = 'request' AND created_at > now() - interval '24 hours'"); err != nil {
		return nil, err
	}
	if stats.Last24Hours.Exceptions, err = count("kind = 'exception' AND created_at > now() - interval '24 hours'"); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = r.pool.QueryRowContext(ctx,
		`SELECT AVG((payload->>'duration')::numeric) FROM events
		 WHERE kind = 'request' AND payload->>'duration' IS NOT NULL`+scope, scopeArgs...).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AverageResponseTime = avg.Float64
	}

	successful, err := count("kind = 'request' AND status BETWEEN 200 AND 399")
	if err != nil {
		return nil, err
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalRequests) * 100
	}
	return stats, nil
}

// SlowestRoutes returns the routes with the highest average request
// duration.
func (r *PostgresRepository) SlowestRoutes(ctx context.Context, limit int) ([]domain.RouteTiming, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := r.pool.QueryContext(ctx,
		`SELECT route, COUNT(*),
		        AVG((payload->>'duration')::numeric),
		        MAX((payload->>'duration')::int)
		 FROM events
		 WHERE kind = 'request' AND route IS NOT NULL AND payload->>'duration' IS NOT NULL
		 GROUP BY route
		 ORDER BY 3 DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RouteTiming
	for rows.Next() {
		var rt domain.RouteTiming
		if err := rows.Scan(&rt.Route, &rt.Count, &rt.AvgDuration, &rt.MaxDuration); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// StatusDistribution returns request counts grouped by status code,
// most frequent first.
func (r *PostgresRepository) StatusDistribution(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := r.pool.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM events
		 WHERE kind = 'request' AND status IS NOT NULL
		 GROUP BY status ORDER BY 2 DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusCount
	for rows.Next() {
		var sc domain.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events created before cutoff and returns the
// number of rows deleted. Used by the retention sweeper.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.pool.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.PersistedEvent, error) {
	var (
		e       domain.PersistedEvent
		tenant  sql.NullString
		kind    string
		payload []byte
		route   sql.NullString
		status  sql.NullInt64
	)
	if err := row.Scan(&e.ID, &tenant, &kind, &payload, &route, &status, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = event.Kind(kind)
	e.TenantID = ptrFromNullString(tenant)
	e.Route = ptrFromNullString(route)
	if status.Valid {
		v := int(status.Int64)
		e.Status = &v
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func nullStringFromPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func nullIntFromPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
