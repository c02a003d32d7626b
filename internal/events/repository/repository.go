package repository

import (
	"context"
	"time"

	"devlens/internal/events/domain"
)

// Repository defines persistence for the catch-all event store.
type Repository interface {
	Save(ctx context.Context, e *domain.PersistedEvent) error
	GetByID(ctx context.Context, id string) (*domain.PersistedEvent, error)
	Query(ctx context.Context, f domain.Filter, p domain.Page) ([]*domain.PersistedEvent, domain.Meta, error)
	Stats(ctx context.Context, tenantID string) (*domain.Stats, error)
	SlowestRoutes(ctx context.Context, limit int) ([]domain.RouteTiming, error)
	StatusDistribution(ctx context.Context) ([]domain.StatusCount, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
