package repository

import (
	"context"

	"devlens/internal/cacheop/domain"
)

// Repository defines persistence for cache operations.
type Repository interface {
	Save(ctx context.Context, op *domain.CacheOp) error
	GetByID(ctx context.Context, id string) (*domain.CacheOp, error)
	List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.CacheOp, error)
}
