package repository

import (
	"context"

	"devlens/internal/schedule/domain"
)

// Repository defines persistence for scheduled-job runs.
type Repository interface {
	Save(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Schedule, error)
}
