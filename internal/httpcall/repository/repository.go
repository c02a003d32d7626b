package repository

import (
	"context"

	"devlens/internal/httpcall/domain"
)

// Repository defines persistence for outgoing HTTP calls.
type Repository interface {
	Save(ctx context.Context, c *domain.HTTPCall) error
	GetByID(ctx context.Context, id string) (*domain.HTTPCall, error)
	List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.HTTPCall, error)
}
