package repository

import (
	"context"

	"devlens/internal/session/domain"
)

// Repository defines persistence for session lifecycle records.
type Repository interface {
	Save(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Session, error)
}
