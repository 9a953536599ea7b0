package radiology

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("radiology: not found")
	ErrConflict = errors.New("radiology: already exists")
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f OrderFilter, limit, offset int) ([]*Order, int, error)
}

type StudyRepository interface {
	Create(ctx context.Context, s *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	Update(ctx context.Context, s *Study) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Study, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Report, error)
}
