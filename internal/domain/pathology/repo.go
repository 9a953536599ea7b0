package pathology

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("pathology: not found")
	ErrConflict = errors.New("pathology: already exists")
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f OrderFilter, limit, offset int) ([]*Order, int, error)
}

type SpecimenRepository interface {
	Create(ctx context.Context, s *Specimen) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error)
	Update(ctx context.Context, s *Specimen) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Specimen, error)
	// NextAccessionSeq draws the next value of the accession number sequence.
	NextAccessionSeq(ctx context.Context) (int64, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
}
