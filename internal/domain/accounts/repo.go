package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("accounts: not found")
	ErrConflict = errors.New("accounts: already exists")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error)
}

type StaffProfileRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*StaffProfile, error)
	Upsert(ctx context.Context, p *StaffProfile) error
}

type PatientProfileRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	Upsert(ctx context.Context, p *PatientProfile) error
}
