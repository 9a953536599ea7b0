package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/notification"
)

// Resolver exposes users as notification recipients.
type Resolver struct {
	users UserRepository
}

func NewResolver(users UserRepository) *Resolver {
	return &Resolver{users: users}
}

var _ notification.RecipientResolver = (*Resolver)(nil)

func toRecipient(u *User) *notification.Recipient {
	r := &notification.Recipient{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.FullName(),
		Role:   u.Role,
		Active: u.IsActive,
	}
	if u.Phone != nil {
		r.Phone = *u.Phone
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (*notification.Recipient, error) {
	u, err := r.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, notification.ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRecipient(u), nil
}

// ListByRole pages through every active user with role.
func (r *Resolver) ListByRole(ctx context.Context, role string) ([]*notification.Recipient, error) {
	const page = 500
	active := true
	var out []*notification.Recipient
	for offset := 0; ; offset += page {
		users, total, err := r.users.List(ctx, UserFilter{Role: role, Active: &active}, page, offset)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, toRecipient(u))
		}
		if offset+page >= total || len(users) == 0 {
			return out, nil
		}
	}
}

// RoleOf returns the user's role, or "" when the user does not exist.
func (r *Resolver) RoleOf(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := r.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}
