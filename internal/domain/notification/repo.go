package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("notification: not found")
	ErrRecipientNotFound = errors.New("notification: recipient not found")
)

type LogRepository interface {
	Create(ctx context.Context, l *Log) error
	GetByID(ctx context.Context, id uuid.UUID) (*Log, error)
	List(ctx context.Context, f LogFilter, limit, offset int) ([]*Log, int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetByName(ctx context.Context, name string) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Template, int, error)
}

type ScheduledRepository interface {
	Create(ctx context.Context, s *Scheduled) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scheduled, error)
	// ClaimDue returns up to limit pending rows with send_at <= now, marks
	// them processing and increments their attempts. Processing rows are
	// invisible to other runs until ClaimLease has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Scheduled, error)
	Update(ctx context.Context, s *Scheduled) error
	CancelByRelated(ctx context.Context, relatedType string, relatedID uuid.UUID) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Scheduled, int, error)
}

type PreferenceRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Preference, error)
	Upsert(ctx context.Context, p *Preference) error
}

// RecipientResolver looks up contact data for users. Resolve returns
// ErrRecipientNotFound for unknown users.
type RecipientResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*Recipient, error)
	ListByRole(ctx context.Context, role string) ([]*Recipient, error)
}
