package admin

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("admin: not found")

type PermissionRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Permissions, error)
	Upsert(ctx context.Context, p *Permissions) error
}

type FeatureRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*DashboardFeatures, error)
	Upsert(ctx context.Context, f *DashboardFeatures) error
}

type AccessRepository interface {
	List(ctx context.Context, userID uuid.UUID) ([]*FeatureAccess, error)
	Get(ctx context.Context, userID uuid.UUID, feature string) (*FeatureAccess, error)
	// Upsert inserts or updates the row for (user_id, feature_name).
	Upsert(ctx context.Context, fa *FeatureAccess) error
	Delete(ctx context.Context, userID uuid.UUID, feature string) error
}

// StatsRepository aggregates counts across the other modules' tables.
type StatsRepository interface {
	UsersByRole(ctx context.Context) (map[string]int, error)
	AppointmentsByStatus(ctx context.Context) (map[string]int, error)
	PathologyOrdersByStatus(ctx context.Context) (map[string]int, error)
	RadiologyOrdersByStatus(ctx context.Context) (map[string]int, error)
	NotificationsByStatus(ctx context.Context) (map[string]int, error)
	// Revenue sums consultation fees of completed appointments.
	Revenue(ctx context.Context) (float64, error)
}
