package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

var (
	ErrInvalid   = errors.New("invalid admin request")
	ErrForbidden = errors.New("not allowed")
)

var featureName = regexp.MustCompile(`^[a-z][a-z0-9_.-]{1,99}$`)

// RoleLookup resolves the role of a user, returning "" for unknown users.
// *accounts.Resolver implements it.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID uuid.UUID) (string, error)
}

type Service struct {
	perms    PermissionRepository
	features FeatureRepository
	access   AccessRepository
	stats    StatsRepository
	roles    RoleLookup
	logger   zerolog.Logger
}

func NewService(perms PermissionRepository, features FeatureRepository, access AccessRepository,
	stats StatsRepository, roles RoleLookup, logger zerolog.Logger) *Service {
	return &Service{
		perms:    perms,
		features: features,
		access:   access,
		stats:    stats,
		roles:    roles,
		logger:   logger,
	}
}

var _ auth.PermissionChecker = (*Service)(nil)

// HasPermission implements auth.PermissionChecker. Super admins hold every
// permission, non-admins none, and admins what their row grants.
func (s *Service) HasPermission(ctx context.Context, userID, role, perm string) (bool, error) {
	switch role {
	case auth.RoleSuperAdmin:
		return true, nil
	case auth.RoleAdmin:
	default:
		return false, nil
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	p, err := s.perms.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Has(perm), nil
}

func (s *Service) userRole(ctx context.Context, userID uuid.UUID) (string, error) {
	role, err := s.roles.RoleOf(ctx, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return role, nil
}

// -- Permissions --

func (s *Service) GetPermissions(ctx context.Context, userID uuid.UUID) (*Permissions, error) {
	p, err := s.perms.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Permissions{UserID: userID}, nil
	}
	return p, err
}

// UpdatePermissions sets the flags named in changes on an admin account.
// Admins cannot change their own permissions.
func (s *Service) UpdatePermissions(ctx context.Context, target uuid.UUID, changes map[string]bool,
	callerID uuid.UUID, callerRole string) (*Permissions, error) {
	if target == callerID && callerRole != auth.RoleSuperAdmin {
		return nil, fmt.Errorf("%w: admins cannot change their own permissions", ErrForbidden)
	}
	role, err := s.userRole(ctx, target)
	if err != nil {
		return nil, err
	}
	if role != auth.RoleAdmin {
		return nil, fmt.Errorf("%w: permissions apply to admin accounts only, user is %s", ErrInvalid, role)
	}

	p, err := s.GetPermissions(ctx, target)
	if err != nil {
		return nil, err
	}
	for name, v := range changes {
		if !p.Set(name, v) {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalid, name)
		}
	}
	by := callerID
	p.UpdatedBy = &by
	if err := s.perms.Upsert(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", target.String()).
		Str("updated_by", callerID.String()).
		Interface("changes", changes).
		Msg("admin permissions updated")
	return p, nil
}

// -- Dashboard features --

func (s *Service) GetFeatures(ctx context.Context, userID uuid.UUID) (*DashboardFeatures, error) {
	f, err := s.features.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return DefaultDashboardFeatures(userID), nil
	}
	return f, err
}

func (s *Service) UpdateFeatures(ctx context.Context, f *DashboardFeatures) error {
	return s.features.Upsert(ctx, f)
}

// Dashboard returns the sections enabled in the caller's dashboard features.
func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID) (*DashboardStats, error) {
	f, err := s.GetFeatures(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &DashboardStats{}
	sections := []struct {
		on   bool
		dst  *map[string]int
		load func(context.Context) (map[string]int, error)
	}{
		{f.ShowUserStats, &out.Users, s.stats.UsersByRole},
		{f.ShowAppointmentStats, &out.Appointments, s.stats.AppointmentsByStatus},
		{f.ShowLabStats, &out.Pathology, s.stats.PathologyOrdersByStatus},
		{f.ShowRadiologyStats, &out.Radiology, s.stats.RadiologyOrdersByStatus},
		{f.ShowNotificationStats, &out.Notifications, s.stats.NotificationsByStatus},
	}
	for _, sec := range sections {
		if !sec.on {
			continue
		}
		m, err := sec.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("dashboard stats: %w", err)
		}
		*sec.dst = m
	}
	if f.ShowRevenue {
		rev, err := s.stats.Revenue(ctx)
		if err != nil {
			return nil, fmt.Errorf("dashboard revenue: %w", err)
		}
		out.Revenue = &rev
	}
	return out, nil
}

// -- Feature access --

func (s *Service) ListAccess(ctx context.Context, userID uuid.UUID) ([]*FeatureAccess, error) {
	return s.access.List(ctx, userID)
}

// SetAccess grants (enabled=true) or suspends (enabled=false) a feature.
func (s *Service) SetAccess(ctx context.Context, userID uuid.UUID, feature string, enabled bool, by uuid.UUID) (*FeatureAccess, error) {
	feature = strings.ToLower(strings.TrimSpace(feature))
	if !featureName.MatchString(feature) {
		return nil, fmt.Errorf("%w: invalid feature name %q", ErrInvalid, feature)
	}
	if _, err := s.userRole(ctx, userID); err != nil {
		return nil, err
	}
	fa := &FeatureAccess{UserID: userID, FeatureName: feature, Enabled: enabled, GrantedBy: &by}
	if err := s.access.Upsert(ctx, fa); err != nil {
		return nil, err
	}
	return fa, nil
}

func (s *Service) RevokeAccess(ctx context.Context, userID uuid.UUID, feature string) error {
	return s.access.Delete(ctx, userID, strings.ToLower(strings.TrimSpace(feature)))
}

// HasFeature reports whether an enabled feature_access row exists.
func (s *Service) HasFeature(ctx context.Context, userID uuid.UUID, feature string) (bool, error) {
	fa, err := s.access.Get(ctx, userID, feature)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fa.Enabled, nil
}
