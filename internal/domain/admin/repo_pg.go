package admin

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

// =========== Permission Repository ===========

type permRepoPG struct{ pool *pgxpool.Pool }

func NewPermissionRepoPG(pool *pgxpool.Pool) PermissionRepository { return &permRepoPG{pool: pool} }

func (r *permRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *permRepoPG) Get(ctx context.Context, userID uuid.UUID) (*Permissions, error) {
	var p Permissions
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, can_manage_users, can_manage_staff, can_manage_patients, can_manage_appointments,
			can_manage_pathology, can_manage_radiology, can_send_notifications, can_view_reports,
			can_manage_permissions, updated_by, created_at, updated_at
		FROM admin_permissions WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.CanManageUsers, &p.CanManageStaff, &p.CanManagePatients, &p.CanManageAppointments,
		&p.CanManagePathology, &p.CanManageRadiology, &p.CanSendNotifications, &p.CanViewReports,
		&p.CanManagePermissions, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *permRepoPG) Upsert(ctx context.Context, p *Permissions) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admin_permissions (user_id, can_manage_users, can_manage_staff, can_manage_patients,
			can_manage_appointments, can_manage_pathology, can_manage_radiology, can_send_notifications,
			can_view_reports, can_manage_permissions, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO UPDATE SET
			can_manage_users = EXCLUDED.can_manage_users,
			can_manage_staff = EXCLUDED.can_manage_staff,
			can_manage_patients = EXCLUDED.can_manage_patients,
			can_manage_appointments = EXCLUDED.can_manage_appointments,
			can_manage_pathology = EXCLUDED.can_manage_pathology,
			can_manage_radiology = EXCLUDED.can_manage_radiology,
			can_send_notifications = EXCLUDED.can_send_notifications,
			can_view_reports = EXCLUDED.can_view_reports,
			can_manage_permissions = EXCLUDED.can_manage_permissions,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.UserID, p.CanManageUsers, p.CanManageStaff, p.CanManagePatients,
		p.CanManageAppointments, p.CanManagePathology, p.CanManageRadiology, p.CanSendNotifications,
		p.CanViewReports, p.CanManagePermissions, p.UpdatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// =========== Dashboard Feature Repository ===========

type featureRepoPG struct{ pool *pgxpool.Pool }

func NewFeatureRepoPG(pool *pgxpool.Pool) FeatureRepository { return &featureRepoPG{pool: pool} }

func (r *featureRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *featureRepoPG) Get(ctx context.Context, userID uuid.UUID) (*DashboardFeatures, error) {
	var f DashboardFeatures
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, show_user_stats, show_appointment_stats, show_lab_stats, show_radiology_stats,
			show_notification_stats, show_revenue, created_at, updated_at
		FROM admin_dashboard_features WHERE user_id = $1`, userID).Scan(
		&f.UserID, &f.ShowUserStats, &f.ShowAppointmentStats, &f.ShowLabStats, &f.ShowRadiologyStats,
		&f.ShowNotificationStats, &f.ShowRevenue, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (r *featureRepoPG) Upsert(ctx context.Context, f *DashboardFeatures) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admin_dashboard_features (user_id, show_user_stats, show_appointment_stats, show_lab_stats,
			show_radiology_stats, show_notification_stats, show_revenue)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			show_user_stats = EXCLUDED.show_user_stats,
			show_appointment_stats = EXCLUDED.show_appointment_stats,
			show_lab_stats = EXCLUDED.show_lab_stats,
			show_radiology_stats = EXCLUDED.show_radiology_stats,
			show_notification_stats = EXCLUDED.show_notification_stats,
			show_revenue = EXCLUDED.show_revenue,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		f.UserID, f.ShowUserStats, f.ShowAppointmentStats, f.ShowLabStats,
		f.ShowRadiologyStats, f.ShowNotificationStats, f.ShowRevenue,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
}

// =========== Feature Access Repository ===========

type accessRepoPG struct{ pool *pgxpool.Pool }

func NewAccessRepoPG(pool *pgxpool.Pool) AccessRepository { return &accessRepoPG{pool: pool} }

func (r *accessRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const accessCols = `id, user_id, feature_name, enabled, granted_by, created_at, updated_at`

func scanAccess(row pgx.Row) (*FeatureAccess, error) {
	var fa FeatureAccess
	err := row.Scan(&fa.ID, &fa.UserID, &fa.FeatureName, &fa.Enabled, &fa.GrantedBy, &fa.CreatedAt, &fa.UpdatedAt)
	return &fa, err
}

func (r *accessRepoPG) List(ctx context.Context, userID uuid.UUID) ([]*FeatureAccess, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+accessCols+` FROM feature_access WHERE user_id = $1 ORDER BY feature_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FeatureAccess
	for rows.Next() {
		fa, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, fa)
	}
	return items, rows.Err()
}

func (r *accessRepoPG) Get(ctx context.Context, userID uuid.UUID, feature string) (*FeatureAccess, error) {
	fa, err := scanAccess(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accessCols+` FROM feature_access WHERE user_id = $1 AND feature_name = $2`, userID, feature))
	if err != nil {
		return nil, notFound(err)
	}
	return fa, nil
}

func (r *accessRepoPG) Upsert(ctx context.Context, fa *FeatureAccess) error {
	if fa.ID == uuid.Nil {
		fa.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO feature_access (id, user_id, feature_name, enabled, granted_by)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, feature_name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			granted_by = EXCLUDED.granted_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		fa.ID, fa.UserID, fa.FeatureName, fa.Enabled, fa.GrantedBy,
	).Scan(&fa.ID, &fa.CreatedAt, &fa.UpdatedAt)
}

func (r *accessRepoPG) Delete(ctx context.Context, userID uuid.UUID, feature string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM feature_access WHERE user_id = $1 AND feature_name = $2`, userID, feature)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Stats Repository ===========

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository { return &statsRepoPG{pool: pool} }

func (r *statsRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

// countBy runs a fixed GROUP BY query; query must select (key, count).
func (r *statsRepoPG) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func (r *statsRepoPG) UsersByRole(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT role, COUNT(*) FROM users WHERE is_active GROUP BY role`)
}

func (r *statsRepoPG) AppointmentsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM appointments GROUP BY status`)
}

func (r *statsRepoPG) PathologyOrdersByStatus(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM pathology_orders GROUP BY status`)
}

func (r *statsRepoPG) RadiologyOrdersByStatus(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM radiology_orders GROUP BY status`)
}

func (r *statsRepoPG) NotificationsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM notification_logs GROUP BY status`)
}

func (r *statsRepoPG) Revenue(ctx context.Context) (float64, error) {
	var total float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(sp.consultation_fee), 0)::float8
		FROM appointments a
		JOIN staff_profiles sp ON sp.user_id = a.doctor_id
		WHERE a.status = 'completed'`).Scan(&total)
	return total, err
}
