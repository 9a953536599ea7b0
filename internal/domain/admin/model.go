package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
)

// Permissions are the per-admin capability flags. Super admins hold every
// permission implicitly and need no row.
type Permissions struct {
	UserID                uuid.UUID  `db:"user_id" json:"user_id"`
	CanManageUsers        bool       `db:"can_manage_users" json:"can_manage_users"`
	CanManageStaff        bool       `db:"can_manage_staff" json:"can_manage_staff"`
	CanManagePatients     bool       `db:"can_manage_patients" json:"can_manage_patients"`
	CanManageAppointments bool       `db:"can_manage_appointments" json:"can_manage_appointments"`
	CanManagePathology    bool       `db:"can_manage_pathology" json:"can_manage_pathology"`
	CanManageRadiology    bool       `db:"can_manage_radiology" json:"can_manage_radiology"`
	CanSendNotifications  bool       `db:"can_send_notifications" json:"can_send_notifications"`
	CanViewReports        bool       `db:"can_view_reports" json:"can_view_reports"`
	CanManagePermissions  bool       `db:"can_manage_permissions" json:"can_manage_permissions"`
	UpdatedBy             *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Permissions) flags() map[string]*bool {
	return map[string]*bool{
		auth.PermManageUsers:        &p.CanManageUsers,
		auth.PermManageStaff:        &p.CanManageStaff,
		auth.PermManagePatients:     &p.CanManagePatients,
		auth.PermManageAppointments: &p.CanManageAppointments,
		auth.PermManagePathology:    &p.CanManagePathology,
		auth.PermManageRadiology:    &p.CanManageRadiology,
		auth.PermSendNotifications:  &p.CanSendNotifications,
		auth.PermViewReports:        &p.CanViewReports,
		auth.PermManagePermissions:  &p.CanManagePermissions,
	}
}

// Has reports whether the flag named perm is set. Unknown names are false.
func (p *Permissions) Has(perm string) bool {
	f, ok := p.flags()[perm]
	return ok && *f
}

// Set changes one flag and reports whether perm is a known flag.
func (p *Permissions) Set(perm string, v bool) bool {
	f, ok := p.flags()[perm]
	if ok {
		*f = v
	}
	return ok
}

// AllPermissions lists every permission flag name.
func AllPermissions() []string {
	return []string{
		auth.PermManageUsers,
		auth.PermManageStaff,
		auth.PermManagePatients,
		auth.PermManageAppointments,
		auth.PermManagePathology,
		auth.PermManageRadiology,
		auth.PermSendNotifications,
		auth.PermViewReports,
		auth.PermManagePermissions,
	}
}

// DashboardFeatures selects which sections an admin's dashboard shows.
type DashboardFeatures struct {
	UserID                uuid.UUID `db:"user_id" json:"user_id"`
	ShowUserStats         bool      `db:"show_user_stats" json:"show_user_stats"`
	ShowAppointmentStats  bool      `db:"show_appointment_stats" json:"show_appointment_stats"`
	ShowLabStats          bool      `db:"show_lab_stats" json:"show_lab_stats"`
	ShowRadiologyStats    bool      `db:"show_radiology_stats" json:"show_radiology_stats"`
	ShowNotificationStats bool      `db:"show_notification_stats" json:"show_notification_stats"`
	ShowRevenue           bool      `db:"show_revenue" json:"show_revenue"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

func DefaultDashboardFeatures(userID uuid.UUID) *DashboardFeatures {
	return &DashboardFeatures{
		UserID:                userID,
		ShowUserStats:         true,
		ShowAppointmentStats:  true,
		ShowLabStats:          true,
		ShowRadiologyStats:    true,
		ShowNotificationStats: true,
	}
}

// FeatureAccess is a named feature toggle for one user.
type FeatureAccess struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	FeatureName string     `db:"feature_name" json:"feature_name"`
	Enabled     bool       `db:"enabled" json:"enabled"`
	GrantedBy   *uuid.UUID `db:"granted_by" json:"granted_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// DashboardStats holds one section per enabled dashboard feature. Count maps
// are keyed by role or status.
type DashboardStats struct {
	Users         map[string]int `json:"users,omitempty"`
	Appointments  map[string]int `json:"appointments,omitempty"`
	Pathology     map[string]int `json:"pathology,omitempty"`
	Radiology     map[string]int `json:"radiology,omitempty"`
	Notifications map[string]int `json:"notifications,omitempty"`
	Revenue       *float64       `json:"revenue,omitempty"`
}
