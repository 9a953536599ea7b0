package auth

// Roles carried in access tokens and stored on users.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleDoctor     = "doctor"
	RoleNurse      = "nurse"
	RolePatient    = "patient"
	RolePharmacist = "pharmacist"
)

var validRoles = map[string]bool{
	RoleSuperAdmin: true,
	RoleAdmin:      true,
	RoleDoctor:     true,
	RoleNurse:      true,
	RolePatient:    true,
	RolePharmacist: true,
}

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool { return validRoles[r] }

// IsStaffRole reports whether r belongs to hospital staff (has a StaffProfile).
func IsStaffRole(r string) bool {
	switch r {
	case RoleDoctor, RoleNurse, RolePharmacist, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdminRole reports whether r is admin or super_admin.
func IsAdminRole(r string) bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}
