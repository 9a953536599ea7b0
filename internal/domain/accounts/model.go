package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account of any role. Email and username are unique.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	Role         string     `db:"role" json:"role"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	IsStaff      bool       `db:"is_staff" json:"is_staff"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

type StaffProfile struct {
	UserID            uuid.UUID `db:"user_id" json:"user_id"`
	Department        string    `db:"department" json:"department"`
	Specialization    string    `db:"specialization" json:"specialization"`
	LicenseNumber     *string   `db:"license_number" json:"license_number,omitempty"`
	Qualification     string    `db:"qualification" json:"qualification"`
	YearsOfExperience int       `db:"years_of_experience" json:"years_of_experience"`
	ConsultationFee   float64   `db:"consultation_fee" json:"consultation_fee"`
	Available         bool      `db:"available" json:"available"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

type PatientProfile struct {
	UserID                uuid.UUID  `db:"user_id" json:"user_id"`
	DateOfBirth           *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender                string     `db:"gender" json:"gender"`
	BloodGroup            string     `db:"blood_group" json:"blood_group"`
	Address               string     `db:"address" json:"address"`
	EmergencyContactName  string     `db:"emergency_contact_name" json:"emergency_contact_name"`
	EmergencyContactPhone string     `db:"emergency_contact_phone" json:"emergency_contact_phone"`
	Allergies             string     `db:"allergies" json:"allergies"`
	MedicalHistory        string     `db:"medical_history" json:"medical_history"`
	InsuranceProvider     string     `db:"insurance_provider" json:"insurance_provider"`
	InsuranceNumber       string     `db:"insurance_number" json:"insurance_number"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

var validGenders = map[string]bool{"": true, "male": true, "female": true, "other": true}

var validBloodGroups = map[string]bool{
	"": true, "A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

// UserFilter narrows user listings. Search matches name, email and username.
type UserFilter struct {
	Role   string
	Active *bool
	Search string
}
