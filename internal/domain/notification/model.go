package notification

import (
	"time"

	"github.com/google/uuid"
)

// Log statuses.
const (
	LogSent    = "sent"
	LogFailed  = "failed"
	LogSkipped = "skipped"
)

// Scheduled statuses.
const (
	ScheduledPending   = "pending"
	ScheduledClaimed   = "processing"
	ScheduledSent      = "sent"
	ScheduledFailed    = "failed"
	ScheduledCancelled = "cancelled"
)

// Categories map a message to the preference flag that can suppress it.
const (
	CategoryGeneral     = "general"
	CategoryAppointment = "appointment"
	CategoryLabResult   = "lab_result"
	CategoryMarketing   = "marketing"
	CategoryAccount     = "account"
)

// Log is one delivery attempt, or one in-app message.
type Log struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Channel      string     `db:"channel" json:"channel"`
	Recipient    string     `db:"recipient" json:"recipient"`
	TemplateName *string    `db:"template_name" json:"template_name,omitempty"`
	Subject      string     `db:"subject" json:"subject"`
	Body         string     `db:"body" json:"body"`
	Provider     *string    `db:"provider" json:"provider,omitempty"`
	Status       string     `db:"status" json:"status"`
	Error        *string    `db:"error" json:"error,omitempty"`
	RelatedType  *string    `db:"related_type" json:"related_type,omitempty"`
	RelatedID    *uuid.UUID `db:"related_id" json:"related_id,omitempty"`
	ReadAt       *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Template is an admin-managed message template. It takes precedence over the
// built-in template of the same name.
type Template struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Channel   string    `db:"channel" json:"channel"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Scheduled is a message to be delivered by ProcessDue once SendAt passes.
type Scheduled struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	UserID       uuid.UUID         `db:"user_id" json:"user_id"`
	Channel      string            `db:"channel" json:"channel"`
	TemplateName *string           `db:"template_name" json:"template_name,omitempty"`
	Subject      string            `db:"subject" json:"subject"`
	Body         string            `db:"body" json:"body"`
	Data         map[string]string `db:"data" json:"data"`
	Category     string            `db:"category" json:"category"`
	SendAt       time.Time         `db:"send_at" json:"send_at"`
	Status       string            `db:"status" json:"status"`
	Attempts     int               `db:"attempts" json:"attempts"`
	LastError    *string           `db:"last_error" json:"last_error,omitempty"`
	RelatedType  *string           `db:"related_type" json:"related_type,omitempty"`
	RelatedID    *uuid.UUID        `db:"related_id" json:"related_id,omitempty"`
	SentAt       *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Preference holds a user's delivery opt-ins.
type Preference struct {
	UserID               uuid.UUID `db:"user_id" json:"user_id"`
	EmailEnabled         bool      `db:"email_enabled" json:"email_enabled"`
	SMSEnabled           bool      `db:"sms_enabled" json:"sms_enabled"`
	InAppEnabled         bool      `db:"in_app_enabled" json:"in_app_enabled"`
	AppointmentReminders bool      `db:"appointment_reminders" json:"appointment_reminders"`
	LabResults           bool      `db:"lab_results" json:"lab_results"`
	Marketing            bool      `db:"marketing" json:"marketing"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultPreference is used for users who never saved preferences.
func DefaultPreference(userID uuid.UUID) *Preference {
	return &Preference{
		UserID:               userID,
		EmailEnabled:         true,
		SMSEnabled:           true,
		InAppEnabled:         true,
		AppointmentReminders: true,
		LabResults:           true,
	}
}

// Allows reports whether the user accepts a message on channel for category.
func (p *Preference) Allows(channel, category string) bool {
	switch channel {
	case "email":
		if !p.EmailEnabled {
			return false
		}
	case "sms":
		if !p.SMSEnabled {
			return false
		}
	case "in_app":
		if !p.InAppEnabled {
			return false
		}
	}
	switch category {
	case CategoryAppointment:
		return p.AppointmentReminders
	case CategoryLabResult:
		return p.LabResults
	case CategoryMarketing:
		return p.Marketing
	}
	return true
}

// Recipient is the contact data of a user.
type Recipient struct {
	UserID uuid.UUID
	Email  string
	Phone  string
	Name   string
	Role   string
	Active bool
}

// SendRequest describes one message to one user. Either Template or Body
// must be set.
type SendRequest struct {
	UserID      uuid.UUID         `json:"user_id" validate:"required"`
	Channel     string            `json:"channel" validate:"required,oneof=email sms in_app"`
	Template    string            `json:"template,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Category    string            `json:"category,omitempty"`
	RelatedType string            `json:"related_type,omitempty"`
	RelatedID   *uuid.UUID        `json:"related_id,omitempty"`
}

// LogFilter narrows log listings.
type LogFilter struct {
	UserID     *uuid.UUID
	Channel    string
	Status     string
	UnreadOnly bool
}
