package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked-in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no-show"
)

// transitions lists the statuses reachable from each status. Completed,
// cancelled and no-show are final.
var transitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusCheckedIn: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

var validTypes = map[string]bool{
	"consultation": true, "follow-up": true, "emergency": true,
	"routine-checkup": true, "procedure": true, "telemedicine": true,
}

type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         time.Time  `db:"end_time" json:"end_time"`
	Status          string     `db:"status" json:"status"`
	AppointmentType string     `db:"appointment_type" json:"appointment_type"`
	Reason          string     `db:"reason" json:"reason"`
	Notes           string     `db:"notes" json:"notes"`
	CancelReason    *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedBy       *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the appointment still blocks the doctor's time.
func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled && a.Status != StatusNoShow
}

type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}
