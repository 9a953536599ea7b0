package pathology

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OrderOrdered    = "ordered"
	OrderCollected  = "collected"
	OrderReceived   = "received"
	OrderInProgress = "in-progress"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"

	ReportDraft       = "draft"
	ReportPreliminary = "preliminary"
	ReportFinal       = "final"
	ReportAmended     = "amended"

	SpecimenAvailable      = "available"
	SpecimenUnavailable    = "unavailable"
	SpecimenUnsatisfactory = "unsatisfactory"
)

var validPriorities = map[string]bool{"routine": true, "urgent": true, "stat": true}

var validConditions = map[string]bool{
	"acceptable": true, "hemolyzed": true, "clotted": true, "lipemic": true,
	"insufficient": true, "contaminated": true, "leaking": true,
}

// orderTransitions defines valid status transitions for orders.
var orderTransitions = map[string][]string{
	OrderOrdered:    {OrderCollected, OrderCancelled},
	OrderCollected:  {OrderReceived, OrderCancelled},
	OrderReceived:   {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {},
	OrderCancelled:  {},
}

// reportTransitions defines valid status transitions for reports.
var reportTransitions = map[string][]string{
	ReportDraft:       {ReportPreliminary, ReportFinal},
	ReportPreliminary: {ReportFinal},
	ReportFinal:       {ReportAmended},
	ReportAmended:     {ReportAmended},
}

// ValidateTransition checks a status change for "order" or "report".
func ValidateTransition(kind, from, to string) error {
	var transitions map[string][]string
	switch kind {
	case "order":
		transitions = orderTransitions
	case "report":
		transitions = reportTransitions
	default:
		return fmt.Errorf("unsupported kind: %s", kind)
	}

	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown from-status %s", ErrTransition, from)
	}
	if _, ok := transitions[to]; !ok {
		return fmt.Errorf("%w: unknown status %s", ErrInvalid, to)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrTransition, kind, from, to)
}

type Order struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	TestCode      string    `db:"test_code" json:"test_code"`
	TestName      string    `db:"test_name" json:"test_name"`
	Priority      string    `db:"priority" json:"priority"`
	ClinicalNotes string    `db:"clinical_notes" json:"clinical_notes"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

type Specimen struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OrderID         uuid.UUID  `db:"order_id" json:"order_id"`
	SpecimenType    string     `db:"specimen_type" json:"specimen_type"`
	AccessionNumber string     `db:"accession_number" json:"accession_number"`
	CollectedAt     *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	CollectedBy     *uuid.UUID `db:"collected_by" json:"collected_by,omitempty"`
	ReceivedAt      *time.Time `db:"received_at" json:"received_at,omitempty"`
	Condition       string     `db:"condition" json:"condition"`
	Status          string     `db:"status" json:"status"`
	Notes           string     `db:"notes" json:"notes"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

type Report struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	OrderID       uuid.UUID              `db:"order_id" json:"order_id"`
	Findings      string                 `db:"findings" json:"findings"`
	Diagnosis     string                 `db:"diagnosis" json:"diagnosis"`
	ResultValues  map[string]interface{} `db:"result_values" json:"result_values"`
	Status        string                 `db:"status" json:"status"`
	PathologistID *uuid.UUID             `db:"pathologist_id" json:"pathologist_id,omitempty"`
	VerifiedAt    *time.Time             `db:"verified_at" json:"verified_at,omitempty"`
	AttachmentKey *string                `db:"attachment_key" json:"attachment_key,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// Editable reports whether the report content may still change without an
// amendment.
func (r *Report) Editable() bool {
	return r.Status == ReportDraft || r.Status == ReportPreliminary
}

type OrderFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	Priority  string
}

// AccessionNumber formats a lab accession number, e.g. PATH-20260302-000123.
func AccessionNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("PATH-%s-%06d", day.UTC().Format("20060102"), seq)
}
