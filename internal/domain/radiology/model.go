package radiology

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	OrderOrdered    = "ordered"
	OrderScheduled  = "scheduled"
	OrderInProgress = "in-progress"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"

	ReportDraft       = "draft"
	ReportPreliminary = "preliminary"
	ReportFinal       = "final"
	ReportAmended     = "amended"
)

var validModalities = map[string]string{
	"CT": "CT", "MR": "MRI", "US": "ultrasound", "XR": "X-ray",
	"MG": "mammography", "NM": "nuclear medicine", "PT": "PET",
}

var validPriorities = map[string]bool{"routine": true, "urgent": true, "stat": true}

var orderTransitions = map[string][]string{
	OrderOrdered:    {OrderScheduled, OrderInProgress, OrderCancelled},
	OrderScheduled:  {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {},
	OrderCancelled:  {},
}

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
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Modality           string     `db:"modality" json:"modality"`
	BodyPart           string     `db:"body_part" json:"body_part"`
	Priority           string     `db:"priority" json:"priority"`
	ClinicalIndication string     `db:"clinical_indication" json:"clinical_indication"`
	Status             string     `db:"status" json:"status"`
	ScheduledAt        *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

func (o *Order) active() bool {
	return o.Status != OrderCompleted && o.Status != OrderCancelled
}

type Study struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	OrderID          uuid.UUID  `db:"order_id" json:"order_id"`
	StudyInstanceUID string     `db:"study_instance_uid" json:"study_instance_uid"`
	Modality         string     `db:"modality" json:"modality"`
	Description      string     `db:"description" json:"description"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	SeriesCount      int        `db:"series_count" json:"series_count"`
	InstanceCount    int        `db:"instance_count" json:"instance_count"`
	StorageKey       *string    `db:"storage_key" json:"storage_key,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type Report struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	OrderID       uuid.UUID  `db:"order_id" json:"order_id"`
	StudyID       *uuid.UUID `db:"study_id" json:"study_id,omitempty"`
	Findings      string     `db:"findings" json:"findings"`
	Impression    string     `db:"impression" json:"impression"`
	RADSSystem    *string    `db:"rads_system" json:"rads_system,omitempty"`
	RADSCategory  *string    `db:"rads_category" json:"rads_category,omitempty"`
	RADSScore     *float64   `db:"rads_score" json:"rads_score,omitempty"`
	AISummary     *string    `db:"ai_summary" json:"ai_summary,omitempty"`
	Status        string     `db:"status" json:"status"`
	RadiologistID *uuid.UUID `db:"radiologist_id" json:"radiologist_id,omitempty"`
	VerifiedAt    *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *Report) Editable() bool {
	return r.Status == ReportDraft || r.Status == ReportPreliminary
}

type OrderFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	Modality  string
}

// NewStudyUID derives a DICOM UID under the 2.25 root from a random UUID.
func NewStudyUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
