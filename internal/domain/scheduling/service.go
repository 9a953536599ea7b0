package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/notify"
)

// ReminderLead is how long before the start time the reminder goes out.
const ReminderLead = 24 * time.Hour

const relatedType = "appointment"

var (
	ErrInvalid    = errors.New("invalid appointment")
	ErrConflict   = errors.New("doctor already has an appointment in that slot")
	ErrForbidden  = errors.New("not allowed")
	ErrTransition = errors.New("invalid status transition")
)

// Notifier is implemented by *notification.Service.
type Notifier interface {
	SendAsync(ctx context.Context, req notification.SendRequest) error
	Schedule(ctx context.Context, sn *notification.Scheduled) error
	CancelScheduled(ctx context.Context, relatedType string, relatedID uuid.UUID) (int, error)
}

// TxFunc runs fn in one database transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo     AppointmentRepository
	people   notification.RecipientResolver
	notifier Notifier
	withTx   TxFunc
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(repo AppointmentRepository, people notification.RecipientResolver, notifier Notifier,
	withTx TxFunc, logger zerolog.Logger) *Service {
	if withTx == nil {
		withTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		repo:     repo,
		people:   people,
		notifier: notifier,
		withTx:   withTx,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduling").Logger(),
	}
}

// Caller identifies who is acting on an appointment.
type Caller struct {
	ID   uuid.UUID
	Role string
}

func (c Caller) isPatient() bool { return c.Role == auth.RolePatient }

type CreateInput struct {
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required"`
	AppointmentType string    `json:"appointment_type"`
	Reason          string    `json:"reason" validate:"max=2000"`
	Notes           string    `json:"notes" validate:"max=4000"`
}

func (s *Service) resolve(ctx context.Context, id uuid.UUID, role, label string) (*notification.Recipient, error) {
	r, err := s.people.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, notification.ErrRecipientNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalid, label)
		}
		return nil, err
	}
	if r.Role != role {
		return nil, fmt.Errorf("%w: %s must have the %s role", ErrInvalid, label, role)
	}
	if !r.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrInvalid, label)
	}
	return r, nil
}

func validWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalid)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalid)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in CreateInput, caller Caller) (*Appointment, error) {
	if caller.isPatient() {
		in.PatientID = caller.ID
	}
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalid)
	}
	if err := validWindow(in.StartTime, in.EndTime); err != nil {
		return nil, err
	}
	if in.StartTime.Before(s.now()) {
		return nil, fmt.Errorf("%w: start_time is in the past", ErrInvalid)
	}
	typ := strings.ToLower(strings.TrimSpace(in.AppointmentType))
	if typ == "" {
		typ = "consultation"
	}
	if !validTypes[typ] {
		return nil, fmt.Errorf("%w: unknown appointment_type %q", ErrInvalid, in.AppointmentType)
	}

	doctor, err := s.resolve(ctx, in.DoctorID, auth.RoleDoctor, "doctor")
	if err != nil {
		return nil, err
	}
	patient, err := s.resolve(ctx, in.PatientID, auth.RolePatient, "patient")
	if err != nil {
		return nil, err
	}

	createdBy := caller.ID
	a := &Appointment{
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		StartTime:       in.StartTime.UTC(),
		EndTime:         in.EndTime.UTC(),
		Status:          StatusScheduled,
		AppointmentType: typ,
		Reason:          strings.TrimSpace(in.Reason),
		Notes:           strings.TrimSpace(in.Notes),
		CreatedBy:       &createdBy,
	}
	err = s.withTx(ctx, func(ctx context.Context) error {
		busy, err := s.repo.HasOverlap(ctx, a.DoctorID, a.StartTime, a.EndTime, nil)
		if err != nil {
			return err
		}
		if busy {
			return ErrConflict
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", a.DoctorID.String()).
		Time("start", a.StartTime).Msg("appointment created")

	data := templateData(a, patient.Name, doctor.Name)
	s.notify(ctx, a, notify.TplAppointmentConfirmation, data)
	s.scheduleReminder(ctx, a, data)
	return a, nil
}

func templateData(a *Appointment, patientName, doctorName string) map[string]string {
	return map[string]string{
		"patient_name":     patientName,
		"doctor_name":      doctorName,
		"date":             a.StartTime.Format("2006-01-02"),
		"time":             a.StartTime.Format("15:04"),
		"appointment_type": a.AppointmentType,
	}
}

func (s *Service) names(ctx context.Context, a *Appointment) map[string]string {
	var patientName, doctorName string
	if r, err := s.people.Resolve(ctx, a.PatientID); err == nil {
		patientName = r.Name
	}
	if r, err := s.people.Resolve(ctx, a.DoctorID); err == nil {
		doctorName = r.Name
	}
	return templateData(a, patientName, doctorName)
}

// notify never fails the calling operation; delivery problems are logged.
func (s *Service) notify(ctx context.Context, a *Appointment, tpl string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	id := a.ID
	err := s.notifier.SendAsync(ctx, notification.SendRequest{
		UserID:      a.PatientID,
		Channel:     string(notify.ChannelEmail),
		Template:    tpl,
		Data:        data,
		Category:    notification.CategoryAppointment,
		RelatedType: relatedType,
		RelatedID:   &id,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Str("template", tpl).
			Msg("appointment notification failed")
	}
}

func (s *Service) scheduleReminder(ctx context.Context, a *Appointment, data map[string]string) {
	if s.notifier == nil {
		return
	}
	sendAt := a.StartTime.Add(-ReminderLead)
	if !sendAt.After(s.now()) {
		return
	}
	tpl := notify.TplAppointmentReminder
	id := a.ID
	rt := relatedType
	err := s.notifier.Schedule(ctx, &notification.Scheduled{
		UserID:       a.PatientID,
		Channel:      string(notify.ChannelEmail),
		TemplateName: &tpl,
		Data:         data,
		Category:     notification.CategoryAppointment,
		SendAt:       sendAt,
		RelatedType:  &rt,
		RelatedID:    &id,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder scheduling failed")
	}
}

func (s *Service) cancelReminders(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	n, err := s.notifier.CancelScheduled(ctx, relatedType, a.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder cancellation failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int("cancelled", n).Str("appointment_id", a.ID.String()).Msg("reminders cancelled")
	}
}

// Get returns the appointment. Patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller Caller) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.isPatient() && a.PatientID != caller.ID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, f Filter, caller Caller, limit, offset int) ([]*Appointment, int, error) {
	if caller.isPatient() {
		f.PatientID = &caller.ID
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, f.Status)
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, 0, fmt.Errorf("%w: to must be after from", ErrInvalid)
	}
	return s.repo.List(ctx, f, limit, offset)
}

type UpdateInput struct {
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	AppointmentType *string    `json:"appointment_type"`
	Reason          *string    `json:"reason" validate:"omitempty,max=2000"`
	Notes           *string    `json:"notes" validate:"omitempty,max=4000"`
}

// Update edits an appointment that has not started yet. Rescheduling checks
// the doctor's calendar again and moves the reminder.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, caller Caller) (*Appointment, error) {
	a, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalid, a.Status)
	}

	rescheduled := false
	if in.StartTime != nil && !in.StartTime.Equal(a.StartTime) {
		a.StartTime = in.StartTime.UTC()
		rescheduled = true
	}
	if in.EndTime != nil && !in.EndTime.Equal(a.EndTime) {
		a.EndTime = in.EndTime.UTC()
		rescheduled = true
	}
	if in.AppointmentType != nil {
		typ := strings.ToLower(strings.TrimSpace(*in.AppointmentType))
		if !validTypes[typ] {
			return nil, fmt.Errorf("%w: unknown appointment_type %q", ErrInvalid, *in.AppointmentType)
		}
		a.AppointmentType = typ
	}
	if in.Reason != nil {
		a.Reason = strings.TrimSpace(*in.Reason)
	}
	if in.Notes != nil {
		a.Notes = strings.TrimSpace(*in.Notes)
	}
	if err := validWindow(a.StartTime, a.EndTime); err != nil {
		return nil, err
	}
	if rescheduled && a.StartTime.Before(s.now()) {
		return nil, fmt.Errorf("%w: start_time is in the past", ErrInvalid)
	}

	err = s.withTx(ctx, func(ctx context.Context) error {
		if rescheduled {
			busy, err := s.repo.HasOverlap(ctx, a.DoctorID, a.StartTime, a.EndTime, &a.ID)
			if err != nil {
				return err
			}
			if busy {
				return ErrConflict
			}
		}
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	if rescheduled {
		s.cancelReminders(ctx, a)
		s.scheduleReminder(ctx, a, s.names(ctx, a))
		s.logger.Info().Str("appointment_id", a.ID.String()).Time("start", a.StartTime).Msg("appointment rescheduled")
	}
	return a, nil
}

// Transition moves the appointment to status. Patients may only cancel their
// own appointments.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status, reason string, caller Caller) (*Appointment, error) {
	a, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if caller.isPatient() && status != StatusCancelled {
		return nil, ErrForbidden
	}
	if !CanTransition(a.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, a.Status, status)
	}

	a.Status = status
	if status == StatusCancelled {
		r := strings.TrimSpace(reason)
		if r != "" {
			a.CancelReason = &r
		}
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("status", status).Msg("appointment status changed")

	switch status {
	case StatusCancelled:
		s.cancelReminders(ctx, a)
		data := s.names(ctx, a)
		data["reason"] = reason
		s.notify(ctx, a, notify.TplAppointmentCancelled, data)
	case StatusNoShow, StatusCompleted:
		s.cancelReminders(ctx, a)
	}
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, caller Caller) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, reason, caller)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cancelReminders(ctx, a)
	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	return nil
}
