package pathology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/notify"
)

var (
	ErrInvalid       = errors.New("invalid pathology data")
	ErrTransition    = errors.New("invalid status transition")
	ErrNoStorage     = errors.New("file storage is not configured")
	ErrNoAttachment  = errors.New("report has no attachment")
	ErrNotEditable   = errors.New("report is no longer editable")
	ErrOrderInactive = errors.New("order is completed or cancelled")
)

// Notifier is implemented by *notification.Service.
type Notifier interface {
	SendAsync(ctx context.Context, req notification.SendRequest) error
}

// TxFunc runs fn in one database transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Caller identifies who is acting.
type Caller struct {
	ID   uuid.UUID
	Role string
}

func (c Caller) isPatient() bool { return c.Role == auth.RolePatient }

type Service struct {
	orders    OrderRepository
	specimens SpecimenRepository
	reports   ReportRepository
	people    notification.RecipientResolver
	notifier  Notifier
	store     blobstore.Store
	keys      blobstore.KeyBuilder
	withTx    TxFunc
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(orders OrderRepository, specimens SpecimenRepository, reports ReportRepository,
	people notification.RecipientResolver, logger zerolog.Logger) *Service {
	return &Service{
		orders:    orders,
		specimens: specimens,
		reports:   reports,
		people:    people,
		withTx:    func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		now:       time.Now,
		logger:    logger.With().Str("component", "pathology").Logger(),
	}
}

// SetNotifier enables patient notifications on finalized reports.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetStorage enables report attachments.
func (s *Service) SetStorage(store blobstore.Store, keys blobstore.KeyBuilder) {
	s.store = store
	s.keys = keys
}

// SetTx makes multi-row updates atomic.
func (s *Service) SetTx(fn TxFunc) {
	if fn != nil {
		s.withTx = fn
	}
}

func (s *Service) requireRole(ctx context.Context, id uuid.UUID, role, label string) (*notification.Recipient, error) {
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
	return r, nil
}

// -- Orders --

type OrderInput struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	TestCode      string    `json:"test_code" validate:"required,max=32"`
	TestName      string    `json:"test_name" validate:"required,max=255"`
	Priority      string    `json:"priority"`
	ClinicalNotes string    `json:"clinical_notes" validate:"max=4000"`
}

func normalizePriority(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "routine", nil
	}
	if !validPriorities[p] {
		return "", fmt.Errorf("%w: priority must be routine, urgent or stat", ErrInvalid)
	}
	return p, nil
}

// CreateOrder places a lab order. A doctor placing the order is the ordering
// doctor unless doctor_id says otherwise.
func (s *Service) CreateOrder(ctx context.Context, in OrderInput, caller Caller) (*Order, error) {
	if in.DoctorID == uuid.Nil && caller.Role == auth.RoleDoctor {
		in.DoctorID = caller.ID
	}
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id and doctor_id are required", ErrInvalid)
	}
	code := strings.ToUpper(strings.TrimSpace(in.TestCode))
	name := strings.TrimSpace(in.TestName)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: test_code and test_name are required", ErrInvalid)
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, in.PatientID, auth.RolePatient, "patient"); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, in.DoctorID, auth.RoleDoctor, "doctor"); err != nil {
		return nil, err
	}

	o := &Order{
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		TestCode:      code,
		TestName:      name,
		Priority:      priority,
		ClinicalNotes: strings.TrimSpace(in.ClinicalNotes),
		Status:        OrderOrdered,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", o.ID.String()).Str("test_code", o.TestCode).Str("priority", o.Priority).
		Msg("pathology order created")
	return o, nil
}

// GetOrder returns the order. Patients only see their own.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID, caller Caller) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.isPatient() && o.PatientID != caller.ID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter, caller Caller, limit, offset int) ([]*Order, int, error) {
	if caller.isPatient() {
		f.PatientID = &caller.ID
	}
	if f.Status != "" {
		if _, ok := orderTransitions[f.Status]; !ok {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, f.Status)
		}
	}
	return s.orders.List(ctx, f, limit, offset)
}

type OrderUpdate struct {
	TestCode      *string `json:"test_code" validate:"omitempty,max=32"`
	TestName      *string `json:"test_name" validate:"omitempty,max=255"`
	Priority      *string `json:"priority"`
	ClinicalNotes *string `json:"clinical_notes" validate:"omitempty,max=4000"`
}

// UpdateOrder edits an order before any specimen has been collected.
func (s *Service) UpdateOrder(ctx context.Context, id uuid.UUID, in OrderUpdate) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OrderOrdered {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalid, o.Status)
	}
	if in.TestCode != nil {
		if o.TestCode = strings.ToUpper(strings.TrimSpace(*in.TestCode)); o.TestCode == "" {
			return nil, fmt.Errorf("%w: test_code must not be empty", ErrInvalid)
		}
	}
	if in.TestName != nil {
		if o.TestName = strings.TrimSpace(*in.TestName); o.TestName == "" {
			return nil, fmt.Errorf("%w: test_name must not be empty", ErrInvalid)
		}
	}
	if in.Priority != nil {
		if o.Priority, err = normalizePriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.ClinicalNotes != nil {
		o.ClinicalNotes = strings.TrimSpace(*in.ClinicalNotes)
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) TransitionOrder(ctx context.Context, id uuid.UUID, status string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition("order", o.Status, status); err != nil {
		return nil, err
	}
	from := o.Status
	o.Status = status
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", o.ID.String()).Str("from", from).Str("to", status).Msg("pathology order status changed")
	return o, nil
}

func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.TransitionOrder(ctx, id, OrderCancelled)
}

func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("order_id", id.String()).Msg("pathology order deleted")
	return nil
}

// advance moves the order forward when it is exactly at from.
func (s *Service) advance(ctx context.Context, o *Order, from, to string) error {
	if o.Status != from {
		return nil
	}
	o.Status = to
	return s.orders.Update(ctx, o)
}

func orderActive(o *Order) bool {
	return o.Status != OrderCompleted && o.Status != OrderCancelled
}

// -- Specimens --

type SpecimenInput struct {
	SpecimenType string     `json:"specimen_type" validate:"required,max=64"`
	CollectedAt  *time.Time `json:"collected_at"`
	Condition    string     `json:"condition"`
	Notes        string     `json:"notes" validate:"max=2000"`
}

func normalizeCondition(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "acceptable", nil
	}
	if !validConditions[c] {
		return "", fmt.Errorf("%w: unknown specimen condition %q", ErrInvalid, c)
	}
	return c, nil
}

// CollectSpecimen records a collected specimen with a fresh accession number
// and marks an ordered order as collected.
func (s *Service) CollectSpecimen(ctx context.Context, orderID uuid.UUID, in SpecimenInput, caller Caller) (*Specimen, error) {
	typ := strings.ToLower(strings.TrimSpace(in.SpecimenType))
	if typ == "" {
		return nil, fmt.Errorf("%w: specimen_type is required", ErrInvalid)
	}
	cond, err := normalizeCondition(in.Condition)
	if err != nil {
		return nil, err
	}
	collectedAt := s.now().UTC()
	if in.CollectedAt != nil {
		if in.CollectedAt.After(collectedAt) {
			return nil, fmt.Errorf("%w: collected_at is in the future", ErrInvalid)
		}
		collectedAt = in.CollectedAt.UTC()
	}
	collector := caller.ID

	var sp *Specimen
	err = s.withTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !orderActive(o) {
			return ErrOrderInactive
		}
		seq, err := s.specimens.NextAccessionSeq(ctx)
		if err != nil {
			return fmt.Errorf("accession number: %w", err)
		}
		sp = &Specimen{
			OrderID:         orderID,
			SpecimenType:    typ,
			AccessionNumber: AccessionNumber(s.now(), seq),
			CollectedAt:     &collectedAt,
			CollectedBy:     &collector,
			Condition:       cond,
			Status:          SpecimenAvailable,
			Notes:           strings.TrimSpace(in.Notes),
		}
		if err := s.specimens.Create(ctx, sp); err != nil {
			return err
		}
		return s.advance(ctx, o, OrderOrdered, OrderCollected)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", orderID.String()).Str("accession", sp.AccessionNumber).Msg("specimen collected")
	return sp, nil
}

type ReceiveInput struct {
	Condition string `json:"condition"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// ReceiveSpecimen records lab receipt. Unacceptable conditions mark the
// specimen unsatisfactory; otherwise a collected order becomes received.
func (s *Service) ReceiveSpecimen(ctx context.Context, id uuid.UUID, in ReceiveInput) (*Specimen, error) {
	cond, err := normalizeCondition(in.Condition)
	if err != nil {
		return nil, err
	}
	var sp *Specimen
	err = s.withTx(ctx, func(ctx context.Context) error {
		sp, err = s.specimens.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sp.ReceivedAt != nil {
			return fmt.Errorf("%w: specimen already received", ErrInvalid)
		}
		now := s.now().UTC()
		sp.ReceivedAt = &now
		sp.Condition = cond
		if in.Notes != "" {
			sp.Notes = strings.TrimSpace(in.Notes)
		}
		if cond != "acceptable" {
			sp.Status = SpecimenUnsatisfactory
		}
		if err := s.specimens.Update(ctx, sp); err != nil {
			return err
		}
		if sp.Status != SpecimenAvailable {
			return nil
		}
		o, err := s.orders.GetByID(ctx, sp.OrderID)
		if err != nil {
			return err
		}
		return s.advance(ctx, o, OrderCollected, OrderReceived)
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Service) GetSpecimen(ctx context.Context, id uuid.UUID) (*Specimen, error) {
	return s.specimens.GetByID(ctx, id)
}

func (s *Service) ListSpecimens(ctx context.Context, orderID uuid.UUID, caller Caller) ([]*Specimen, error) {
	if _, err := s.GetOrder(ctx, orderID, caller); err != nil {
		return nil, err
	}
	return s.specimens.ListByOrder(ctx, orderID)
}

// -- Reports --

type ReportInput struct {
	Findings     *string                `json:"findings" validate:"omitempty,max=20000"`
	Diagnosis    *string                `json:"diagnosis" validate:"omitempty,max=4000"`
	ResultValues map[string]interface{} `json:"result_values"`
	Status       *string                `json:"status"`
}

func (r *Report) apply(in ReportInput) {
	if in.Findings != nil {
		r.Findings = strings.TrimSpace(*in.Findings)
	}
	if in.Diagnosis != nil {
		r.Diagnosis = strings.TrimSpace(*in.Diagnosis)
	}
	if in.ResultValues != nil {
		r.ResultValues = in.ResultValues
	}
}

// CreateReport opens the single report of an order. A received order moves
// to in-progress.
func (s *Service) CreateReport(ctx context.Context, orderID uuid.UUID, in ReportInput, caller Caller) (*Report, error) {
	var rp *Report
	err := s.withTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !orderActive(o) {
			return ErrOrderInactive
		}
		if _, err := s.reports.GetByOrder(ctx, orderID); err == nil {
			return fmt.Errorf("%w: order already has a report", ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		pathologist := caller.ID
		rp = &Report{OrderID: orderID, Status: ReportDraft, PathologistID: &pathologist,
			ResultValues: map[string]interface{}{}}
		rp.apply(in)
		if in.Status != nil && *in.Status != ReportDraft {
			if *in.Status != ReportPreliminary {
				return fmt.Errorf("%w: a new report is draft or preliminary", ErrInvalid)
			}
			rp.Status = ReportPreliminary
		}
		if err := s.reports.Create(ctx, rp); err != nil {
			return err
		}
		return s.advance(ctx, o, OrderReceived, OrderInProgress)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Str("order_id", orderID.String()).Msg("pathology report created")
	return rp, nil
}

// reportFor loads a report and its order, applying patient scoping.
func (s *Service) reportFor(ctx context.Context, id uuid.UUID, caller Caller) (*Report, *Order, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.GetOrder(ctx, rp.OrderID, caller)
	if err != nil {
		return nil, nil, err
	}
	// patients only see released results
	if caller.isPatient() && rp.Status != ReportFinal && rp.Status != ReportAmended {
		return nil, nil, ErrNotFound
	}
	return rp, o, nil
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID, caller Caller) (*Report, error) {
	rp, _, err := s.reportFor(ctx, id, caller)
	return rp, err
}

func (s *Service) GetReportByOrder(ctx context.Context, orderID uuid.UUID, caller Caller) (*Report, error) {
	rp, err := s.reports.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.GetReport(ctx, rp.ID, caller)
}

// UpdateReport edits a draft or preliminary report. Status may move to
// preliminary; finalizing goes through FinalizeReport.
func (s *Service) UpdateReport(ctx context.Context, id uuid.UUID, in ReportInput) (*Report, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rp.Editable() {
		return nil, ErrNotEditable
	}
	if in.Status != nil && *in.Status != rp.Status {
		if *in.Status == ReportFinal {
			return nil, fmt.Errorf("%w: use finalize to sign off a report", ErrInvalid)
		}
		if err := ValidateTransition("report", rp.Status, *in.Status); err != nil {
			return nil, err
		}
		rp.Status = *in.Status
	}
	rp.apply(in)
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// FinalizeReport signs off the report, completes the order and tells the
// patient the results are ready. The order must already be in progress.
func (s *Service) FinalizeReport(ctx context.Context, id uuid.UUID, caller Caller) (*Report, error) {
	var (
		rp *Report
		o  *Order
	)
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		rp, err = s.reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition("report", rp.Status, ReportFinal); err != nil {
			return err
		}
		if strings.TrimSpace(rp.Findings) == "" && strings.TrimSpace(rp.Diagnosis) == "" && len(rp.ResultValues) == 0 {
			return fmt.Errorf("%w: report has no findings, diagnosis or results", ErrInvalid)
		}
		o, err = s.orders.GetByID(ctx, rp.OrderID)
		if err != nil {
			return err
		}
		if o.Status == OrderCancelled {
			return ErrOrderInactive
		}
		completes := o.Status != OrderCompleted
		if completes {
			if err := ValidateTransition("order", o.Status, OrderCompleted); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		rp.Status = ReportFinal
		rp.VerifiedAt = &now
		if rp.PathologistID == nil {
			signer := caller.ID
			rp.PathologistID = &signer
		}
		if err := s.reports.Update(ctx, rp); err != nil {
			return err
		}
		if !completes {
			return nil
		}
		o.Status = OrderCompleted
		return s.orders.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Str("order_id", o.ID.String()).Msg("pathology report finalized")
	s.notifyReady(ctx, rp, o)
	return rp, nil
}

func (s *Service) notifyReady(ctx context.Context, rp *Report, o *Order) {
	if s.notifier == nil {
		return
	}
	var name string
	if r, err := s.people.Resolve(ctx, o.PatientID); err == nil {
		name = r.Name
	}
	id := rp.ID
	err := s.notifier.SendAsync(ctx, notification.SendRequest{
		UserID:   o.PatientID,
		Channel:  string(notify.ChannelEmail),
		Template: notify.TplLabResultReady,
		Data: map[string]string{
			"patient_name": name,
			"test_name":    o.TestName,
		},
		Category:    notification.CategoryLabResult,
		RelatedType: "pathology_report",
		RelatedID:   &id,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("report_id", rp.ID.String()).Msg("lab result notification failed")
	}
}

// AmendReport corrects a signed-off report.
func (s *Service) AmendReport(ctx context.Context, id uuid.UUID, in ReportInput, caller Caller) (*Report, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition("report", rp.Status, ReportAmended); err != nil {
		return nil, err
	}
	rp.apply(in)
	now := s.now().UTC()
	signer := caller.ID
	rp.Status = ReportAmended
	rp.VerifiedAt = &now
	rp.PathologistID = &signer
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Msg("pathology report amended")
	return rp, nil
}

// -- Attachments --

// UploadAttachment stores the file under the patient's pathology prefix and
// replaces any previous attachment.
func (s *Service) UploadAttachment(ctx context.Context, id uuid.UUID, fileName, contentType string,
	body io.Reader, size int64) (*Report, *blobstore.Object, error) {
	if s.store == nil {
		return nil, nil, ErrNoStorage
	}
	if err := blobstore.ValidateUpload(contentType, size); err != nil {
		return nil, nil, err
	}
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.orders.GetByID(ctx, rp.OrderID)
	if err != nil {
		return nil, nil, err
	}
	key, err := s.keys.Key(o.PatientID.String(), blobstore.CategoryPathology, rp.ID.String(), fileName)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.store.Put(ctx, key, contentType, body, size)
	if err != nil {
		return nil, nil, err
	}
	previous := rp.AttachmentKey
	rp.AttachmentKey = &key
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, nil, err
	}
	if previous != nil && *previous != key {
		if err := s.store.Delete(ctx, *previous); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", *previous).Msg("old attachment not removed")
		}
	}
	return rp, obj, nil
}

func (s *Service) attachmentKey(ctx context.Context, id uuid.UUID, caller Caller) (string, error) {
	if s.store == nil {
		return "", ErrNoStorage
	}
	rp, _, err := s.reportFor(ctx, id, caller)
	if err != nil {
		return "", err
	}
	if rp.AttachmentKey == nil {
		return "", ErrNoAttachment
	}
	return *rp.AttachmentKey, nil
}

// AttachmentURL returns a short-lived download link.
func (s *Service) AttachmentURL(ctx context.Context, id uuid.UUID, caller Caller) (string, error) {
	key, err := s.attachmentKey(ctx, id, caller)
	if err != nil {
		return "", err
	}
	return s.store.PresignGet(ctx, key, blobstore.PresignTTL)
}

// OpenAttachment streams the attachment. The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, id uuid.UUID, caller Caller) (io.ReadCloser, *blobstore.Object, error) {
	key, err := s.attachmentKey(ctx, id, caller)
	if err != nil {
		return nil, nil, err
	}
	return s.store.Get(ctx, key)
}
