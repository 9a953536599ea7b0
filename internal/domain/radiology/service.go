package radiology

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
	ErrInvalid       = errors.New("invalid radiology data")
	ErrTransition    = errors.New("invalid status transition")
	ErrNotEditable   = errors.New("report is no longer editable")
	ErrOrderInactive = errors.New("order is completed or cancelled")
	ErrNoStorage     = errors.New("image storage is not configured")
)

// Notifier is implemented by *notification.Service.
type Notifier interface {
	SendAsync(ctx context.Context, req notification.SendRequest) error
}

// Summarizer is implemented by *openai.Client.
type Summarizer interface {
	Configured() bool
	Complete(ctx context.Context, system, user string) (string, error)
}

// TxFunc runs fn in one database transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Caller struct {
	ID   uuid.UUID
	Role string
}

func (c Caller) isPatient() bool { return c.Role == auth.RolePatient }

type Service struct {
	orders     OrderRepository
	studies    StudyRepository
	reports    ReportRepository
	people     notification.RecipientResolver
	calc       *Calculator
	notifier   Notifier
	summarizer Summarizer
	store      blobstore.Store
	keys       blobstore.KeyBuilder
	withTx     TxFunc
	now        func() time.Time
	logger     zerolog.Logger
}

func NewService(orders OrderRepository, studies StudyRepository, reports ReportRepository,
	people notification.RecipientResolver, calc *Calculator, logger zerolog.Logger) *Service {
	if calc == nil {
		calc = NewCalculator(0, nil)
	}
	return &Service{
		orders:  orders,
		studies: studies,
		reports: reports,
		people:  people,
		calc:    calc,
		withTx:  func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		now:     time.Now,
		logger:  logger.With().Str("component", "radiology").Logger(),
	}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetSummarizer enables model-written report summaries.
func (s *Service) SetSummarizer(sum Summarizer) { s.summarizer = sum }

func (s *Service) SetStorage(store blobstore.Store, keys blobstore.KeyBuilder) {
	s.store = store
	s.keys = keys
}

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
	PatientID          uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	Modality           string     `json:"modality" validate:"required"`
	BodyPart           string     `json:"body_part" validate:"required,max=64"`
	Priority           string     `json:"priority"`
	ClinicalIndication string     `json:"clinical_indication" validate:"max=4000"`
	ScheduledAt        *time.Time `json:"scheduled_at"`
}

func normalizeModality(m string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "MRI" {
		m = "MR"
	}
	if _, ok := validModalities[m]; !ok {
		return "", fmt.Errorf("%w: modality must be one of CT, MR, US, XR, MG, NM, PT", ErrInvalid)
	}
	return m, nil
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

func (s *Service) CreateOrder(ctx context.Context, in OrderInput, caller Caller) (*Order, error) {
	if in.DoctorID == uuid.Nil && caller.Role == auth.RoleDoctor {
		in.DoctorID = caller.ID
	}
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id and doctor_id are required", ErrInvalid)
	}
	modality, err := normalizeModality(in.Modality)
	if err != nil {
		return nil, err
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	bodyPart := strings.ToLower(strings.TrimSpace(in.BodyPart))
	if bodyPart == "" {
		return nil, fmt.Errorf("%w: body_part is required", ErrInvalid)
	}
	if _, err := s.requireRole(ctx, in.PatientID, auth.RolePatient, "patient"); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, in.DoctorID, auth.RoleDoctor, "doctor"); err != nil {
		return nil, err
	}

	o := &Order{
		PatientID:          in.PatientID,
		DoctorID:           in.DoctorID,
		Modality:           modality,
		BodyPart:           bodyPart,
		Priority:           priority,
		ClinicalIndication: strings.TrimSpace(in.ClinicalIndication),
		Status:             OrderOrdered,
	}
	if in.ScheduledAt != nil {
		if !in.ScheduledAt.After(s.now()) {
			return nil, fmt.Errorf("%w: scheduled_at must be in the future", ErrInvalid)
		}
		at := in.ScheduledAt.UTC()
		o.ScheduledAt = &at
		o.Status = OrderScheduled
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", o.ID.String()).Str("modality", o.Modality).Str("priority", o.Priority).
		Msg("radiology order created")
	return o, nil
}

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
	if f.Modality != "" {
		m, err := normalizeModality(f.Modality)
		if err != nil {
			return nil, 0, err
		}
		f.Modality = m
	}
	return s.orders.List(ctx, f, limit, offset)
}

type OrderUpdate struct {
	BodyPart           *string `json:"body_part" validate:"omitempty,max=64"`
	Priority           *string `json:"priority"`
	ClinicalIndication *string `json:"clinical_indication" validate:"omitempty,max=4000"`
}

// UpdateOrder edits an order before imaging starts.
func (s *Service) UpdateOrder(ctx context.Context, id uuid.UUID, in OrderUpdate) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OrderOrdered && o.Status != OrderScheduled {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalid, o.Status)
	}
	if in.BodyPart != nil {
		if o.BodyPart = strings.ToLower(strings.TrimSpace(*in.BodyPart)); o.BodyPart == "" {
			return nil, fmt.Errorf("%w: body_part must not be empty", ErrInvalid)
		}
	}
	if in.Priority != nil {
		if o.Priority, err = normalizePriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.ClinicalIndication != nil {
		o.ClinicalIndication = strings.TrimSpace(*in.ClinicalIndication)
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ScheduleOrder books the imaging slot. Rescheduling a scheduled order is
// allowed.
func (s *Service) ScheduleOrder(ctx context.Context, id uuid.UUID, at time.Time) (*Order, error) {
	if !at.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled_at must be in the future", ErrInvalid)
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OrderScheduled {
		if err := ValidateTransition("order", o.Status, OrderScheduled); err != nil {
			return nil, err
		}
	}
	at = at.UTC()
	o.ScheduledAt = &at
	o.Status = OrderScheduled
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
	if status == OrderScheduled {
		return nil, fmt.Errorf("%w: use the schedule endpoint to set a time", ErrInvalid)
	}
	if err := ValidateTransition("order", o.Status, status); err != nil {
		return nil, err
	}
	from := o.Status
	o.Status = status
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", o.ID.String()).Str("from", from).Str("to", status).Msg("radiology order status changed")
	return o, nil
}

func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.TransitionOrder(ctx, id, OrderCancelled)
}

func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("order_id", id.String()).Msg("radiology order deleted")
	return nil
}

// -- Studies --

type StudyInput struct {
	StudyInstanceUID string     `json:"study_instance_uid" validate:"omitempty,max=64"`
	Description      string     `json:"description" validate:"max=2000"`
	StartedAt        *time.Time `json:"started_at"`
	SeriesCount      int        `json:"series_count" validate:"min=0"`
}

// CreateStudy registers an acquisition for the order and starts the order.
func (s *Service) CreateStudy(ctx context.Context, orderID uuid.UUID, in StudyInput) (*Study, error) {
	if in.SeriesCount < 0 {
		return nil, fmt.Errorf("%w: series_count must not be negative", ErrInvalid)
	}
	uid := strings.TrimSpace(in.StudyInstanceUID)
	if uid == "" {
		uid = NewStudyUID()
	}
	started := s.now().UTC()
	if in.StartedAt != nil {
		started = in.StartedAt.UTC()
	}

	var st *Study
	err := s.withTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.active() {
			return ErrOrderInactive
		}
		st = &Study{
			OrderID:          orderID,
			StudyInstanceUID: uid,
			Modality:         o.Modality,
			Description:      strings.TrimSpace(in.Description),
			StartedAt:        &started,
			SeriesCount:      in.SeriesCount,
		}
		if err := s.studies.Create(ctx, st); err != nil {
			return err
		}
		if o.Status != OrderInProgress {
			o.Status = OrderInProgress
			return s.orders.Update(ctx, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("study_id", st.ID.String()).Str("uid", st.StudyInstanceUID).Msg("imaging study created")
	return st, nil
}

// studyFor loads a study with patient scoping through its order.
func (s *Service) studyFor(ctx context.Context, id uuid.UUID, caller Caller) (*Study, *Order, error) {
	st, err := s.studies.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.GetOrder(ctx, st.OrderID, caller)
	if err != nil {
		return nil, nil, err
	}
	return st, o, nil
}

func (s *Service) GetStudy(ctx context.Context, id uuid.UUID, caller Caller) (*Study, error) {
	st, _, err := s.studyFor(ctx, id, caller)
	return st, err
}

func (s *Service) ListStudies(ctx context.Context, orderID uuid.UUID, caller Caller) ([]*Study, error) {
	if _, err := s.GetOrder(ctx, orderID, caller); err != nil {
		return nil, err
	}
	return s.studies.ListByOrder(ctx, orderID)
}

// UploadImage stores one image under the study's prefix.
func (s *Service) UploadImage(ctx context.Context, studyID uuid.UUID, fileName, contentType string,
	body io.Reader, size int64) (*blobstore.Object, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	if err := blobstore.ValidateUpload(contentType, size); err != nil {
		return nil, err
	}
	st, err := s.studies.GetByID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, st.OrderID)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.Key(o.PatientID.String(), blobstore.CategoryRadiology, st.ID.String(), fileName)
	if err != nil {
		return nil, err
	}
	obj, err := s.store.Put(ctx, key, contentType, body, size)
	if err != nil {
		return nil, err
	}
	prefix := s.keys.RecordPrefix(o.PatientID.String(), blobstore.CategoryRadiology, st.ID.String())
	st.StorageKey = &prefix
	st.InstanceCount++
	if err := s.studies.Update(ctx, st); err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *Service) ListImages(ctx context.Context, studyID uuid.UUID, caller Caller) ([]blobstore.Object, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	st, o, err := s.studyFor(ctx, studyID, caller)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, s.keys.RecordPrefix(o.PatientID.String(), blobstore.CategoryRadiology, st.ID.String()))
}

// ImageURL presigns a download link for a key under the study's prefix.
func (s *Service) ImageURL(ctx context.Context, studyID uuid.UUID, key string, caller Caller) (string, error) {
	if s.store == nil {
		return "", ErrNoStorage
	}
	st, o, err := s.studyFor(ctx, studyID, caller)
	if err != nil {
		return "", err
	}
	prefix := s.keys.RecordPrefix(o.PatientID.String(), blobstore.CategoryRadiology, st.ID.String())
	if !strings.HasPrefix(key, prefix) || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: key must be under %s", ErrInvalid, prefix)
	}
	return s.store.PresignGet(ctx, key, blobstore.PresignTTL)
}

// -- Reports --

type ReportInput struct {
	StudyID    *uuid.UUID `json:"study_id"`
	Findings   *string    `json:"findings" validate:"omitempty,max=20000"`
	Impression *string    `json:"impression" validate:"omitempty,max=4000"`
	Status     *string    `json:"status"`
}

func (r *Report) apply(in ReportInput) {
	if in.Findings != nil {
		r.Findings = strings.TrimSpace(*in.Findings)
	}
	if in.Impression != nil {
		r.Impression = strings.TrimSpace(*in.Impression)
	}
}

func (s *Service) checkStudy(ctx context.Context, studyID *uuid.UUID, orderID uuid.UUID) error {
	if studyID == nil {
		return nil
	}
	st, err := s.studies.GetByID(ctx, *studyID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: study not found", ErrInvalid)
	}
	if err != nil {
		return err
	}
	if st.OrderID != orderID {
		return fmt.Errorf("%w: study belongs to another order", ErrInvalid)
	}
	return nil
}

func (s *Service) CreateReport(ctx context.Context, orderID uuid.UUID, in ReportInput, caller Caller) (*Report, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.active() {
		return nil, ErrOrderInactive
	}
	if err := s.checkStudy(ctx, in.StudyID, orderID); err != nil {
		return nil, err
	}
	radiologist := caller.ID
	rp := &Report{OrderID: orderID, StudyID: in.StudyID, Status: ReportDraft, RadiologistID: &radiologist}
	rp.apply(in)
	if in.Status != nil && *in.Status != ReportDraft {
		if *in.Status != ReportPreliminary {
			return nil, fmt.Errorf("%w: a new report is draft or preliminary", ErrInvalid)
		}
		rp.Status = ReportPreliminary
	}
	if err := s.reports.Create(ctx, rp); err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Str("order_id", orderID.String()).Msg("radiology report created")
	return rp, nil
}

func (s *Service) reportFor(ctx context.Context, id uuid.UUID, caller Caller) (*Report, *Order, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.GetOrder(ctx, rp.OrderID, caller)
	if err != nil {
		return nil, nil, err
	}
	if caller.isPatient() && rp.Status != ReportFinal && rp.Status != ReportAmended {
		return nil, nil, ErrNotFound
	}
	return rp, o, nil
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID, caller Caller) (*Report, error) {
	rp, _, err := s.reportFor(ctx, id, caller)
	return rp, err
}

// ListReports returns the order's reports. Patients only get released ones.
func (s *Service) ListReports(ctx context.Context, orderID uuid.UUID, caller Caller) ([]*Report, error) {
	if _, err := s.GetOrder(ctx, orderID, caller); err != nil {
		return nil, err
	}
	items, err := s.reports.ListByOrder(ctx, orderID)
	if err != nil || !caller.isPatient() {
		return items, err
	}
	released := items[:0]
	for _, rp := range items {
		if rp.Status == ReportFinal || rp.Status == ReportAmended {
			released = append(released, rp)
		}
	}
	return released, nil
}

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
	if in.StudyID != nil {
		if err := s.checkStudy(ctx, in.StudyID, rp.OrderID); err != nil {
			return nil, err
		}
		rp.StudyID = in.StudyID
	}
	rp.apply(in)
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// Calculate scores features without touching any report.
func (s *Service) Calculate(system string, features map[string]float64) (*RADSResult, error) {
	return s.calc.Calculate(system, features)
}

// AssessRADS scores the features and records the result on the report.
func (s *Service) AssessRADS(ctx context.Context, id uuid.UUID, system string, features map[string]float64) (*Report, *RADSResult, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !rp.Editable() {
		return nil, nil, ErrNotEditable
	}
	res, err := s.calc.Calculate(system, features)
	if err != nil {
		return nil, nil, err
	}
	score := res.Score
	rp.RADSSystem = &res.System
	rp.RADSCategory = &res.Category
	rp.RADSScore = &score
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Str("system", res.System).Str("category", res.Category).
		Float64("score", res.Score).Msg("RADS assessed")
	return rp, res, nil
}

const summaryPrompt = "You are a radiology assistant. Summarize the report for the referring physician in " +
	"three sentences or fewer. Do not invent findings."

// Analyze writes an AI summary for the report. Without a configured model,
// or when the model call fails, a summary is derived from the RADS result.
// Signed-off reports keep their summary.
func (s *Service) Analyze(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rp.Editable() {
		return nil, ErrNotEditable
	}
	o, err := s.orders.GetByID(ctx, rp.OrderID)
	if err != nil {
		return nil, err
	}

	var summary string
	if s.summarizer != nil && s.summarizer.Configured() {
		summary, err = s.summarizer.Complete(ctx, summaryPrompt, reportPrompt(rp, o))
		if err != nil {
			s.logger.Warn().Err(err).Str("report_id", rp.ID.String()).Msg("model summary failed, using simulated summary")
			summary = ""
		}
	}
	if summary == "" {
		summary = SimulatedSummary(rp, o)
	}
	rp.AISummary = &summary
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

func reportPrompt(rp *Report, o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Modality: %s\nBody part: %s\n", o.Modality, o.BodyPart)
	if o.ClinicalIndication != "" {
		fmt.Fprintf(&b, "Indication: %s\n", o.ClinicalIndication)
	}
	fmt.Fprintf(&b, "Findings: %s\nImpression: %s\n", rp.Findings, rp.Impression)
	if rp.RADSSystem != nil && rp.RADSCategory != nil {
		fmt.Fprintf(&b, "%s category: %s\n", *rp.RADSSystem, *rp.RADSCategory)
	}
	return b.String()
}

// SimulatedSummary builds a deterministic summary from the recorded RADS
// assessment and impression.
func SimulatedSummary(rp *Report, o *Order) string {
	subject := fmt.Sprintf("%s %s", validModalities[o.Modality], o.BodyPart)
	if rp.RADSSystem == nil || rp.RADSCategory == nil || rp.RADSScore == nil {
		if rp.Impression != "" {
			return fmt.Sprintf("Simulated analysis of %s: %s No RADS assessment recorded.", subject, ensurePeriod(rp.Impression))
		}
		return fmt.Sprintf("Simulated analysis of %s: no RADS assessment recorded.", subject)
	}
	label, rec := "", ""
	if sys, ok := radsSystems[*rp.RADSSystem]; ok {
		cat := sys.category(*rp.RADSScore)
		label, rec = cat.label, cat.recommendation
	}
	return fmt.Sprintf("Simulated analysis of %s: %s %s (%s), score %.1f/100. Recommendation: %s.",
		subject, *rp.RADSSystem, *rp.RADSCategory, label, *rp.RADSScore, rec)
}

func ensurePeriod(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}

// FinalizeReport signs off the report, completes the order and notifies the
// patient. The order must have a study in progress.
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
		if strings.TrimSpace(rp.Findings) == "" && strings.TrimSpace(rp.Impression) == "" {
			return fmt.Errorf("%w: findings or impression is required", ErrInvalid)
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
		if rp.RadiologistID == nil {
			signer := caller.ID
			rp.RadiologistID = &signer
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
	s.logger.Info().Str("report_id", rp.ID.String()).Str("order_id", o.ID.String()).Msg("radiology report finalized")
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
		Template: notify.TplRadiologyReportReady,
		Data: map[string]string{
			"patient_name": name,
			"modality":     validModalities[o.Modality],
			"body_part":    o.BodyPart,
		},
		Category:    notification.CategoryLabResult,
		RelatedType: "radiology_report",
		RelatedID:   &id,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("report_id", rp.ID.String()).Msg("radiology report notification failed")
	}
}

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
	rp.RadiologistID = &signer
	if err := s.reports.Update(ctx, rp); err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rp.ID.String()).Msg("radiology report amended")
	return rp, nil
}
