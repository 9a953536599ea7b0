package radiology

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/notify"
)

var now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc        *Service
	orders     *mockOrderRepo
	studies    *mockStudyRepo
	reports    *mockReportRepo
	people     *mockPeople
	notifier   *mockNotifier
	summarizer *mockSummarizer
	store      *blobstore.MemoryStore

	patient, otherPatient, doctor, nurse uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		orders:     &mockOrderRepo{items: make(map[uuid.UUID]*Order)},
		studies:    &mockStudyRepo{items: make(map[uuid.UUID]*Study)},
		reports:    &mockReportRepo{items: make(map[uuid.UUID]*Report)},
		people:     &mockPeople{users: make(map[uuid.UUID]*notification.Recipient)},
		notifier:   &mockNotifier{},
		summarizer: &mockSummarizer{},
		store:      blobstore.NewMemoryStore(),
	}
	f.patient = f.people.add("Jane Roe", auth.RolePatient)
	f.otherPatient = f.people.add("John Doe", auth.RolePatient)
	f.doctor = f.people.add("Greg House", auth.RoleDoctor)
	f.nurse = f.people.add("Carla Espinosa", auth.RoleNurse)
	f.svc = NewService(f.orders, f.studies, f.reports, f.people, nil, zerolog.Nop())
	f.svc.SetNotifier(f.notifier)
	f.svc.SetSummarizer(f.summarizer)
	f.svc.SetStorage(f.store, blobstore.KeyBuilder{})
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) doctorCaller() Caller  { return Caller{ID: f.doctor, Role: auth.RoleDoctor} }
func (f *fixture) nurseCaller() Caller   { return Caller{ID: f.nurse, Role: auth.RoleNurse} }
func (f *fixture) patientCaller() Caller { return Caller{ID: f.patient, Role: auth.RolePatient} }

func (f *fixture) order(t *testing.T) *Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), OrderInput{
		PatientID: f.patient, Modality: "mg", BodyPart: "Left Breast", ClinicalIndication: "screening",
	}, f.doctorCaller())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// draft creates an order with a study and a draft report.
func (f *fixture) draft(t *testing.T) (*Order, *Study, *Report) {
	t.Helper()
	ctx := context.Background()
	o := f.order(t)
	st, err := f.svc.CreateStudy(ctx, o.ID, StudyInput{Description: "bilateral screening", SeriesCount: 4})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	rp, err := f.svc.CreateReport(ctx, o.ID, ReportInput{
		StudyID:  &st.ID,
		Findings: strPtr("Irregular spiculated mass upper outer quadrant"),
	}, f.doctorCaller())
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return o, st, rp
}

func strPtr(s string) *string { return &s }

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		kind, from, to string
		wantErr        error
	}{
		{"order", OrderOrdered, OrderScheduled, nil},
		{"order", OrderScheduled, OrderInProgress, nil},
		{"order", OrderInProgress, OrderCompleted, nil},
		{"order", OrderOrdered, OrderCompleted, ErrTransition},
		{"order", OrderCancelled, OrderOrdered, ErrTransition},
		{"order", OrderOrdered, "archived", ErrInvalid},
		{"report", ReportDraft, ReportFinal, nil},
		{"report", ReportAmended, ReportAmended, nil},
		{"report", ReportFinal, ReportPreliminary, ErrTransition},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.kind, tt.from, tt.to)
		if tt.wantErr == nil && err != nil {
			t.Errorf("%s %s->%s: unexpected error %v", tt.kind, tt.from, tt.to, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("%s %s->%s: expected %v, got %v", tt.kind, tt.from, tt.to, tt.wantErr, err)
		}
	}
}

func TestNewStudyUID(t *testing.T) {
	a, b := NewStudyUID(), NewStudyUID()
	if !strings.HasPrefix(a, "2.25.") || a == b {
		t.Errorf("unexpected uids %s %s", a, b)
	}
	if len(a) > 64 {
		t.Errorf("uid longer than 64 chars: %s", a)
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	o := f.order(t)
	if o.Modality != "MG" || o.BodyPart != "left breast" || o.DoctorID != f.doctor ||
		o.Priority != "routine" || o.Status != OrderOrdered {
		t.Errorf("unexpected order %+v", o)
	}

	at := now.Add(48 * time.Hour)
	o, err := f.svc.CreateOrder(context.Background(), OrderInput{
		PatientID: f.patient, DoctorID: f.doctor, Modality: "MRI", BodyPart: "knee", ScheduledAt: &at,
	}, f.nurseCaller())
	if err != nil {
		t.Fatal(err)
	}
	if o.Modality != "MR" || o.Status != OrderScheduled || !o.ScheduledAt.Equal(at) {
		t.Errorf("unexpected scheduled order %+v", o)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	past := now.Add(-time.Hour)
	tests := []struct {
		name   string
		in     OrderInput
		caller Caller
	}{
		{"unknown modality", OrderInput{PatientID: f.patient, Modality: "SPECT", BodyPart: "head"}, f.doctorCaller()},
		{"missing body part", OrderInput{PatientID: f.patient, Modality: "CT", BodyPart: " "}, f.doctorCaller()},
		{"nurse without doctor", OrderInput{PatientID: f.patient, Modality: "CT", BodyPart: "head"}, f.nurseCaller()},
		{"bad priority", OrderInput{PatientID: f.patient, Modality: "CT", BodyPart: "head", Priority: "later"}, f.doctorCaller()},
		{"patient is nurse", OrderInput{PatientID: f.nurse, Modality: "CT", BodyPart: "head"}, f.doctorCaller()},
		{"past schedule", OrderInput{PatientID: f.patient, Modality: "CT", BodyPart: "head", ScheduledAt: &past}, f.doctorCaller()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateOrder(ctx, tt.in, tt.caller); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestOrders_PatientScope(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)

	other := Caller{ID: f.otherPatient, Role: auth.RolePatient}
	if _, err := f.svc.GetOrder(ctx, o.ID, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, total, _ := f.svc.ListOrders(ctx, OrderFilter{PatientID: &f.patient}, other, 20, 0); total != 0 {
		t.Errorf("other patient should see nothing, got %d", total)
	}
	if _, total, _ := f.svc.ListOrders(ctx, OrderFilter{}, f.patientCaller(), 20, 0); total != 1 {
		t.Errorf("owner should see 1, got %d", total)
	}
	if _, total, _ := f.svc.ListOrders(ctx, OrderFilter{Modality: "ct"}, f.doctorCaller(), 20, 0); total != 0 {
		t.Errorf("modality filter should exclude MG, got %d", total)
	}
	if _, _, err := f.svc.ListOrders(ctx, OrderFilter{Status: "lost"}, f.doctorCaller(), 20, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown status, got %v", err)
	}
}

func TestScheduleAndTransitionOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)

	if _, err := f.svc.ScheduleOrder(ctx, o.ID, now.Add(-time.Minute)); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for past slot, got %v", err)
	}
	at := now.Add(24 * time.Hour)
	got, err := f.svc.ScheduleOrder(ctx, o.ID, at)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != OrderScheduled || !got.ScheduledAt.Equal(at) {
		t.Errorf("unexpected order %+v", got)
	}
	later := at.Add(2 * time.Hour)
	if got, err = f.svc.ScheduleOrder(ctx, o.ID, later); err != nil || !got.ScheduledAt.Equal(later) {
		t.Errorf("reschedule failed: %v %+v", err, got)
	}

	if _, err := f.svc.TransitionOrder(ctx, o.ID, OrderScheduled); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for status-only scheduling, got %v", err)
	}
	if _, err := f.svc.TransitionOrder(ctx, o.ID, OrderCompleted); !errors.Is(err, ErrTransition) {
		t.Errorf("expected ErrTransition, got %v", err)
	}
	if got, err = f.svc.CancelOrder(ctx, o.ID); err != nil || got.Status != OrderCancelled {
		t.Errorf("cancel failed: %v %+v", err, got)
	}
	if _, err := f.svc.ScheduleOrder(ctx, o.ID, at); !errors.Is(err, ErrTransition) {
		t.Errorf("expected ErrTransition on cancelled order, got %v", err)
	}
}

func TestUpdateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)

	got, err := f.svc.UpdateOrder(ctx, o.ID, OrderUpdate{Priority: strPtr("URGENT"), BodyPart: strPtr("Right Breast")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != "urgent" || got.BodyPart != "right breast" {
		t.Errorf("unexpected order %+v", got)
	}
	f.svc.CreateStudy(ctx, o.ID, StudyInput{})
	if _, err := f.svc.UpdateOrder(ctx, o.ID, OrderUpdate{Priority: strPtr("stat")}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid once imaging started, got %v", err)
	}
}

func TestCreateStudy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)

	st, err := f.svc.CreateStudy(ctx, o.ID, StudyInput{SeriesCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if st.Modality != "MG" || !strings.HasPrefix(st.StudyInstanceUID, "2.25.") || !st.StartedAt.Equal(now) {
		t.Errorf("unexpected study %+v", st)
	}
	if got, _ := f.orders.GetByID(ctx, o.ID); got.Status != OrderInProgress {
		t.Errorf("order status = %s, want in-progress", got.Status)
	}

	if _, err := f.svc.CreateStudy(ctx, o.ID, StudyInput{StudyInstanceUID: st.StudyInstanceUID}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate uid: expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.CreateStudy(ctx, o.ID, StudyInput{SeriesCount: -1}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	items, _ := f.svc.ListStudies(ctx, o.ID, f.patientCaller())
	if len(items) != 1 {
		t.Errorf("expected 1 study, got %d", len(items))
	}

	f.svc.CancelOrder(ctx, o.ID)
	if _, err := f.svc.CreateStudy(ctx, o.ID, StudyInput{}); !errors.Is(err, ErrOrderInactive) {
		t.Errorf("expected ErrOrderInactive, got %v", err)
	}
}

func TestUploadImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)
	st, _ := f.svc.CreateStudy(ctx, o.ID, StudyInput{})

	obj, err := f.svc.UploadImage(ctx, st.ID, "../view CC.dcm", "application/dicom", strings.NewReader("DICM"), 4)
	if err != nil {
		t.Fatal(err)
	}
	prefix := "patients/" + f.patient.String() + "/radiology/" + st.ID.String() + "/"
	if obj.Key != prefix+"view_CC.dcm" {
		t.Errorf("key = %s", obj.Key)
	}
	got, _ := f.studies.GetByID(ctx, st.ID)
	if got.InstanceCount != 1 || got.StorageKey == nil || *got.StorageKey != prefix {
		t.Errorf("unexpected study %+v", got)
	}

	images, err := f.svc.ListImages(ctx, st.ID, f.patientCaller())
	if err != nil || len(images) != 1 {
		t.Fatalf("expected 1 image, got %d (%v)", len(images), err)
	}
	url, err := f.svc.ImageURL(ctx, st.ID, obj.Key, f.patientCaller())
	if err != nil || !strings.HasPrefix(url, "memory://"+prefix) {
		t.Errorf("unexpected url %q (%v)", url, err)
	}
	if _, err := f.svc.ImageURL(ctx, st.ID, "patients/other/radiology/x/a.png", f.patientCaller()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for foreign key, got %v", err)
	}
	other := Caller{ID: f.otherPatient, Role: auth.RolePatient}
	if _, err := f.svc.ListImages(ctx, st.ID, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other patient, got %v", err)
	}

	if _, err := f.svc.UploadImage(ctx, st.ID, "x.exe", "application/x-msdownload", strings.NewReader("MZ"), 2); !errors.Is(err, blobstore.ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestUploadImage_NoStorage(t *testing.T) {
	f := newFixture()
	f.svc.store = nil
	if _, err := f.svc.UploadImage(context.Background(), uuid.New(), "a.png", "image/png", strings.NewReader("x"), 1); !errors.Is(err, ErrNoStorage) {
		t.Errorf("expected ErrNoStorage, got %v", err)
	}
}

func TestCreateReport_Rules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o, _, first := f.draft(t)

	if first.Status != ReportDraft || *first.RadiologistID != f.doctor {
		t.Errorf("unexpected report %+v", first)
	}
	// a second read of the same order is allowed
	second, err := f.svc.CreateReport(ctx, o.ID, ReportInput{Status: strPtr(ReportPreliminary)}, f.doctorCaller())
	if err != nil || second.Status != ReportPreliminary {
		t.Fatalf("second report: %v %+v", err, second)
	}
	if _, err := f.svc.CreateReport(ctx, o.ID, ReportInput{Status: strPtr(ReportFinal)}, f.doctorCaller()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for final on create, got %v", err)
	}

	otherOrder := f.order(t)
	otherStudy, _ := f.svc.CreateStudy(ctx, otherOrder.ID, StudyInput{})
	if _, err := f.svc.CreateReport(ctx, o.ID, ReportInput{StudyID: &otherStudy.ID}, f.doctorCaller()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for foreign study, got %v", err)
	}
	missing := uuid.New()
	if _, err := f.svc.CreateReport(ctx, o.ID, ReportInput{StudyID: &missing}, f.doctorCaller()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for missing study, got %v", err)
	}
}

func TestAssessRADS(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, rp := f.draft(t)

	got, res, err := f.svc.AssessRADS(ctx, rp.ID, "birads", map[string]float64{
		"mass_shape": 2, "mass_margin": 4, "calcifications": 2,
		"architectural_distortion": 1, "size_mm": 50, "breast_density": 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Category != "5" || *got.RADSSystem != BIRADS || *got.RADSCategory != "5" || *got.RADSScore != 100 {
		t.Errorf("unexpected assessment %+v / %+v", got, res)
	}
	stored, _ := f.reports.GetByID(ctx, rp.ID)
	if stored.RADSCategory == nil || *stored.RADSCategory != "5" {
		t.Error("assessment should be persisted")
	}

	if _, _, err := f.svc.AssessRADS(ctx, rp.ID, BIRADS, map[string]float64{"nodule_size_mm": 4}); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("expected ErrUnknownFeature, got %v", err)
	}

	f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller())
	if _, _, err := f.svc.AssessRADS(ctx, rp.ID, BIRADS, map[string]float64{"mass_shape": 1}); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable, got %v", err)
	}
}

func TestAnalyze_Simulated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, rp := f.draft(t)

	got, err := f.svc.Analyze(ctx, rp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AISummary == nil || !strings.Contains(*got.AISummary, "no RADS assessment recorded") {
		t.Errorf("unexpected summary %v", got.AISummary)
	}

	f.svc.AssessRADS(ctx, rp.ID, BIRADS, map[string]float64{"mass_shape": 2, "calcifications": 2})
	got, _ = f.svc.Analyze(ctx, rp.ID)
	want := "Simulated analysis of mammography left breast: BI-RADS 3 (Probably benign), score 40.0/100."
	if !strings.HasPrefix(*got.AISummary, want) {
		t.Errorf("summary = %q", *got.AISummary)
	}
	if len(f.summarizer.prompts) != 0 {
		t.Error("unconfigured summarizer must not be called")
	}
}

func TestAnalyze_Model(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, rp := f.draft(t)
	f.summarizer.configured = true
	f.summarizer.reply = "Suspicious mass; biopsy advised."

	got, err := f.svc.Analyze(ctx, rp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got.AISummary != "Suspicious mass; biopsy advised." {
		t.Errorf("summary = %q", *got.AISummary)
	}
	if len(f.summarizer.prompts) != 1 || !strings.Contains(f.summarizer.prompts[0], "Modality: MG") {
		t.Errorf("unexpected prompts %v", f.summarizer.prompts)
	}

	f.summarizer.err = errors.New("rate limited")
	got, err = f.svc.Analyze(ctx, rp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(*got.AISummary, "Simulated analysis") {
		t.Errorf("expected simulated fallback, got %q", *got.AISummary)
	}
}

func TestAnalyze_SignedOffReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, rp := f.draft(t)
	if _, err := f.svc.Analyze(ctx, rp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller()); err != nil {
		t.Fatal(err)
	}
	before, _ := f.reports.GetByID(ctx, rp.ID)
	summary := *before.AISummary

	f.summarizer.configured = true
	f.summarizer.reply = "rewritten"
	if _, err := f.svc.Analyze(ctx, rp.ID); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable, got %v", err)
	}
	after, _ := f.reports.GetByID(ctx, rp.ID)
	if after.AISummary == nil || *after.AISummary != summary {
		t.Errorf("summary changed on a final report: %v", after.AISummary)
	}
	if len(f.summarizer.prompts) != 0 {
		t.Error("model must not be called for a final report")
	}
}

func TestReportLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o, _, rp := f.draft(t)

	rp, err := f.svc.UpdateReport(ctx, rp.ID, ReportInput{
		Status:     strPtr(ReportPreliminary),
		Impression: strPtr(" Suspicious for malignancy "),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rp.Status != ReportPreliminary || rp.Impression != "Suspicious for malignancy" {
		t.Errorf("unexpected report %+v", rp)
	}
	if _, err := f.svc.UpdateReport(ctx, rp.ID, ReportInput{Status: strPtr(ReportFinal)}); !errors.Is(err, ErrInvalid) {
		t.Errorf("finalizing via update: expected ErrInvalid, got %v", err)
	}

	if _, err := f.svc.GetReport(ctx, rp.ID, f.patientCaller()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before release, got %v", err)
	}
	if items, _ := f.svc.ListReports(ctx, o.ID, f.patientCaller()); len(items) != 0 {
		t.Errorf("patient should not list unreleased reports, got %d", len(items))
	}

	rp, err = f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller())
	if err != nil {
		t.Fatal(err)
	}
	if rp.Status != ReportFinal || rp.VerifiedAt == nil || !rp.VerifiedAt.Equal(now) {
		t.Errorf("unexpected report %+v", rp)
	}
	if got, _ := f.orders.GetByID(ctx, o.ID); got.Status != OrderCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.sent))
	}
	sent := f.notifier.sent[0]
	if sent.Template != notify.TplRadiologyReportReady || sent.UserID != f.patient ||
		sent.Data["modality"] != "mammography" || sent.Data["body_part"] != "left breast" ||
		sent.Data["patient_name"] != "Jane Roe" || sent.RelatedType != "radiology_report" {
		t.Errorf("unexpected notification %+v", sent)
	}

	if _, err := f.svc.GetReport(ctx, rp.ID, f.patientCaller()); err != nil {
		t.Errorf("patient should see final report: %v", err)
	}
	if _, err := f.svc.UpdateReport(ctx, rp.ID, ReportInput{Findings: strPtr("x")}); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable, got %v", err)
	}
	if _, err := f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller()); !errors.Is(err, ErrTransition) {
		t.Errorf("double finalize: expected ErrTransition, got %v", err)
	}

	rp, err = f.svc.AmendReport(ctx, rp.ID, ReportInput{Impression: strPtr("Addendum: correlate with ultrasound")}, f.doctorCaller())
	if err != nil {
		t.Fatal(err)
	}
	if rp.Status != ReportAmended || rp.Impression != "Addendum: correlate with ultrasound" {
		t.Errorf("unexpected amended report %+v", rp)
	}
	if items, _ := f.svc.ListReports(ctx, o.ID, f.patientCaller()); len(items) != 1 {
		t.Errorf("patient should list the amended report, got %d", len(items))
	}
}

func TestFinalizeReport_RequiresContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)
	rp, _ := f.svc.CreateReport(ctx, o.ID, ReportInput{}, f.doctorCaller())

	if _, err := f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty report, got %v", err)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("no notification expected")
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)
	if err := f.svc.DeleteOrder(ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteOrder(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalizeReport_RequiresStudy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t)
	rp, err := f.svc.CreateReport(ctx, o.ID, ReportInput{Findings: strPtr("No acute findings")}, f.doctorCaller())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller()); !errors.Is(err, ErrTransition) {
		t.Errorf("expected ErrTransition, got %v", err)
	}
	if got, _ := f.orders.GetByID(ctx, o.ID); got.Status != OrderOrdered {
		t.Errorf("order status = %s, want ordered", got.Status)
	}
	if got, _ := f.reports.GetByID(ctx, rp.ID); got.Status != ReportDraft {
		t.Errorf("report status = %s, want draft", got.Status)
	}
}

func TestFinalizeReport_SecondReportKeepsOrderCompleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o, st, first := f.draft(t)
	second, err := f.svc.CreateReport(ctx, o.ID, ReportInput{StudyID: &st.ID, Impression: strPtr("Comparison read")}, f.doctorCaller())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.FinalizeReport(ctx, first.ID, f.doctorCaller()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.FinalizeReport(ctx, second.ID, f.doctorCaller()); err != nil {
		t.Fatalf("second report: %v", err)
	}
	if got, _ := f.orders.GetByID(ctx, o.ID); got.Status != OrderCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
}
