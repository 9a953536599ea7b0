package radiology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/validation"
)

type permSet map[string]bool

func (p permSet) HasPermission(_ context.Context, _, role, perm string) (bool, error) {
	if role == auth.RoleSuperAdmin {
		return true, nil
	}
	return p[perm], nil
}

func newTestHandler(perms permSet) (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(f.svc, perms), f, e
}

func asUser(c echo.Context, id uuid.UUID, role string) {
	c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), id.String(), role)))
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func multipartRequest(t *testing.T, fileName, contentType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func withID(c echo.Context, id uuid.UUID) {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
}

func TestHandler_CreateOrder(t *testing.T) {
	h, f, e := newTestHandler(nil)
	body := fmt.Sprintf(`{"patient_id":%q,"modality":"ct","body_part":"Chest","priority":"stat"}`, f.patient)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	asUser(c, f.doctor, auth.RoleDoctor)

	if err := h.CreateOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var o Order
	json.Unmarshal(rec.Body.Bytes(), &o)
	if o.Modality != "CT" || o.BodyPart != "chest" || o.Priority != "stat" || o.DoctorID != f.doctor {
		t.Errorf("unexpected order %+v", o)
	}
}

func TestHandler_CreateOrder_BadModality(t *testing.T) {
	h, f, e := newTestHandler(nil)
	body := fmt.Sprintf(`{"patient_id":%q,"modality":"ECG","body_part":"heart"}`, f.patient)
	c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	asUser(c, f.doctor, auth.RoleDoctor)

	err := h.CreateOrder(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ScheduleOrder(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o := f.order(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"scheduled_at":"2026-03-05T14:00:00Z"}`), rec)
	withID(c, o.ID)
	asUser(c, f.nurse, auth.RoleNurse)

	if err := h.ScheduleOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Order
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != OrderScheduled || got.ScheduledAt == nil {
		t.Errorf("unexpected order %+v", got)
	}
}

func TestHandler_CalculateRADS(t *testing.T) {
	h, _, e := newTestHandler(nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost,
		`{"system":"lung-rads","features":{"nodule_size_mm":30,"growth":1,"spiculation":1}}`), rec)

	if err := h.CalculateRADS(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res RADSResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.System != LungRADS || res.Category != "4B" || res.Score != 75 {
		t.Errorf("unexpected result %+v", res)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, `{"system":"C-RADS","features":{"x":1}}`), httptest.NewRecorder())
	err := h.CalculateRADS(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_AssessAndAnalyze(t *testing.T) {
	h, f, e := newTestHandler(nil)
	_, _, rp := f.draft(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"system":"BI-RADS","features":{"mass_margin":2}}`), rec)
	withID(c, rp.ID)
	asUser(c, f.doctor, auth.RoleDoctor)
	if err := h.AssessRADS(c); err != nil {
		t.Fatalf("assess: %v", err)
	}
	var assessed struct {
		Report Report     `json:"report"`
		Result RADSResult `json:"result"`
	}
	json.Unmarshal(rec.Body.Bytes(), &assessed)
	if assessed.Result.Category != "2" || assessed.Report.RADSCategory == nil || *assessed.Report.RADSCategory != "2" {
		t.Errorf("unexpected assessment %+v", assessed)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	withID(c, rp.ID)
	asUser(c, f.doctor, auth.RoleDoctor)
	if err := h.Analyze(c); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var got Report
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.AISummary == nil || !strings.Contains(*got.AISummary, "BI-RADS 2") {
		t.Errorf("unexpected summary %v", got.AISummary)
	}
}

func TestHandler_FinalizeReport(t *testing.T) {
	h, f, e := newTestHandler(nil)
	_, _, rp := f.draft(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	withID(c, rp.ID)
	asUser(c, f.doctor, auth.RoleDoctor)
	if err := h.FinalizeReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Report
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != ReportFinal {
		t.Errorf("status = %s", got.Status)
	}

	c = e.NewContext(jsonRequest(http.MethodPut, `{"findings":"late edit"}`), httptest.NewRecorder())
	withID(c, rp.ID)
	asUser(c, f.doctor, auth.RoleDoctor)
	err := h.UpdateReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_UploadAndListImages(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o := f.order(t)
	st, _ := f.svc.CreateStudy(context.Background(), o.ID, StudyInput{})

	rec := httptest.NewRecorder()
	c := e.NewContext(multipartRequest(t, "cc.dcm", "application/dicom", "DICMDATA"), rec)
	withID(c, st.ID)
	asUser(c, f.nurse, auth.RoleNurse)
	if err := h.UploadImage(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var obj blobstore.Object
	json.Unmarshal(rec.Body.Bytes(), &obj)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	withID(c, st.ID)
	asUser(c, f.patient, auth.RolePatient)
	if err := h.ListImages(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Items []blobstore.Object `json:"items"`
		Total int                `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if listed.Total != 1 || listed.Items[0].Key != obj.Key {
		t.Errorf("unexpected listing %+v", listed)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?key="+obj.Key, nil), rec)
	withID(c, st.ID)
	asUser(c, f.patient, auth.RolePatient)
	if err := h.ImageURL(c); err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "memory://") {
		t.Errorf("unexpected url response %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	withID(c, st.ID)
	asUser(c, f.patient, auth.RolePatient)
	err := h.ImageURL(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("missing key: expected 400, got %v", err)
	}
}

func TestRoutes_Gates(t *testing.T) {
	h, f, e := newTestHandler(permSet{auth.PermManageRadiology: false})
	h.RegisterRoutes(e.Group("/api/v1"))
	o := f.order(t)

	serve := func(method, path string, id uuid.UUID, role string) int {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(auth.WithUser(req.Context(), id.String(), role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(http.MethodGet, "/api/v1/radiology/orders", f.patient, auth.RolePatient); code != http.StatusOK {
		t.Errorf("patient list: expected 200, got %d", code)
	}
	if code := serve(http.MethodGet, "/api/v1/radiology/rads/systems", f.patient, auth.RolePatient); code != http.StatusForbidden {
		t.Errorf("patient rads: expected 403, got %d", code)
	}
	if code := serve(http.MethodGet, "/api/v1/radiology/rads/systems", f.nurse, auth.RoleNurse); code != http.StatusOK {
		t.Errorf("nurse rads: expected 200, got %d", code)
	}
	if code := serve(http.MethodPost, "/api/v1/radiology/orders/"+o.ID.String()+"/reports", f.nurse, auth.RoleNurse); code != http.StatusForbidden {
		t.Errorf("nurse report: expected 403, got %d", code)
	}
	if code := serve(http.MethodGet, "/api/v1/radiology/orders", uuid.New(), auth.RoleAdmin); code != http.StatusForbidden {
		t.Errorf("admin without permission: expected 403, got %d", code)
	}
	if code := serve(http.MethodDelete, "/api/v1/radiology/orders/"+o.ID.String(), uuid.New(), auth.RoleSuperAdmin); code != http.StatusNoContent {
		t.Errorf("super admin delete: expected 204, got %d", code)
	}
}
