package pathology

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

func TestHandler_CreateOrder(t *testing.T) {
	h, f, e := newTestHandler(nil)
	body := fmt.Sprintf(`{"patient_id":%q,"test_code":"lft","test_name":"Liver Function","priority":"urgent"}`, f.patient)
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
	if o.TestCode != "LFT" || o.Priority != "urgent" || o.DoctorID != f.doctor {
		t.Errorf("unexpected order %+v", o)
	}
}

func TestHandler_CreateOrder_MissingFields(t *testing.T) {
	h, f, e := newTestHandler(nil)
	c := e.NewContext(jsonRequest(http.MethodPost, `{"test_code":"x"}`), httptest.NewRecorder())
	asUser(c, f.doctor, auth.RoleDoctor)

	err := h.CreateOrder(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_SetOrderStatus_Invalid(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o := f.order(t)
	c := e.NewContext(jsonRequest(http.MethodPost, `{"status":"completed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	asUser(c, f.nurse, auth.RoleNurse)

	err := h.SetOrderStatus(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_FinalizeReport(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o, _ := f.received(t)
	rp, _ := f.svc.CreateReport(context.Background(), o.ID, ReportInput{Diagnosis: strPtr("Normal")}, f.doctorCaller())

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(rp.ID.String())
	asUser(c, f.doctor, auth.RoleDoctor)

	if err := h.FinalizeReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Report
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != ReportFinal {
		t.Errorf("status = %s", got.Status)
	}
}

func TestHandler_UploadAndDownloadAttachment(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o, _ := f.received(t)
	ctx := context.Background()
	rp, _ := f.svc.CreateReport(ctx, o.ID, ReportInput{Diagnosis: strPtr("Normal")}, f.doctorCaller())

	rec := httptest.NewRecorder()
	c := e.NewContext(multipartRequest(t, "slide.png", "image/png", "PNGDATA"), rec)
	c.SetParamNames("id")
	c.SetParamValues(rp.ID.String())
	asUser(c, f.doctor, auth.RoleDoctor)
	if err := h.UploadAttachment(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	f.svc.FinalizeReport(ctx, rp.ID, f.doctorCaller())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(rp.ID.String())
	asUser(c, f.patient, auth.RolePatient)
	if err := h.DownloadAttachment(c); err != nil {
		t.Fatalf("download: %v", err)
	}
	if rec.Body.String() != "PNGDATA" || rec.Header().Get(echo.HeaderContentType) != "image/png" {
		t.Errorf("unexpected download %q %s", rec.Body.String(), rec.Header().Get(echo.HeaderContentType))
	}

	// another patient cannot fetch it
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(rp.ID.String())
	asUser(c, f.otherPatient, auth.RolePatient)
	err := h.AttachmentURL(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_UploadAttachment_BadType(t *testing.T) {
	h, f, e := newTestHandler(nil)
	o, _ := f.received(t)
	rp, _ := f.svc.CreateReport(context.Background(), o.ID, ReportInput{}, f.doctorCaller())

	c := e.NewContext(multipartRequest(t, "run.sh", "application/x-sh", "echo"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(rp.ID.String())
	asUser(c, f.doctor, auth.RoleDoctor)

	err := h.UploadAttachment(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %v", err)
	}
}

func TestRoutes_Gates(t *testing.T) {
	h, f, e := newTestHandler(permSet{auth.PermManagePathology: false})
	h.RegisterRoutes(e.Group("/api/v1"))
	o := f.order(t)

	serve := func(method, path string, id uuid.UUID, role string) int {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(auth.WithUser(req.Context(), id.String(), role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(http.MethodGet, "/api/v1/pathology/orders", f.patient, auth.RolePatient); code != http.StatusOK {
		t.Errorf("patient list: expected 200, got %d", code)
	}
	if code := serve(http.MethodPost, "/api/v1/pathology/orders/"+o.ID.String()+"/cancel", f.patient, auth.RolePatient); code != http.StatusForbidden {
		t.Errorf("patient cancel: expected 403, got %d", code)
	}
	if code := serve(http.MethodGet, "/api/v1/pathology/orders", uuid.New(), auth.RoleAdmin); code != http.StatusForbidden {
		t.Errorf("admin without permission: expected 403, got %d", code)
	}
	if code := serve(http.MethodGet, "/api/v1/pathology/orders", uuid.New(), auth.RolePharmacist); code != http.StatusForbidden {
		t.Errorf("pharmacist: expected 403, got %d", code)
	}
	if code := serve(http.MethodDelete, "/api/v1/pathology/orders/"+o.ID.String(), uuid.New(), auth.RoleSuperAdmin); code != http.StatusNoContent {
		t.Errorf("super admin delete: expected 204, got %d", code)
	}
}
