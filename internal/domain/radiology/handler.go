package radiology

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/validation"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc   *Service
	perms auth.PermissionChecker
}

func NewHandler(svc *Service, perms auth.PermissionChecker) *Handler {
	return &Handler{svc: svc, perms: perms}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	gate := auth.GateAdmins(h.perms, auth.PermManageRadiology)

	read := api.Group("/radiology",
		auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin), gate)
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/orders/:id/studies", h.ListStudies)
	read.GET("/orders/:id/reports", h.ListReports)
	read.GET("/studies/:id", h.GetStudy)
	read.GET("/studies/:id/images", h.ListImages)
	read.GET("/studies/:id/images/url", h.ImageURL)
	read.GET("/reports/:id", h.GetReport)

	staff := api.Group("/radiology", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin), gate)
	staff.POST("/orders", h.CreateOrder)
	staff.PUT("/orders/:id", h.UpdateOrder)
	staff.POST("/orders/:id/schedule", h.ScheduleOrder)
	staff.POST("/orders/:id/status", h.SetOrderStatus)
	staff.POST("/orders/:id/cancel", h.CancelOrder)
	staff.POST("/orders/:id/studies", h.CreateStudy)
	staff.POST("/studies/:id/images", h.UploadImage)
	staff.GET("/rads/systems", h.ListSystems)
	staff.POST("/rads/calculate", h.CalculateRADS)

	reading := api.Group("/radiology", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin), gate)
	reading.POST("/orders/:id/reports", h.CreateReport)
	reading.PUT("/reports/:id", h.UpdateReport)
	reading.POST("/reports/:id/rads", h.AssessRADS)
	reading.POST("/reports/:id/analyze", h.Analyze)
	reading.POST("/reports/:id/finalize", h.FinalizeReport)
	reading.POST("/reports/:id/amend", h.AmendReport)

	admin := api.Group("/radiology",
		auth.RequireRole(auth.RoleAdmin),
		auth.RequirePermission(h.perms, auth.PermManageRadiology))
	admin.DELETE("/orders/:id", h.DeleteOrder)
}

func currentCaller(c echo.Context) (Caller, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid user")
	}
	return Caller{ID: id, Role: auth.RoleFromContext(ctx)}, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func callerAndID(c echo.Context) (Caller, uuid.UUID, error) {
	caller, err := currentCaller(c)
	if err != nil {
		return Caller{}, uuid.Nil, err
	}
	id, err := parseID(c)
	return caller, id, err
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrOrderInactive), errors.Is(err, ErrNotEditable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrTransition),
		errors.Is(err, ErrUnknownSystem), errors.Is(err, ErrUnknownFeature), errors.Is(err, ErrNoFeatures):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoStorage):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrEmptyFile),
		errors.Is(err, blobstore.ErrInvalidCategory):
		return blobstore.HTTPError(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Orders --

func (h *Handler) CreateOrder(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	var in OrderInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	o, err := h.svc.CreateOrder(c.Request().Context(), in, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	f := OrderFilter{Status: c.QueryParam("status"), Modality: c.QueryParam("modality")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOrders(c.Request().Context(), f, caller, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in OrderUpdate
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	o, err := h.svc.UpdateOrder(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

func (h *Handler) ScheduleOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o, err := h.svc.ScheduleOrder(c.Request().Context(), id, req.ScheduledAt)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) SetOrderStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o, err := h.svc.TransitionOrder(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.CancelOrder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteOrder(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Studies --

func (h *Handler) CreateStudy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in StudyInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	st, err := h.svc.CreateStudy(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudy(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudy(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStudies(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListStudies(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) UploadImage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	up, err := blobstore.ReadUpload(c, "file")
	if err != nil {
		return err
	}
	defer up.File.Close()

	obj, err := h.svc.UploadImage(c.Request().Context(), id, up.FileName, up.ContentType, up.File, up.Size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, obj)
}

func (h *Handler) ListImages(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListImages(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) ImageURL(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	key := c.QueryParam("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	url, err := h.svc.ImageURL(c.Request().Context(), id, key, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(blobstore.PresignTTL.Seconds()),
	})
}

// -- Reports --

func (h *Handler) CreateReport(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	var in ReportInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	rp, err := h.svc.CreateReport(c.Request().Context(), id, in, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rp)
}

func (h *Handler) GetReport(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.GetReport(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) ListReports(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListReports(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) UpdateReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ReportInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	rp, err := h.svc.UpdateReport(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

type radsRequest struct {
	System   string             `json:"system" validate:"required"`
	Features map[string]float64 `json:"features" validate:"required"`
}

func (h *Handler) AssessRADS(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req radsRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	rp, res, err := h.svc.AssessRADS(c.Request().Context(), id, req.System, req.Features)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"report": rp, "result": res})
}

func (h *Handler) Analyze(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.Analyze(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) FinalizeReport(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.FinalizeReport(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) AmendReport(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	var in ReportInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	rp, err := h.svc.AmendReport(c.Request().Context(), id, in, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

// -- RADS --

func (h *Handler) ListSystems(c echo.Context) error {
	return c.JSON(http.StatusOK, Systems())
}

func (h *Handler) CalculateRADS(c echo.Context) error {
	var req radsRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Calculate(req.System, req.Features)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
