package pathology

import (
	"errors"
	"net/http"

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
	gate := auth.GateAdmins(h.perms, auth.PermManagePathology)

	read := api.Group("/pathology",
		auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin), gate)
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/orders/:id/specimens", h.ListSpecimens)
	read.GET("/orders/:id/report", h.GetReportByOrder)
	read.GET("/reports/:id", h.GetReport)
	read.GET("/reports/:id/attachment", h.DownloadAttachment)
	read.GET("/reports/:id/attachment/url", h.AttachmentURL)

	staff := api.Group("/pathology", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin), gate)
	staff.POST("/orders", h.CreateOrder)
	staff.PUT("/orders/:id", h.UpdateOrder)
	staff.POST("/orders/:id/status", h.SetOrderStatus)
	staff.POST("/orders/:id/cancel", h.CancelOrder)
	staff.POST("/orders/:id/specimens", h.CollectSpecimen)
	staff.GET("/specimens/:id", h.GetSpecimen)
	staff.POST("/specimens/:id/receive", h.ReceiveSpecimen)
	staff.POST("/orders/:id/report", h.CreateReport)
	staff.PUT("/reports/:id", h.UpdateReport)
	staff.POST("/reports/:id/attachment", h.UploadAttachment)

	signoff := api.Group("/pathology", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin), gate)
	signoff.POST("/reports/:id/finalize", h.FinalizeReport)
	signoff.POST("/reports/:id/amend", h.AmendReport)

	admin := api.Group("/pathology",
		auth.RequireRole(auth.RoleAdmin),
		auth.RequirePermission(h.perms, auth.PermManagePathology))
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
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrTransition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoAttachment):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
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
	f := OrderFilter{Status: c.QueryParam("status"), Priority: c.QueryParam("priority")}
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

// -- Specimens --

func (h *Handler) CollectSpecimen(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	var in SpecimenInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	sp, err := h.svc.CollectSpecimen(c.Request().Context(), id, in, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (h *Handler) ReceiveSpecimen(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ReceiveInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	sp, err := h.svc.ReceiveSpecimen(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sp)
}

func (h *Handler) GetSpecimen(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sp, err := h.svc.GetSpecimen(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sp)
}

func (h *Handler) ListSpecimens(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSpecimens(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
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

func (h *Handler) GetReportByOrder(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.GetReportByOrder(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
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

// -- Attachments --

func (h *Handler) UploadAttachment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	up, err := blobstore.ReadUpload(c, "file")
	if err != nil {
		return err
	}
	defer up.File.Close()

	rp, obj, err := h.svc.UploadAttachment(c.Request().Context(), id, up.FileName, up.ContentType, up.File, up.Size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"report": rp, "object": obj})
}

func (h *Handler) AttachmentURL(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	url, err := h.svc.AttachmentURL(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(blobstore.PresignTTL.Seconds()),
	})
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenAttachment(c.Request().Context(), id, caller)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}
