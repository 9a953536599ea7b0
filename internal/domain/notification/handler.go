package notification

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
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
	// Every authenticated user
	api.GET("/notifications/inbox", h.Inbox)
	api.GET("/notifications/inbox/unread-count", h.UnreadCount)
	api.POST("/notifications/inbox/read-all", h.MarkAllRead)
	api.POST("/notifications/inbox/:id/read", h.MarkRead)
	api.GET("/notifications/preferences", h.GetPreferences)
	api.PUT("/notifications/preferences", h.UpdatePreferences)
	api.GET("/notifications/logs", h.ListLogs)
	api.GET("/notifications/scheduled", h.ListScheduled)

	// Clinical staff and admins with the send permission
	send := api.Group("",
		auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse),
		auth.GateAdmins(h.perms, auth.PermSendNotifications))
	send.POST("/notifications/send", h.Send)
	send.POST("/notifications/schedule", h.Schedule)
	send.DELETE("/notifications/scheduled/:id", h.CancelScheduled)

	admin := api.Group("",
		auth.RequireRole(auth.RoleAdmin),
		auth.RequirePermission(h.perms, auth.PermSendNotifications))
	admin.POST("/notifications/bulk", h.BulkSend)
	admin.POST("/notifications/process-due", h.ProcessDue)
	admin.GET("/notifications/stats", h.Stats)
	admin.GET("/notification-templates", h.ListTemplates)
	admin.POST("/notification-templates", h.CreateTemplate)
	admin.GET("/notification-templates/:id", h.GetTemplate)
	admin.PUT("/notification-templates/:id", h.UpdateTemplate)
	admin.DELETE("/notification-templates/:id", h.DeleteTemplate)
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user")
	}
	return id, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDeliveryFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Inbox --

func (h *Handler) Inbox(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Inbox(c.Request().Context(), uid, c.QueryParam("unread") == "true", pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkRead(c.Request().Context(), id, uid); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// -- Preferences --

func (h *Handler) GetPreferences(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPreferences(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePreferences(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPreferences(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.UserID = uid
	if err := h.svc.UpdatePreferences(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Logs --

// ListLogs returns the caller's delivery log. Admins may pass user_id or omit
// it to see every log.
func (h *Handler) ListLogs(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	f := LogFilter{
		Channel: c.QueryParam("channel"),
		Status:  c.QueryParam("status"),
	}
	if auth.IsAdminRole(auth.RoleFromContext(c.Request().Context())) {
		if q := c.QueryParam("user_id"); q != "" {
			other, err := uuid.Parse(q)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
			}
			f.UserID = &other
		}
	} else {
		f.UserID = &uid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLogs(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListScheduled(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListScheduled(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Sending --

func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	entry, err := h.svc.Send(c.Request().Context(), req)
	if err != nil && entry == nil {
		return httpError(err)
	}
	// failed deliveries still return the log row so the caller sees the error
	return c.JSON(http.StatusCreated, entry)
}

type scheduleRequest struct {
	UserID      uuid.UUID         `json:"user_id" validate:"required"`
	Channel     string            `json:"channel" validate:"required,oneof=email sms in_app"`
	Template    string            `json:"template"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data"`
	Category    string            `json:"category"`
	SendAt      time.Time         `json:"send_at" validate:"required"`
	RelatedType string            `json:"related_type"`
	RelatedID   *uuid.UUID        `json:"related_id"`
}

func (h *Handler) Schedule(c echo.Context) error {
	var req scheduleRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sn := &Scheduled{
		UserID:       req.UserID,
		Channel:      req.Channel,
		TemplateName: strPtr(req.Template),
		Subject:      req.Subject,
		Body:         req.Body,
		Data:         req.Data,
		Category:     req.Category,
		SendAt:       req.SendAt,
		RelatedType:  strPtr(req.RelatedType),
		RelatedID:    req.RelatedID,
	}
	if err := h.svc.Schedule(c.Request().Context(), sn); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sn)
}

func (h *Handler) CancelScheduled(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelScheduledByID(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type bulkRequest struct {
	Role     string            `json:"role" validate:"required,oneof=admin doctor nurse patient pharmacist"`
	Channel  string            `json:"channel" validate:"required,oneof=email sms in_app"`
	Template string            `json:"template"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data"`
	Category string            `json:"category"`
}

func (h *Handler) BulkSend(c echo.Context) error {
	var req bulkRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.BulkSend(c.Request().Context(), req.Role, SendRequest{
		Channel:  req.Channel,
		Template: req.Template,
		Subject:  req.Subject,
		Body:     req.Body,
		Data:     req.Data,
		Category: req.Category,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ProcessDue(c echo.Context) error {
	batch := pagination.FromContext(c).Limit
	res, err := h.svc.ProcessDue(c.Request().Context(), batch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// -- Templates --

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTemplates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"templates": resp,
		"built_in":  h.svc.BuiltInTemplates(),
	})
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var t Template
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateTemplate(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Template
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateTemplate(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
