package blobstore

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

// PresignTTL is how long download links stay valid.
const PresignTTL = 15 * time.Minute

// Upload is a validated multipart file ready to be stored.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	File        multipart.File
}

// ReadUpload opens the multipart field and validates it.
func ReadUpload(c echo.Context, field string) (*Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, field+" is required")
	}
	ct := fh.Header.Get("Content-Type")
	if err := ValidateUpload(ct, fh.Size); err != nil {
		return nil, HTTPError(err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	return &Upload{FileName: fh.Filename, ContentType: ct, Size: fh.Size, File: f}, nil
}

// HTTPError maps store errors to HTTP errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Handler serves the patient file area (profile pictures and documents) and
// download links for any key under a patient prefix.
type Handler struct {
	store Store
	keys  KeyBuilder
}

func NewHandler(store Store, keys KeyBuilder) *Handler {
	return &Handler{store: store, keys: keys}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients/:patientId/files", h.handleList)
	g.POST("/patients/:patientId/files", h.handleUpload)
	g.GET("/patients/:patientId/files/url", h.handlePresign)
	g.DELETE("/patients/:patientId/files", h.handleDelete,
		auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse))
}

// canAccess lets staff reach any patient and patients only themselves.
func canAccess(c echo.Context, patientID string) bool {
	ctx := c.Request().Context()
	role := auth.RoleFromContext(ctx)
	if role == auth.RolePatient {
		return auth.UserIDFromContext(ctx) == patientID
	}
	return role != ""
}

func (h *Handler) patientID(c echo.Context) (string, error) {
	id := c.Param("patientId")
	if _, err := uuid.Parse(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if !canAccess(c, id) {
		return "", echo.NewHTTPError(http.StatusForbidden, "access to this patient's files is not allowed")
	}
	return id, nil
}

func (h *Handler) handleList(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	prefix := h.keys.PatientPrefix(pid)
	if cat := c.QueryParam("category"); cat != "" {
		if !AllowedCategories[cat] {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
		}
		prefix = h.keys.CategoryPrefix(pid, cat)
	}
	items, err := h.store.List(c.Request().Context(), prefix)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) handleUpload(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	category := c.FormValue("category")
	if category == "" {
		category = CategoryDocuments
	}
	if category != CategoryDocuments && category != CategoryProfile {
		return echo.NewHTTPError(http.StatusBadRequest, "category must be documents or profile")
	}

	up, err := ReadUpload(c, "file")
	if err != nil {
		return err
	}
	defer up.File.Close()

	key, err := h.keys.Key(pid, category, uuid.New().String(), up.FileName)
	if err != nil {
		return HTTPError(err)
	}
	obj, err := h.store.Put(c.Request().Context(), key, up.ContentType, up.File, up.Size)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, obj)
}

func (h *Handler) keyParam(c echo.Context, pid string) (string, error) {
	key := c.QueryParam("key")
	if key == "" || !h.keys.Owns(pid, key) {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("key must be under %s", h.keys.PatientPrefix(pid)))
	}
	return key, nil
}

func (h *Handler) handlePresign(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	key, err := h.keyParam(c, pid)
	if err != nil {
		return err
	}
	url, err := h.store.PresignGet(c.Request().Context(), key, PresignTTL)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(PresignTTL.Seconds()),
	})
}

func (h *Handler) handleDelete(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	key, err := h.keyParam(c, pid)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), key); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
