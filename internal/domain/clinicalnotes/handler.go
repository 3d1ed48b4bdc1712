package clinicalnotes

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/auth"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/pkg/pagination"
)

// Handler provides HTTP handlers for clinical notes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("/clinical-notes", mw...)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/sign", h.Sign)
	g.GET("/:id/versions", h.Versions)
	g.GET("/:id/versions/:versionNumber", h.Version)
}

func (h *Handler) Create(c echo.Context) error {
	var n NewNote
	if err := c.Bind(&n); err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Create(ctx, &n, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	withVersions, _ := strconv.ParseBool(c.QueryParam("include_versions"))
	out, err := h.svc.Get(c.Request().Context(), id, withVersions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c echo.Context) error {
	f, pg, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Update(ctx, id, &p, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Sign(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Sign(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Versions(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Versions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "count": len(items)})
}

func (h *Handler) Version(c echo.Context) error {
	id, err := uuidParam(c)
	if err != nil {
		return err
	}
	number, err := strconv.Atoi(c.Param("versionNumber"))
	if err != nil {
		return fmt.Errorf("%w: invalid version number", apperr.ErrValidation)
	}
	out, err := h.svc.Version(c.Request().Context(), id, number)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func uuidParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", apperr.ErrValidation)
	}
	return id, nil
}

func filtersFromQuery(c echo.Context) (Filters, pagination.Params, error) {
	pg := pagination.FromContext(c)
	f := Filters{
		NoteType: c.QueryParam("note_type"),
		Status:   c.QueryParam("status"),
		Search:   c.QueryParam("search"),
		Page:     pg.Page,
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	for name, dst := range map[string]*int64{"patient_id": &f.PatientID, "provider_id": &f.ProviderID} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return f, pg, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name)
			}
			*dst = n
		}
	}
	if v := c.QueryParam("date_from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return f, pg, fmt.Errorf("%w: invalid date_from", apperr.ErrValidation)
		}
		f.From = &t
	}
	if v := c.QueryParam("date_to"); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			return f, pg, fmt.Errorf("%w: invalid date_to", apperr.ErrValidation)
		}
		if dateOnly {
			// A bare date covers the whole day.
			end := t.AddDate(0, 0, 1)
			f.Before = &end
		} else {
			f.To = &t
		}
	}
	return f, pg, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates, reporting which.
func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	return t, true, err
}
