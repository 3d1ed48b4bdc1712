package medicalhistory

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/auth"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/pkg/pagination"
)

// Handler provides HTTP handlers for medical history entries.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the routes under /medical-history. The patient
// sub-routes are registered before the bare :patientId route.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("/medical-history", mw...)
	g.POST("", h.Create)
	g.GET("/patient/:patientId/critical-allergies", h.CriticalAllergies)
	g.GET("/patient/:patientId/summary", h.Summary)
	g.GET("/patient/:patientId", h.ListByPatient)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var e NewEntry
	if err := c.Bind(&e); err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Create(ctx, &e, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := int64Param(c, "patientId")
	if err != nil {
		return err
	}
	f, pg, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := int64Param(c, "id")
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
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CriticalAllergies(c echo.Context) error {
	patientID, err := int64Param(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.CriticalAllergies(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "count": len(items)})
}

func (h *Handler) Summary(c echo.Context) error {
	patientID, err := int64Param(c, "patientId")
	if err != nil {
		return err
	}
	out, err := h.svc.Summary(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func int64Param(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name)
	}
	return v, nil
}

func filtersFromQuery(c echo.Context) (Filters, pagination.Params, error) {
	pg := pagination.FromContext(c)
	f := Filters{Page: pg.Page, Limit: pg.Limit, Offset: pg.Offset, Status: c.QueryParam("status")}

	if v := c.QueryParam("category"); v != "" {
		cat, err := ParseCategory(v)
		if err != nil {
			return f, pg, err
		}
		f.Category = &cat
	}
	if v := c.QueryParam("is_critical"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, pg, fmt.Errorf("%w: invalid is_critical", apperr.ErrValidation)
		}
		f.IsCritical = &b
	}
	for name, dst := range map[string]**Date{"diagnosed_from": &f.DiagnosedFrom, "diagnosed_to": &f.DiagnosedTo} {
		if v := c.QueryParam(name); v != "" {
			d, err := ParseDate(v)
			if err != nil {
				return f, pg, err
			}
			*dst = &d
		}
	}
	return f, pg, nil
}
