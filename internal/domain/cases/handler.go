package cases

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases", h.CreateCase)
	api.GET("/cases", h.ListCases)
	api.GET("/cases/:id", h.GetCase)
	api.PATCH("/cases/:id", h.UpdateCase)
}

func (h *Handler) CreateCase(c echo.Context) error {
	var in CreateCaseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	created, err := h.svc.CreateCase(c.Request().Context(), in, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.GetCase(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())

	var status *Status
	if s := c.QueryParam("status"); s != "" {
		st := Status(s)
		if !ValidStatus(st) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
		}
		status = &st
	}

	items, total, err := h.svc.ListCases(c.Request().Context(), actor, status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch UpdatePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.UpdateCase(c.Request().Context(), id, patch, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
