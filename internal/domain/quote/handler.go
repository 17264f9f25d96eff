package quote

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medequip/dmeflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases/:caseId/quotes", h.CreateQuote)
	api.GET("/cases/:caseId/quotes", h.ListByCase)
	api.GET("/quotes/:id", h.GetQuote)
	api.POST("/quotes/:id/items", h.AddLineItem)
	api.DELETE("/quotes/:id/items/:itemId", h.RemoveLineItem)
	api.POST("/quotes/:id/submit", h.SubmitQuote)
	api.POST("/quotes/:id/approve", h.ApproveQuote)
	api.POST("/quotes/:id/reject", h.RejectQuote)
}

func (h *Handler) CreateQuote(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("caseId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.CreateQuote(c.Request().Context(), caseID, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) ListByCase(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("caseId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	items, err := h.svc.ListByCase(c.Request().Context(), caseID, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetQuote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.GetQuote(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in LineItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.AddLineItem(c.Request().Context(), id, in, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) RemoveLineItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.RemoveLineItem(c.Request().Context(), id, itemID, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) SubmitQuote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.SubmitQuote(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) ApproveQuote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.ApproveQuote(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) RejectQuote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Note *string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	q, err := h.svc.RejectQuote(c.Request().Context(), id, body.Note, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}
