package claim

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
	api.POST("/claims", h.CreateClaim)
	api.GET("/claims", h.ListClaims)
	api.GET("/claims/:id", h.GetClaim)
	api.PATCH("/claims/:id", h.UpdateClaim)
	api.POST("/claims/:id/submit", h.SubmitClaim)
	api.POST("/claims/:id/documents", h.AttachDocument)
	api.POST("/claims/:id/returns", h.CreateClaimReturn)
	api.POST("/claims/:id/payments", h.CreatePayment)
}

func (h *Handler) CreateClaim(c echo.Context) error {
	var body struct {
		QuoteID uuid.UUID `json:"quote_id"`
		Gateway Gateway   `json:"gateway,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.CreateClaim(c.Request().Context(), body.QuoteID, body.Gateway, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)
	actor := auth.ActorFromContext(c.Request().Context())

	var status *Status
	if s := c.QueryParam("status"); s != "" {
		st := Status(s)
		status = &st
	}

	items, total, err := h.svc.ListClaims(c.Request().Context(), status, actor, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// claimView is the detail payload with sub-resources inlined.
type claimView struct {
	*Claim
	Documents []*Document `json:"documents"`
	Returns   []*Return   `json:"returns"`
	Payments  []*Payment  `json:"payments"`
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	cl, docs, returns, payments, err := h.svc.GetClaim(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claimView{Claim: cl, Documents: docs, Returns: returns, Payments: payments})
}

func (h *Handler) UpdateClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.UpdateClaim(c.Request().Context(), id, in, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.SubmitClaim(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) AttachDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		DocumentID uuid.UUID    `json:"document_id"`
		Role       DocumentRole `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	doc, err := h.svc.AttachDocument(c.Request().Context(), id, body.DocumentID, body.Role, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) CreateClaimReturn(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in ReturnInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	ret, err := h.svc.CreateClaimReturn(c.Request().Context(), id, in, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ret)
}

func (h *Handler) CreatePayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	out, err := h.svc.CreatePayment(c.Request().Context(), id, in, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}
