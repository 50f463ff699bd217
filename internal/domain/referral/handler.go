package referral

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/refermed/refermed/internal/platform/auth"
	"github.com/refermed/refermed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/referrals", h.Create)
	api.GET("/referrals", h.List)
	api.GET("/referrals/counts", h.Counts)
	api.GET("/referrals/:id", h.Get)
	api.POST("/referrals/:id/complete", h.Complete)
	api.POST("/referrals/:id/refer-back", h.ReferBack)
}

func actorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

// httpError maps domain sentinel errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "referral not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidParticipant):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSelfReferral):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrAlreadyCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createRequest struct {
	ReferredTo   uuid.UUID `json:"referred_to"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email"`
	Notes        string    `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ref, err := h.svc.Create(c.Request().Context(), actor, req.ReferredTo,
		req.PatientName, req.PatientEmail, req.Notes)
	if err != nil {
		if errors.Is(err, ErrInvalidParticipant) || errors.Is(err, ErrSelfReferral) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ref)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ref, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) Complete(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ref, err := h.svc.Complete(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) ReferBack(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ref, err := h.svc.ReferBack(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	var (
		items []*Referral
		total int
	)
	switch c.QueryParam("direction") {
	case "sent":
		items, total, err = h.svc.ListSent(c.Request().Context(), actor, pg.Limit, pg.Offset)
	case "received", "":
		items, total, err = h.svc.ListReceived(c.Request().Context(), actor, pg.Limit, pg.Offset)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "direction must be sent or received")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Counts(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	counts, err := h.svc.CountsFor(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, counts)
}
