package messaging

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/refermed/refermed/internal/platform/auth"
	"github.com/refermed/refermed/pkg/pagination"
)

type Handler struct {
	svc    *Service
	router *Router
}

func NewHandler(svc *Service, router *Router) *Handler {
	return &Handler{svc: svc, router: router}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/referrals/:id/room", h.ResolveRoom)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.GET("/rooms/:id/messages", h.History)
	api.POST("/rooms/:id/messages", h.Send)
}

func actorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotRoomMember):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ResolveRoom(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	room, err := h.svc.ResolveRoom(c.Request().Context(), actor, referralID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) GetRoom(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	room, err := h.svc.GetRoom(c.Request().Context(), actor, roomID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) ListRooms(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	rooms, total, err := h.svc.ListRooms(c.Request().Context(), actor, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rooms, total, pg.Limit, pg.Offset))
}

func (h *Handler) History(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)

	msgs, total, err := h.router.History(c.Request().Context(), actor, roomID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

type sendRequest struct {
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) Send(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "payload is required")
	}

	msg, err := h.router.Send(c.Request().Context(), actor, roomID, req.Payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}
