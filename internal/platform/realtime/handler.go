package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/platform/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// RoomGateway is the messaging surface the transport needs: join verification
// and message acceptance. Fan-out of accepted messages happens inside the
// gateway, so the handler never echoes frames itself.
type RoomGateway interface {
	JoinRoom(ctx context.Context, participantID, roomID string) (lastSequence int64, err error)
	SendMessage(ctx context.Context, senderID, roomID string, payload json.RawMessage) error
}

// Handler upgrades HTTP connections to websockets and pumps client frames
// into the gateway.
type Handler struct {
	registry *Registry
	gateway  RoomGateway
	logger   zerolog.Logger
}

// NewHandler creates a Handler bound to the given registry and gateway.
func NewHandler(registry *Registry, gateway RoomGateway, logger zerolog.Logger) *Handler {
	return &Handler{registry: registry, gateway: gateway, logger: logger}
}

// RegisterRoutes registers the websocket endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the request, registers the connection under the
// authenticated participant, and runs the read pump until disconnect.
func (h *Handler) HandleConnect(c echo.Context) error {
	participantID := auth.UserIDFromContext(c.Request().Context())
	if participantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := NewConnection(participantID, ws)
	h.registry.Register(conn)

	// The socket outlives the HTTP exchange; net/http cancels the request
	// context once the handler returns, which would kill in-flight gateway
	// calls. Detach from it and cancel when the socket goes away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()
	h.readPump(ctx, conn, ws)

	return nil
}

// readPump reads client frames until the socket errors, then unregisters the
// connection. Malformed or rejected frames get an error envelope back on the
// same connection; they never terminate the session.
func (h *Handler) readPump(ctx context.Context, conn *Connection, ws *websocket.Conn) {
	defer func() {
		h.registry.Unregister(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		h.logger.Debug().
			Str("participant_id", conn.ParticipantID).
			Str("connection_id", conn.ID).
			Msg("websocket disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := ParseInbound(data)
		if err != nil {
			conn.Enqueue(ErrorEnvelope(err.Error()).Encode())
			continue
		}

		switch env.Kind {
		case KindJoin:
			lastSeq, err := h.gateway.JoinRoom(ctx, conn.ParticipantID, env.RoomID)
			if err != nil {
				conn.Enqueue(ErrorEnvelope(err.Error()).Encode())
				continue
			}
			joined := Envelope{
				Kind:     KindJoined,
				RoomID:   env.RoomID,
				Sequence: lastSeq,
			}
			conn.Enqueue(joined.Encode())

		case KindMessage:
			if err := h.gateway.SendMessage(ctx, conn.ParticipantID, env.RoomID, env.Payload); err != nil {
				conn.Enqueue(ErrorEnvelope(err.Error()).Encode())
			}
		}
	}
}
