package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
)

// Close codes for handshake failures.
const (
	CloseBadToken      = 4001
	CloseBadFirstFrame = 4002
	CloseBoardMismatch = 4003
)

const maxFrameBytes = 1 << 20

// WSHandler terminates whiteboard websocket connections. The handshake is
// strict: the first frame must be a valid join carrying a token for exactly
// the board in the URL, everything else closes the socket.
type WSHandler struct {
	manager  *room.Manager
	tokens   *auth.TokenManager
	presence *presence.Manager
	cfg      config.WebSocketConfig
}

func NewWSHandler(manager *room.Manager, tokens *auth.TokenManager, pm *presence.Manager, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{manager: manager, tokens: tokens, presence: pm, cfg: cfg}
}

// UpgradeRequired rejects plain HTTP requests on the websocket route.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// errorFrame 클라이언트에 보내는 에러 메시지
type errorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// HandleWebSocket runs one connection: handshake, then the read loop. Writes
// go through the client's send channel so the room can fan out without
// touching the socket directly.
func (h *WSHandler) HandleWebSocket(conn *websocket.Conn) {
	boardID := conn.Params("boardId")
	conn.SetReadLimit(maxFrameBytes)

	// The join frame must arrive promptly.
	conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	join, err := protocol.ParseJoin(data)
	if err != nil {
		closeWith(conn, CloseBadFirstFrame, "first frame must be a valid join")
		return
	}

	claims, err := h.tokens.Verify(join.Token)
	if err != nil {
		closeWith(conn, CloseBadToken, "invalid token")
		return
	}
	if claims.BoardID != boardID || join.RoomID != boardID {
		closeWith(conn, CloseBoardMismatch, "token is for a different board")
		return
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		closeWith(conn, CloseBadToken, "invalid role")
		return
	}

	ctx := context.Background()
	displayName := join.DisplayName
	if displayName == "" {
		displayName = claims.UserID
	}
	client := &room.Client{
		ClientID:    join.ClientID,
		DisplayName: displayName,
		Role:        role,
		Send:        make(chan []byte, 64),
	}

	// The pump must be draining before the join queues the ack and catch-up.
	go h.writePump(conn, client)
	rm, err := h.manager.Attach(ctx, boardID, client, join.LastSeenServerSeq)
	if err != nil {
		log.Printf("[WS] 🚨 Failed to load board %s: %v", boardID, err)
		client.Close()
		return
	}

	if err := h.presence.SetClient(ctx, presence.Entry{
		BoardID:     boardID,
		ClientID:    client.ClientID,
		UserID:      claims.UserID,
		DisplayName: displayName,
		Role:        string(role),
	}); err != nil {
		log.Printf("[WS] ⚠️ Presence mirror write failed: %v", err)
	}

	defer func() {
		rm.RemoveClient(client)
		h.presence.RemoveClient(ctx, boardID, client.ClientID)
	}()

	conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.ParseEnvelope(data, protocol.DirectionC2S)
		if err != nil {
			client.TrySend(marshalError("invalid_message", err))
			continue
		}
		if env.RoomID != boardID {
			closeWith(conn, CloseBoardMismatch, "envelope names a different board")
			return
		}
		if env.ClientID != client.ClientID {
			client.TrySend(marshalError("invalid_message", errors.New("clientId does not match connection")))
			continue
		}

		if env.Type == protocol.TypePing {
			if err := h.presence.RefreshClient(ctx, boardID, client.ClientID); err != nil {
				log.Printf("[WS] ⚠️ Presence refresh failed: %v", err)
			}
		}

		if err := rm.HandleEnvelope(ctx, client, env); err != nil {
			client.TrySend(marshalError(errorCode(err), err))
		}
	}
}

// writePump drains the send channel onto the socket. The room closes the
// channel when it detaches the client, which ends the pump and the socket.
func (h *WSHandler) writePump(conn *websocket.Conn, client *room.Client) {
	for frame := range client.Send {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			// Keep draining so the room never blocks on this client.
			for range client.Send {
			}
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
}

// errorCode classifies the errors the room still surfaces: invalid ops are
// dropped silently inside the batch, never reported back.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrForbidden):
		return "forbidden"
	case errors.Is(err, room.ErrUnknownCheckpoint):
		return "unknown_checkpoint"
	}
	return "internal_error"
}

func marshalError(code string, err error) []byte {
	b, _ := json.Marshal(errorFrame{Type: "error", Code: code, Message: err.Error()})
	return b
}
