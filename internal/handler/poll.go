package handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
)

// PollHandler is the HTTP fallback for clients that cannot hold a websocket.
// It reuses the room pipeline, so polled ops get the same ordering, dedup and
// authorization as live ones.
type PollHandler struct {
	manager *room.Manager
	tokens  *auth.TokenManager
}

func NewPollHandler(manager *room.Manager, tokens *auth.TokenManager) *PollHandler {
	return &PollHandler{manager: manager, tokens: tokens}
}

// bearerClaims extracts and verifies the Authorization header.
func (h *PollHandler) bearerClaims(c *fiber.Ctx, boardID string) (*auth.BoardClaims, error) {
	header := c.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	if claims.BoardID != boardID {
		return nil, fiber.NewError(fiber.StatusForbidden, "token is for a different board")
	}
	return claims, nil
}

type polledOp struct {
	ServerSeq int64           `json:"serverSeq"`
	ClientID  string          `json:"clientId"`
	ClientSeq int64           `json:"clientSeq"`
	OpType    string          `json:"opType"`
	Payload   json.RawMessage `json:"payload"`
}

// PollOps 웹소켓 없이 최근 op 테일 조회
func (h *PollHandler) PollOps(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	if _, err := h.bearerClaims(c, boardID); err != nil {
		return err
	}

	since, err := strconv.ParseInt(c.Query("since", "0"), 10, 64)
	if err != nil || since < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be a non-negative integer"})
	}

	rm, err := h.manager.GetOrCreate(c.Context(), boardID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load board"})
	}

	records, current, ok := rm.RecentOpsSince(since)
	if !ok {
		// The gap predates the in-memory tail; the client must refetch the
		// snapshot before resuming.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":            "since is older than the retained tail",
			"currentServerSeq": current,
		})
	}

	ops := make([]polledOp, 0, len(records))
	for _, rec := range records {
		ops = append(ops, polledOp{
			ServerSeq: rec.ServerSeq,
			ClientID:  rec.ClientID,
			ClientSeq: rec.ClientSeq,
			OpType:    rec.OpType,
			Payload:   rec.Payload,
		})
	}
	return c.JSON(fiber.Map{"ops": ops, "currentServerSeq": current})
}

// SubmitOps accepts a durable envelope over HTTP. The body is the same wire
// format the websocket carries; the role comes from the verified token, never
// from the body.
func (h *PollHandler) SubmitOps(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	claims, err := h.bearerClaims(c, boardID)
	if err != nil {
		return err
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid role")
	}

	env, err := protocol.ParseEnvelope(c.Body(), protocol.DirectionC2S)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if env.Type != protocol.TypeDurable {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "only durable envelopes may be posted"})
	}
	if env.RoomID != boardID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "envelope names a different board"})
	}

	rm, err := h.manager.GetOrCreate(c.Context(), boardID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load board"})
	}

	if err := rm.SubmitBatch(c.Context(), env.ClientID, role, env.OpBatch); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error(), "code": errorCode(err)})
	}
	return c.JSON(fiber.Map{"currentServerSeq": rm.CurrentSeq()})
}

func statusFor(err error) int {
	switch errorCode(err) {
	case "forbidden":
		return fiber.StatusForbidden
	case "unknown_checkpoint":
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}
