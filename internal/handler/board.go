package handler

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/replay"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// maxReplaySpan caps how many ops one replay request may cover.
const maxReplaySpan = 5000

// BoardHandler 보드 REST API 핸들러
type BoardHandler struct {
	store    store.BoardStore
	manager  *room.Manager
	tokens   *auth.TokenManager
	presence *presence.Manager
}

func NewBoardHandler(st store.BoardStore, manager *room.Manager, tokens *auth.TokenManager, pm *presence.Manager) *BoardHandler {
	return &BoardHandler{store: st, manager: manager, tokens: tokens, presence: pm}
}

type createBoardRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// CreateBoard 보드 생성
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	var req createBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Name == "" || req.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and ownerId are required"})
	}

	board := store.BoardRecord{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerID:   req.OwnerID,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateBoard(c.Context(), board); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create board"})
	}
	return c.Status(fiber.StatusCreated).JSON(board)
}

// ListBoards 소유자의 보드 목록 조회
func (h *BoardHandler) ListBoards(c *fiber.Ctx) error {
	ownerID := c.Query("ownerId")
	if ownerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ownerId is required"})
	}
	boards, err := h.store.ListBoards(c.Context(), ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list boards"})
	}
	if boards == nil {
		boards = []store.BoardRecord{}
	}
	return c.JSON(fiber.Map{"boards": boards})
}

type issueTokenRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// IssueToken mints a board access token. Sharing flows call this after
// deciding the role; the sync core then trusts only the token.
func (h *BoardHandler) IssueToken(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	var req issueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "role must be view, comment or edit"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "userId is required"})
	}

	token, err := h.tokens.Generate(boardID, req.UserID, role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue token"})
	}
	return c.JSON(fiber.Map{"token": token, "role": role})
}

// ListCheckpoints 보드의 체크포인트 목록
func (h *BoardHandler) ListCheckpoints(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	checkpoints, err := h.store.ListCheckpoints(c.Context(), boardID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list checkpoints"})
	}
	if checkpoints == nil {
		checkpoints = []store.CheckpointRecord{}
	}
	return c.JSON(fiber.Map{"checkpoints": checkpoints})
}

// Replay returns the raw sequenced ops in (from, to] for the history
// scrubber. The span is capped so one request cannot drag the whole log.
func (h *BoardHandler) Replay(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	from, err1 := strconv.ParseInt(c.Query("from", "0"), 10, 64)
	to, err2 := strconv.ParseInt(c.Query("to", "0"), 10, 64)
	if err1 != nil || err2 != nil || from < 0 || to < from {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from and to must form a valid range"})
	}
	if to-from > maxReplaySpan {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "range too large", "maxSpan": maxReplaySpan,
		})
	}

	ops, err := h.store.OpsInRange(c.Context(), boardID, from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch ops"})
	}
	if ops == nil {
		ops = []store.LogEntry{}
	}
	return c.JSON(fiber.Map{"ops": ops, "from": from, "to": to})
}

// Snapshot materializes the board at a sequence number. With no "at" the
// latest persisted state plus the log tail is returned.
func (h *BoardHandler) Snapshot(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var target int64
	if at := c.Query("at"); at != "" {
		v, err := strconv.ParseInt(at, 10, 64)
		if err != nil || v < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "at must be a non-negative integer"})
		}
		target = v
	}

	var base map[string]map[string]any
	var baseSeq int64
	lookup := target
	if lookup == 0 {
		lookup = 1<<62 - 1
	}
	snap, err := h.store.LatestSnapshotAtOrBefore(c.Context(), boardID, lookup)
	switch {
	case err == nil:
		base = snap.Objects
		baseSeq = snap.AtServerSeq
	case errors.Is(err, store.ErrNotFound):
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load snapshot"})
	}

	upTo := target // 0 means the whole tail
	entries, err := h.store.OpsInRange(c.Context(), boardID, baseSeq, upTo)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load ops"})
	}
	if base == nil && len(entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Board has no history"})
	}

	replayEntries := make([]replay.Entry, 0, len(entries))
	atSeq := baseSeq
	for _, entry := range entries {
		var payload map[string]any
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			continue
		}
		replayEntries = append(replayEntries, replay.Entry{
			ServerSeq: entry.ServerSeq, OpType: entry.OpType, Payload: payload,
		})
		atSeq = entry.ServerSeq
	}
	engine := replay.NewEngine(base, baseSeq, replayEntries)
	stateTarget := target
	if stateTarget == 0 {
		stateTarget = atSeq
	}

	return c.JSON(fiber.Map{
		"atServerSeq": stateTarget,
		"objects":     engine.StateAt(stateTarget),
	})
}

// Presence 보드 접속자 목록 (Redis 미러 기반)
func (h *BoardHandler) Presence(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	entries, err := h.presence.BoardClients(c.Context(), boardID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read presence"})
	}
	if entries == nil {
		entries = []presence.Entry{}
	}
	return c.JSON(fiber.Map{"clients": entries})
}

// Stats 로딩된 룸들의 운영 지표
func (h *BoardHandler) Stats(c *fiber.Ctx) error {
	resp := fiber.Map{"rooms": h.manager.Stats()}
	// The mirror may know about boards served by other instances.
	if mirrored, err := h.presence.Boards(c.Context()); err != nil {
		log.Printf("[Board] ⚠️ Presence mirror scan failed: %v", err)
	} else if len(mirrored) > 0 {
		resp["mirroredBoards"] = mirrored
	}
	return c.JSON(resp)
}
