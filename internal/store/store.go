package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDuplicateOp is returned by AppendOp when either uniqueness
	// constraint on the log is violated. Callers treat it as a detected
	// race or resend, never as a fatal error.
	ErrDuplicateOp = errors.New("duplicate op")

	// ErrNotFound is returned by lookups with no matching record.
	ErrNotFound = errors.New("record not found")
)

// LogEntry 보드 로그에 기록되는 한 개의 durable op
type LogEntry struct {
	BoardID   string          `json:"boardId"`
	ServerSeq int64           `json:"serverSeq"`
	ClientID  string          `json:"clientId"`
	ClientSeq int64           `json:"clientSeq"`
	OpType    string          `json:"opType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SnapshotRecord 특정 seq 시점의 materialized 상태
type SnapshotRecord struct {
	BoardID     string                    `json:"boardId"`
	AtServerSeq int64                     `json:"atServerSeq"`
	Objects     map[string]map[string]any `json:"objects"`
	CreatedAt   time.Time                 `json:"createdAt"`
}

// CheckpointRecord 이름 붙은 seq 포인터
type CheckpointRecord struct {
	CheckpointID string    `json:"checkpointId"`
	BoardID      string    `json:"boardId"`
	Name         string    `json:"name,omitempty"`
	AtServerSeq  int64     `json:"atServerSeq"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BoardRecord 보드 메타데이터
type BoardRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// BoardStore is the persistence boundary the room depends on. The room's
// in-memory state is a rebuildable cache; these records are the authority.
type BoardStore interface {
	// AppendOp persists one sequenced op. Returns ErrDuplicateOp when the
	// (board, serverSeq) or (board, clientId, clientSeq) constraint fires.
	AppendOp(ctx context.Context, entry LogEntry) error

	// AppendSnapshot persists a full-state copy at a sequence number.
	AppendSnapshot(ctx context.Context, snap SnapshotRecord) error

	// AppendCheckpoint persists a named pointer to a sequence number.
	AppendCheckpoint(ctx context.Context, cp CheckpointRecord) error

	// LatestSnapshotAtOrBefore returns the most recent snapshot with
	// at_server_seq <= seq, or ErrNotFound.
	LatestSnapshotAtOrBefore(ctx context.Context, boardID string, seq int64) (*SnapshotRecord, error)

	// OpsInRange returns log entries with after < server_seq <= upTo in
	// ascending order. upTo <= 0 means no upper bound.
	OpsInRange(ctx context.Context, boardID string, after, upTo int64) ([]LogEntry, error)

	// ListCheckpoints returns a board's checkpoints ordered by sequence.
	ListCheckpoints(ctx context.Context, boardID string) ([]CheckpointRecord, error)

	// GetCheckpoint looks a checkpoint up by its id, or ErrNotFound.
	GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error)

	// CreateBoard registers board metadata.
	CreateBoard(ctx context.Context, board BoardRecord) error

	// ListBoards returns boards owned by ownerID.
	ListBoards(ctx context.Context, ownerID string) ([]BoardRecord, error)
}
