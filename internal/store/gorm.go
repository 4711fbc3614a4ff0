package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"whiteboard-backend/internal/model"
)

// GormStore BoardStore의 PostgreSQL 구현 (gorm)
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AppendOp relies on the unique indexes on ops to enforce the ordering and
// dedup invariants. Requires gorm's TranslateError so unique violations
// surface as gorm.ErrDuplicatedKey.
func (s *GormStore) AppendOp(ctx context.Context, entry LogEntry) error {
	rec := model.Op{
		BoardID:   entry.BoardID,
		ServerSeq: entry.ServerSeq,
		ClientID:  entry.ClientID,
		ClientSeq: entry.ClientSeq,
		OpType:    entry.OpType,
		Payload:   string(entry.Payload),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOp
		}
		return fmt.Errorf("append op: %w", err)
	}
	return nil
}

func (s *GormStore) AppendSnapshot(ctx context.Context, snap SnapshotRecord) error {
	data, err := json.Marshal(map[string]any{"objects": snap.Objects})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	rec := model.Snapshot{
		BoardID:     snap.BoardID,
		AtServerSeq: snap.AtServerSeq,
		Data:        string(data),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Snapshots are immutable and keyed by (board, seq); a second
			// write at the same seq carries the same state.
			return nil
		}
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (s *GormStore) AppendCheckpoint(ctx context.Context, cp CheckpointRecord) error {
	rec := model.Checkpoint{
		CheckpointID: cp.CheckpointID,
		BoardID:      cp.BoardID,
		AtServerSeq:  cp.AtServerSeq,
		CreatedBy:    cp.CreatedBy,
	}
	if cp.Name != "" {
		rec.Name = &cp.Name
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOp
		}
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}

func (s *GormStore) LatestSnapshotAtOrBefore(ctx context.Context, boardID string, seq int64) (*SnapshotRecord, error) {
	var rec model.Snapshot
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND at_server_seq <= ?", boardID, seq).
		Order("at_server_seq DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	var data struct {
		Objects map[string]map[string]any `json:"objects"`
	}
	if err := json.Unmarshal([]byte(rec.Data), &data); err != nil {
		return nil, fmt.Errorf("decode snapshot %s@%d: %w", boardID, rec.AtServerSeq, err)
	}
	if data.Objects == nil {
		data.Objects = map[string]map[string]any{}
	}

	return &SnapshotRecord{
		BoardID:     rec.BoardID,
		AtServerSeq: rec.AtServerSeq,
		Objects:     data.Objects,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func (s *GormStore) OpsInRange(ctx context.Context, boardID string, after, upTo int64) ([]LogEntry, error) {
	q := s.db.WithContext(ctx).
		Where("board_id = ? AND server_seq > ?", boardID, after).
		Order("server_seq ASC")
	if upTo > 0 {
		q = q.Where("server_seq <= ?", upTo)
	}

	var recs []model.Op
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}

	entries := make([]LogEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, LogEntry{
			BoardID:   rec.BoardID,
			ServerSeq: rec.ServerSeq,
			ClientID:  rec.ClientID,
			ClientSeq: rec.ClientSeq,
			OpType:    rec.OpType,
			Payload:   json.RawMessage(rec.Payload),
			CreatedAt: rec.CreatedAt,
		})
	}
	return entries, nil
}

func (s *GormStore) ListCheckpoints(ctx context.Context, boardID string) ([]CheckpointRecord, error) {
	var recs []model.Checkpoint
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("at_server_seq ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}

	cps := make([]CheckpointRecord, 0, len(recs))
	for _, rec := range recs {
		cps = append(cps, checkpointFromModel(rec))
	}
	return cps, nil
}

func (s *GormStore) GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error) {
	var rec model.Checkpoint
	err := s.db.WithContext(ctx).
		Where("checkpoint_id = ?", checkpointID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	cp := checkpointFromModel(rec)
	return &cp, nil
}

func (s *GormStore) CreateBoard(ctx context.Context, board BoardRecord) error {
	rec := model.Board{
		ID:      board.ID,
		Name:    board.Name,
		OwnerID: board.OwnerID,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

func (s *GormStore) ListBoards(ctx context.Context, ownerID string) ([]BoardRecord, error) {
	var recs []model.Board
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	boards := make([]BoardRecord, 0, len(recs))
	for _, rec := range recs {
		boards = append(boards, BoardRecord{
			ID:        rec.ID,
			Name:      rec.Name,
			OwnerID:   rec.OwnerID,
			CreatedAt: rec.CreatedAt,
		})
	}
	return boards, nil
}

func checkpointFromModel(rec model.Checkpoint) CheckpointRecord {
	cp := CheckpointRecord{
		CheckpointID: rec.CheckpointID,
		BoardID:      rec.BoardID,
		AtServerSeq:  rec.AtServerSeq,
		CreatedBy:    rec.CreatedBy,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.Name != nil {
		cp.Name = *rec.Name
	}
	return cp
}
