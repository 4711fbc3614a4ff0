package model

import (
	"time"
)

// Board 보드 메타데이터 (생성은 외부 협력자 담당, 코어는 식별자만 소비)
type Board struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	OwnerID   string    `gorm:"size:255;not null;index" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Board) TableName() string {
	return "boards"
}

// Op 보드 단위 append-only 연산 로그 엔트리
//
// Unique constraints carry the ordering and dedup invariants:
// (board_id, server_seq) and (board_id, client_id, client_seq).
type Op struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	BoardID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_ops_board_seq,priority:1;uniqueIndex:idx_ops_dedup,priority:1" json:"board_id"`
	ServerSeq int64     `gorm:"not null;uniqueIndex:idx_ops_board_seq,priority:2" json:"server_seq"`
	ClientID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_ops_dedup,priority:2" json:"client_id"`
	ClientSeq int64     `gorm:"not null;uniqueIndex:idx_ops_dedup,priority:3" json:"client_seq"`
	OpType    string    `gorm:"size:64;not null" json:"op_type"`
	Payload   string    `gorm:"type:jsonb;not null" json:"payload"` // raw op JSON as received
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Op) TableName() string {
	return "ops"
}

// Snapshot 특정 server_seq 시점의 전체 materialized 상태 복사본
type Snapshot struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	BoardID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_snapshots_board_seq,priority:1" json:"board_id"`
	AtServerSeq int64     `gorm:"not null;uniqueIndex:idx_snapshots_board_seq,priority:2" json:"at_server_seq"`
	Data        string    `gorm:"type:jsonb;not null" json:"data"` // {"objects": {id: {...}}}
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Snapshot) TableName() string {
	return "snapshots"
}

// Checkpoint 사용자에게 보이는 이름 붙은 세이브 포인트 (데이터 없음, seq 포인터)
type Checkpoint struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	CheckpointID string    `gorm:"type:uuid;not null;unique" json:"checkpoint_id"`
	BoardID      string    `gorm:"type:uuid;not null;index" json:"board_id"`
	Name         *string   `gorm:"size:255" json:"name,omitempty"`
	AtServerSeq  int64     `gorm:"not null" json:"at_server_seq"`
	CreatedBy    string    `gorm:"size:255;not null" json:"created_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Checkpoint) TableName() string {
	return "checkpoints"
}
