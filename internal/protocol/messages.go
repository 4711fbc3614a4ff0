package protocol

import "encoding/json"

// Server-to-client message shapes. These mirror what the web client's
// transport layer expects; the durable broadcast always carries the assigned
// serverSeq so senders can reconcile their optimistic state.

type RosterUser struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Role        string `json:"role"`
}

// JoinAck 접속 직후 전송되는 인사 메시지
type JoinAck struct {
	Type             string       `json:"type"` // "joinAck"
	RoomID           string       `json:"roomId"`
	ClientID         string       `json:"clientId"`
	Role             string       `json:"role"`
	CurrentServerSeq int64        `json:"currentServerSeq"`
	Users            []RosterUser `json:"users"`
}

// OpBroadcast 순서가 부여된 durable op의 재방송
type OpBroadcast struct {
	Type      string          `json:"type"` // "opBroadcast"
	ServerSeq int64           `json:"serverSeq"`
	ClientID  string          `json:"clientId"`
	ClientSeq int64           `json:"clientSeq"`
	OpType    string          `json:"opType"`
	Payload   json.RawMessage `json:"payload"`
}

type UserJoined struct {
	Type        string `json:"type"` // "userJoined"
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

type UserLeft struct {
	Type     string `json:"type"` // "userLeft"
	ClientID string `json:"clientId"`
}

// EphemeralRelay 다른 클라이언트의 presence 업데이트 중계
type EphemeralRelay struct {
	Type     string            `json:"type"` // "ephemeral"
	ClientID string            `json:"clientId"`
	Payload  *EphemeralPayload `json:"payload"`
}

// StateReset checkpoint 복원 후 전체 상태 재전송
type StateReset struct {
	Type         string                    `json:"type"` // "stateReset"
	AtServerSeq  int64                     `json:"atServerSeq"`
	CheckpointID string                    `json:"checkpointId"`
	Objects      map[string]map[string]any `json:"objects"`
}

type Pong struct {
	Type string `json:"type"` // "pong"
	TS   int64  `json:"ts"`
}
