package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version 현재 지원하는 프로토콜 버전
const Version = 1

var (
	ErrUnknownVersion = errors.New("unknown protocol version")
	ErrUnknownType    = errors.New("unknown envelope type")
	ErrUnknownKind    = errors.New("unknown payload kind")
	ErrWrongDirection = errors.New("envelope not valid for this direction")
	ErrMalformed      = errors.New("malformed message")
)

// Envelope types
const (
	TypeDurable   = "durable"
	TypeEphemeral = "ephemeral"
	TypeHybrid    = "hybrid"
	TypePing      = "ping"
)

// Direction distinguishes the two wire schemas. Client-to-server and
// server-to-client use distinct shapes for the same envelope type; a client
// envelope smuggling a server-only field is a validation failure, not a no-op.
type Direction int

const (
	DirectionC2S Direction = iota
	DirectionS2C
)

// Envelope 버전이 붙은 외부 래퍼 메시지
type Envelope struct {
	V         int             `json:"v"`
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	ClientID  string          `json:"clientId"`
	MsgID     string          `json:"msgId"`
	TS        int64           `json:"ts"`
	ServerSeq *int64          `json:"serverSeq,omitempty"` // server-to-client only
	Payload   json.RawMessage `json:"payload"`

	// Decoded payload, one non-nil depending on Type.
	OpBatch   *OpBatch          `json:"-"`
	Ephemeral *EphemeralPayload `json:"-"`
	Hybrid    *HybridPayload    `json:"-"`
}

// OpBatch durable envelope 페이로드
type OpBatch struct {
	Kind           string `json:"kind"`
	ClientSeqStart int64  `json:"clientSeqStart"`
	Ops            []*Op  `json:"ops"`
}

// EphemeralPayload cursor/laser presence 업데이트 (절대 영속화하지 않음)
type EphemeralPayload struct {
	Kind   string  `json:"kind"` // "cursor" | "laser"
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Name   string  `json:"name,omitempty"`
	Active bool    `json:"active,omitempty"`
}

// HybridPayload opaque CRDT 텍스트 업데이트 (라우팅만, 해석하지 않음)
type HybridPayload struct {
	TargetObjectID string `json:"targetObjectId"`
	ServerSeqRef   int64  `json:"serverSeqRef"`
	Update         string `json:"update"` // base64 blob, opaque to the core
}

// ParseEnvelope validates a wire message against the schema for the given
// direction. Unknown versions, types, kinds and malformed op shapes are hard
// failures.
func ParseEnvelope(data []byte, dir Direction) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, env.V)
	}
	if env.RoomID == "" {
		return nil, fmt.Errorf("%w: missing roomId", ErrMalformed)
	}
	if _, err := uuid.Parse(env.ClientID); err != nil {
		return nil, fmt.Errorf("%w: clientId is not a uuid", ErrMalformed)
	}
	if _, err := uuid.Parse(env.MsgID); err != nil {
		return nil, fmt.Errorf("%w: msgId is not a uuid", ErrMalformed)
	}

	switch env.Type {
	case TypeDurable:
		// Directional check: serverSeq is assigned by the server and must
		// never arrive from a client; every broadcast must carry it.
		if dir == DirectionC2S && env.ServerSeq != nil {
			return nil, fmt.Errorf("%w: client durable envelope carries serverSeq", ErrWrongDirection)
		}
		if dir == DirectionS2C && env.ServerSeq == nil {
			return nil, fmt.Errorf("%w: server durable envelope missing serverSeq", ErrWrongDirection)
		}
		batch, err := parseOpBatch(env.Payload)
		if err != nil {
			return nil, err
		}
		env.OpBatch = batch

	case TypeEphemeral:
		if env.ServerSeq != nil {
			return nil, fmt.Errorf("%w: ephemeral envelope carries serverSeq", ErrWrongDirection)
		}
		eph, err := parseEphemeral(env.Payload)
		if err != nil {
			return nil, err
		}
		env.Ephemeral = eph

	case TypeHybrid:
		if dir == DirectionC2S && env.ServerSeq != nil {
			return nil, fmt.Errorf("%w: client hybrid envelope carries serverSeq", ErrWrongDirection)
		}
		hyb, err := parseHybrid(env.Payload)
		if err != nil {
			return nil, err
		}
		env.Hybrid = hyb

	case TypePing:
		// No payload requirements.

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return &env, nil
}

func parseOpBatch(raw json.RawMessage) (*OpBatch, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: durable envelope missing payload", ErrMalformed)
	}
	var batch struct {
		Kind           string            `json:"kind"`
		ClientSeqStart int64             `json:"clientSeqStart"`
		Ops            []json.RawMessage `json:"ops"`
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if batch.Kind != "opBatch" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, batch.Kind)
	}
	if batch.ClientSeqStart < 0 {
		return nil, fmt.Errorf("%w: negative clientSeqStart", ErrMalformed)
	}
	if len(batch.Ops) == 0 {
		return nil, fmt.Errorf("%w: empty op batch", ErrMalformed)
	}

	ops := make([]*Op, 0, len(batch.Ops))
	for i, rawOp := range batch.Ops {
		op, err := DecodeOp(rawOp)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}

	return &OpBatch{Kind: batch.Kind, ClientSeqStart: batch.ClientSeqStart, Ops: ops}, nil
}

func parseEphemeral(raw json.RawMessage) (*EphemeralPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: ephemeral envelope missing payload", ErrMalformed)
	}
	var p EphemeralPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch p.Kind {
	case "cursor", "laser":
		return &p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
}

func parseHybrid(raw json.RawMessage) (*HybridPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: hybrid envelope missing payload", ErrMalformed)
	}
	var p HybridPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := uuid.Parse(p.TargetObjectID); err != nil {
		return nil, fmt.Errorf("%w: targetObjectId is not a uuid", ErrMalformed)
	}
	if p.ServerSeqRef < 0 {
		return nil, fmt.Errorf("%w: negative serverSeqRef", ErrMalformed)
	}
	if p.Update == "" {
		return nil, fmt.Errorf("%w: hybrid payload missing update", ErrMalformed)
	}
	return &p, nil
}

// JoinRequest 연결 후 첫 프레임으로 반드시 와야 하는 핸드셰이크 메시지
type JoinRequest struct {
	Type              string `json:"type"`
	RoomID            string `json:"roomId"`
	Token             string `json:"token"`
	ClientID          string `json:"clientId"`
	LastSeenServerSeq int64  `json:"lastSeenServerSeq"`
	DisplayName       string `json:"displayName"`
}

// ParseJoin validates the handshake frame. Anything else as a first message
// must cause connection closure.
func ParseJoin(data []byte) (*JoinRequest, error) {
	var join JoinRequest
	if err := json.Unmarshal(data, &join); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if join.Type != "join" {
		return nil, fmt.Errorf("%w: first message must be join, got %q", ErrMalformed, join.Type)
	}
	if join.RoomID == "" || join.Token == "" {
		return nil, fmt.Errorf("%w: join missing roomId or token", ErrMalformed)
	}
	if _, err := uuid.Parse(join.ClientID); err != nil {
		return nil, fmt.Errorf("%w: join clientId is not a uuid", ErrMalformed)
	}
	if join.LastSeenServerSeq < 0 {
		return nil, fmt.Errorf("%w: negative lastSeenServerSeq", ErrMalformed)
	}
	return &join, nil
}
