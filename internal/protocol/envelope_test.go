package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func validDurableEnvelope(t *testing.T) map[string]any {
	t.Helper()
	return map[string]any{
		"v":        Version,
		"type":     "durable",
		"roomId":   uuid.NewString(),
		"clientId": uuid.NewString(),
		"msgId":    uuid.NewString(),
		"ts":       1700000000000,
		"payload": map[string]any{
			"kind":           "opBatch",
			"clientSeqStart": 0,
			"ops": []map[string]any{
				{
					"type":       "createObject",
					"objectId":   uuid.NewString(),
					"objectType": "sticky",
					"data":       map[string]any{"text": "hello"},
				},
			},
		},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseEnvelopeDurableC2S(t *testing.T) {
	env, err := ParseEnvelope(marshal(t, validDurableEnvelope(t)), DirectionC2S)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.OpBatch == nil || len(env.OpBatch.Ops) != 1 {
		t.Fatalf("expected decoded op batch, got %+v", env.OpBatch)
	}
	if env.OpBatch.Ops[0].Type != OpCreateObject {
		t.Errorf("op type = %q, want createObject", env.OpBatch.Ops[0].Type)
	}
}

func TestParseEnvelopeRejectsUnknownVersion(t *testing.T) {
	m := validDurableEnvelope(t)
	m["v"] = 2
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestParseEnvelopeRejectsUnknownType(t *testing.T) {
	m := validDurableEnvelope(t)
	m["type"] = "broadcast"
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseEnvelopeDirectionalServerSeq(t *testing.T) {
	// A client envelope smuggling serverSeq must be rejected.
	m := validDurableEnvelope(t)
	m["serverSeq"] = 42
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("c2s with serverSeq: expected ErrWrongDirection, got %v", err)
	}

	// The same message is valid as a server broadcast.
	if _, err := ParseEnvelope(marshal(t, m), DirectionS2C); err != nil {
		t.Errorf("s2c with serverSeq should parse: %v", err)
	}

	// A server durable envelope without serverSeq is invalid.
	delete(m, "serverSeq")
	if _, err := ParseEnvelope(marshal(t, m), DirectionS2C); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("s2c without serverSeq: expected ErrWrongDirection, got %v", err)
	}
}

func TestParseEnvelopeRejectsBadIDs(t *testing.T) {
	m := validDurableEnvelope(t)
	m["clientId"] = "not-a-uuid"
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for bad clientId, got %v", err)
	}

	m = validDurableEnvelope(t)
	m["msgId"] = ""
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for bad msgId, got %v", err)
	}
}

func TestParseEnvelopeRejectsBadBatch(t *testing.T) {
	m := validDurableEnvelope(t)
	m["payload"] = map[string]any{"kind": "opBatch", "clientSeqStart": 0, "ops": []any{}}
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty batch: expected ErrMalformed, got %v", err)
	}

	m = validDurableEnvelope(t)
	m["payload"] = map[string]any{"kind": "batch", "clientSeqStart": 0, "ops": []any{map[string]any{"type": "undo"}}}
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("wrong kind: expected ErrUnknownKind, got %v", err)
	}
}

func TestParseEnvelopeEphemeral(t *testing.T) {
	m := map[string]any{
		"v":        Version,
		"type":     "ephemeral",
		"roomId":   uuid.NewString(),
		"clientId": uuid.NewString(),
		"msgId":    uuid.NewString(),
		"ts":       1700000000000,
		"payload":  map[string]any{"kind": "cursor", "x": 10.5, "y": 20.0, "name": "dana"},
	}
	env, err := ParseEnvelope(marshal(t, m), DirectionC2S)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Ephemeral == nil || env.Ephemeral.Kind != "cursor" {
		t.Fatalf("expected cursor payload, got %+v", env.Ephemeral)
	}

	m["payload"] = map[string]any{"kind": "gaze", "x": 1.0, "y": 2.0}
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown presence kind: expected ErrUnknownKind, got %v", err)
	}
}

func TestParseEnvelopeHybrid(t *testing.T) {
	m := map[string]any{
		"v":        Version,
		"type":     "hybrid",
		"roomId":   uuid.NewString(),
		"clientId": uuid.NewString(),
		"msgId":    uuid.NewString(),
		"ts":       1700000000000,
		"payload": map[string]any{
			"targetObjectId": uuid.NewString(),
			"serverSeqRef":   12,
			"update":         "AAEC",
		},
	}
	env, err := ParseEnvelope(marshal(t, m), DirectionC2S)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Hybrid == nil || env.Hybrid.ServerSeqRef != 12 {
		t.Fatalf("expected hybrid payload, got %+v", env.Hybrid)
	}

	m["payload"] = map[string]any{"targetObjectId": uuid.NewString(), "serverSeqRef": 0, "update": ""}
	if _, err := ParseEnvelope(marshal(t, m), DirectionC2S); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty update: expected ErrMalformed, got %v", err)
	}
}

func TestParseJoin(t *testing.T) {
	clientID := uuid.NewString()
	good := fmt.Sprintf(`{"type":"join","roomId":"b1","token":"tok","clientId":%q,"lastSeenServerSeq":7,"displayName":"Dana"}`, clientID)
	join, err := ParseJoin([]byte(good))
	if err != nil {
		t.Fatalf("ParseJoin failed: %v", err)
	}
	if join.LastSeenServerSeq != 7 || join.ClientID != clientID {
		t.Errorf("unexpected join: %+v", join)
	}

	bad := []string{
		`{"type":"durable"}`,
		`{"type":"join","roomId":"","token":"tok","clientId":"` + clientID + `"}`,
		`{"type":"join","roomId":"b1","token":"","clientId":"` + clientID + `"}`,
		`{"type":"join","roomId":"b1","token":"tok","clientId":"nope"}`,
		`not json`,
	}
	for _, raw := range bad {
		if _, err := ParseJoin([]byte(raw)); err == nil {
			t.Errorf("ParseJoin(%s) should have failed", raw)
		}
	}
}
