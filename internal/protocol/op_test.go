package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func decode(t *testing.T, m map[string]any) (*Op, error) {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return DecodeOp(raw)
}

func TestDecodeOpVariants(t *testing.T) {
	objID := uuid.NewString()
	inkID := uuid.NewString()
	textID := uuid.NewString()
	cpID := uuid.NewString()

	tests := []struct {
		name  string
		op    map[string]any
		check func(t *testing.T, op *Op)
	}{
		{
			"createObject",
			map[string]any{"type": "createObject", "objectId": objID, "objectType": "ink", "data": map[string]any{"points": []any{}}},
			func(t *testing.T, op *Op) {
				if op.Create == nil || op.Create.ObjectType != "ink" {
					t.Fatalf("bad create: %+v", op.Create)
				}
				if op.TargetObjectID() != objID {
					t.Errorf("TargetObjectID = %q", op.TargetObjectID())
				}
			},
		},
		{
			"updateObject",
			map[string]any{"type": "updateObject", "objectId": objID, "patch": map[string]any{"color": "red"}},
			func(t *testing.T, op *Op) {
				if op.Update == nil || op.Update.Patch["color"] != "red" {
					t.Fatalf("bad update: %+v", op.Update)
				}
			},
		},
		{
			"deleteObject",
			map[string]any{"type": "deleteObject", "objectId": objID},
			func(t *testing.T, op *Op) {
				if op.Delete == nil {
					t.Fatal("delete variant not set")
				}
			},
		},
		{
			"convertInkToText",
			map[string]any{
				"type": "convertInkToText", "inkObjectIds": []string{inkID}, "chosenText": "hi",
				"newTextObjectId": textID, "bbox": map[string]any{"x": 0, "y": 0, "width": 10, "height": 5},
				"style": map[string]any{}, "keepInk": false,
			},
			func(t *testing.T, op *Op) {
				if op.Convert == nil || op.Convert.NewTextObjectID != textID {
					t.Fatalf("bad convert: %+v", op.Convert)
				}
			},
		},
		{
			"undo",
			map[string]any{"type": "undo", "count": 2},
			func(t *testing.T, op *Op) {
				if op.Undo == nil || op.Undo.Count == nil || *op.Undo.Count != 2 {
					t.Fatalf("bad undo: %+v", op.Undo)
				}
			},
		},
		{
			"redo without count",
			map[string]any{"type": "redo"},
			func(t *testing.T, op *Op) {
				if op.Redo == nil || op.Redo.Count != nil {
					t.Fatalf("bad redo: %+v", op.Redo)
				}
			},
		},
		{
			"checkpointCreate",
			map[string]any{"type": "checkpointCreate", "checkpointId": cpID, "name": "v1"},
			func(t *testing.T, op *Op) {
				if op.CheckpointCreate == nil || op.CheckpointCreate.Name != "v1" {
					t.Fatalf("bad checkpointCreate: %+v", op.CheckpointCreate)
				}
			},
		},
		{
			"checkpointRestore",
			map[string]any{"type": "checkpointRestore", "checkpointId": cpID},
			func(t *testing.T, op *Op) {
				if op.CheckpointRestore == nil || op.CheckpointRestore.CheckpointID != cpID {
					t.Fatalf("bad checkpointRestore: %+v", op.CheckpointRestore)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := decode(t, tt.op)
			if err != nil {
				t.Fatalf("DecodeOp failed: %v", err)
			}
			if op.Type != tt.op["type"] {
				t.Errorf("Type = %q, want %q", op.Type, tt.op["type"])
			}
			tt.check(t, op)
		})
	}
}

func TestDecodeOpRejectsUnknownTag(t *testing.T) {
	_, err := decode(t, map[string]any{"type": "moveObject", "objectId": uuid.NewString()})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeOpRejectsMalformedShapes(t *testing.T) {
	objID := uuid.NewString()
	bad := []map[string]any{
		{"type": "createObject", "objectId": "nope", "objectType": "ink", "data": map[string]any{}},
		{"type": "createObject", "objectId": objID, "objectType": "", "data": map[string]any{}},
		{"type": "createObject", "objectId": objID, "objectType": "ink"},
		{"type": "updateObject", "objectId": objID},
		{"type": "deleteObject", "objectId": "12"},
		{"type": "undo", "count": 0},
		{"type": "redo", "count": -1},
		{"type": "checkpointCreate", "checkpointId": "nope"},
		{"type": "checkpointRestore"},
		{"type": "convertInkToText", "inkObjectIds": []string{}, "chosenText": "x",
			"newTextObjectId": objID, "bbox": map[string]any{"x": 0, "y": 0, "width": 1, "height": 1}},
	}
	for _, m := range bad {
		if _, err := decode(t, m); err == nil {
			t.Errorf("DecodeOp(%v) should have failed", m)
		}
	}
}

func TestDecodeOpRejectsNonPositiveBBox(t *testing.T) {
	for _, dims := range [][2]float64{{0, 5}, {5, 0}, {-1, 5}, {5, -1}} {
		m := map[string]any{
			"type": "convertInkToText", "inkObjectIds": []string{uuid.NewString()},
			"chosenText": "x", "newTextObjectId": uuid.NewString(),
			"bbox":  map[string]any{"x": 0, "y": 0, "width": dims[0], "height": dims[1]},
			"style": map[string]any{}, "keepInk": true,
		}
		if _, err := decode(t, m); !errors.Is(err, ErrMalformed) {
			t.Errorf("bbox %vx%v: expected ErrMalformed, got %v", dims[0], dims[1], err)
		}
	}
}
