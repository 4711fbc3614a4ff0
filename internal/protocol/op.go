package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Durable op types. The eight variants are the only mutations that may enter
// the log; an unknown tag is a hard validation failure.
const (
	OpCreateObject      = "createObject"
	OpUpdateObject      = "updateObject"
	OpDeleteObject      = "deleteObject"
	OpConvertInkToText  = "convertInkToText"
	OpUndo              = "undo"
	OpRedo              = "redo"
	OpCheckpointCreate  = "checkpointCreate"
	OpCheckpointRestore = "checkpointRestore"
)

// BBox 경계 박스 (width/height는 양수여야 함)
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type CreateObjectOp struct {
	ObjectID   string         `json:"objectId"`
	ObjectType string         `json:"objectType"`
	Data       map[string]any `json:"data"`
}

type UpdateObjectOp struct {
	ObjectID string         `json:"objectId"`
	Patch    map[string]any `json:"patch"`
}

type DeleteObjectOp struct {
	ObjectID string `json:"objectId"`
}

type ConvertInkToTextOp struct {
	InkObjectIDs    []string       `json:"inkObjectIds"`
	ChosenText      string         `json:"chosenText"`
	NewTextObjectID string         `json:"newTextObjectId"`
	BBox            BBox           `json:"bbox"`
	Style           map[string]any `json:"style"`
	KeepInk         bool           `json:"keepInk"`
}

type UndoRedoOp struct {
	Count *int `json:"count,omitempty"`
}

type CheckpointCreateOp struct {
	CheckpointID string `json:"checkpointId"`
	Name         string `json:"name,omitempty"`
}

type CheckpointRestoreOp struct {
	CheckpointID string `json:"checkpointId"`
}

// Op is one validated durable operation. Raw keeps the full wire form for
// persistence and apply; exactly one variant pointer is set per Type.
type Op struct {
	Type string
	Raw  json.RawMessage

	Create            *CreateObjectOp
	Update            *UpdateObjectOp
	Delete            *DeleteObjectOp
	Convert           *ConvertInkToTextOp
	Undo              *UndoRedoOp
	Redo              *UndoRedoOp
	CheckpointCreate  *CheckpointCreateOp
	CheckpointRestore *CheckpointRestoreOp
}

// TargetObjectID returns the object an op addresses, or "" for ops without a
// single target (undo/redo/checkpoint/convert).
func (o *Op) TargetObjectID() string {
	switch {
	case o.Create != nil:
		return o.Create.ObjectID
	case o.Update != nil:
		return o.Update.ObjectID
	case o.Delete != nil:
		return o.Delete.ObjectID
	}
	return ""
}

// PayloadMap decodes the raw op into a generic map for state application.
func (o *Op) PayloadMap() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(o.Raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// DecodeOp validates one tagged op object. The switch is exhaustive over the
// eight variants; anything else is rejected.
func DecodeOp(raw json.RawMessage) (*Op, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	op := &Op{Type: tag.Type, Raw: raw}

	switch tag.Type {
	case OpCreateObject:
		var v CreateObjectOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := uuid.Parse(v.ObjectID); err != nil {
			return nil, fmt.Errorf("%w: createObject objectId is not a uuid", ErrMalformed)
		}
		if v.ObjectType == "" {
			return nil, fmt.Errorf("%w: createObject missing objectType", ErrMalformed)
		}
		if v.Data == nil {
			return nil, fmt.Errorf("%w: createObject missing data", ErrMalformed)
		}
		op.Create = &v

	case OpUpdateObject:
		var v UpdateObjectOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := uuid.Parse(v.ObjectID); err != nil {
			return nil, fmt.Errorf("%w: updateObject objectId is not a uuid", ErrMalformed)
		}
		if v.Patch == nil {
			return nil, fmt.Errorf("%w: updateObject missing patch", ErrMalformed)
		}
		op.Update = &v

	case OpDeleteObject:
		var v DeleteObjectOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := uuid.Parse(v.ObjectID); err != nil {
			return nil, fmt.Errorf("%w: deleteObject objectId is not a uuid", ErrMalformed)
		}
		op.Delete = &v

	case OpConvertInkToText:
		var v ConvertInkToTextOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(v.InkObjectIDs) == 0 {
			return nil, fmt.Errorf("%w: convertInkToText missing inkObjectIds", ErrMalformed)
		}
		for _, id := range v.InkObjectIDs {
			if _, err := uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("%w: convertInkToText ink id is not a uuid", ErrMalformed)
			}
		}
		if _, err := uuid.Parse(v.NewTextObjectID); err != nil {
			return nil, fmt.Errorf("%w: convertInkToText newTextObjectId is not a uuid", ErrMalformed)
		}
		if v.BBox.Width <= 0 || v.BBox.Height <= 0 {
			return nil, fmt.Errorf("%w: convertInkToText bbox must be positive", ErrMalformed)
		}
		op.Convert = &v

	case OpUndo, OpRedo:
		var v UndoRedoOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if v.Count != nil && *v.Count <= 0 {
			return nil, fmt.Errorf("%w: %s count must be positive", ErrMalformed, tag.Type)
		}
		if tag.Type == OpUndo {
			op.Undo = &v
		} else {
			op.Redo = &v
		}

	case OpCheckpointCreate:
		var v CheckpointCreateOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := uuid.Parse(v.CheckpointID); err != nil {
			return nil, fmt.Errorf("%w: checkpointCreate checkpointId is not a uuid", ErrMalformed)
		}
		op.CheckpointCreate = &v

	case OpCheckpointRestore:
		var v CheckpointRestoreOp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := uuid.Parse(v.CheckpointID); err != nil {
			return nil, fmt.Errorf("%w: checkpointRestore checkpointId is not a uuid", ErrMalformed)
		}
		op.CheckpointRestore = &v

	default:
		return nil, fmt.Errorf("%w: op type %q", ErrUnknownType, tag.Type)
	}

	return op, nil
}
