// Package replay reconstructs board state from a base snapshot plus an
// ordered slice of the op log. The live room and the time-travel engine share
// ApplyOp so the two can never drift apart.
package replay

import "whiteboard-backend/internal/protocol"

// ApplyOp mutates objects according to one durable op. Application is
// last-write-wins; no merge conflict detection is attempted. Meta ops
// (undo/redo/checkpointCreate/checkpointRestore) do not touch objects:
// undo/redo arrive as ordinary inverse ops generated client-side, and
// restore correctness is carried by the snapshot forced at the restore op's
// own sequence number.
func ApplyOp(objects map[string]map[string]any, opType string, payload map[string]any) {
	switch opType {
	case protocol.OpCreateObject:
		objectID, ok := payload["objectId"].(string)
		if !ok || objectID == "" {
			return
		}
		objects[objectID] = cloneObject(payload)

	case protocol.OpUpdateObject:
		objectID, ok := payload["objectId"].(string)
		if !ok {
			return
		}
		existing, ok := objects[objectID]
		if !ok {
			return // updating a deleted object is a no-op
		}
		patch, ok := payload["patch"].(map[string]any)
		if !ok {
			return
		}
		for k, v := range patch {
			existing[k] = v
		}

	case protocol.OpDeleteObject:
		objectID, ok := payload["objectId"].(string)
		if !ok {
			return
		}
		delete(objects, objectID)

	case protocol.OpConvertInkToText:
		keepInk, _ := payload["keepInk"].(bool)
		if inkIDs, ok := payload["inkObjectIds"].([]any); ok && !keepInk {
			for _, raw := range inkIDs {
				if id, ok := raw.(string); ok {
					delete(objects, id)
				}
			}
		}
		newTextID, ok := payload["newTextObjectId"].(string)
		if !ok || newTextID == "" {
			return
		}
		obj := cloneObject(payload)
		obj["type"] = "text"
		objects[newTextID] = obj
	}
}

// CloneState deep-copies one level of a materialized object map. Object
// attribute values are shared; ops replace attributes wholesale so one level
// is enough to isolate callers.
func CloneState(objects map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(objects))
	for id, obj := range objects {
		out[id] = cloneObject(obj)
	}
	return out
}

func cloneObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
