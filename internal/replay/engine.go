package replay

// Entry 엔진에 공급되는 로그 항목 (seq 오름차순이어야 함)
type Entry struct {
	ServerSeq int64
	OpType    string
	Payload   map[string]any
}

// Engine reconstructs the document at any target sequence from a base
// snapshot plus the log after it. Stateless across calls: every StateAt
// recomputes from the base, so the scrubber never holds derived state.
type Engine struct {
	base    map[string]map[string]any
	baseSeq int64
	entries []Entry
}

// NewEngine builds an engine from an optional base snapshot (nil for "from
// the beginning") anchored at baseSeq, and entries with seq > baseSeq in
// ascending order.
func NewEngine(base map[string]map[string]any, baseSeq int64, entries []Entry) *Engine {
	return &Engine{
		base:    CloneState(base),
		baseSeq: baseSeq,
		entries: entries,
	}
}

// StateAt returns the materialized state at target (>= baseSeq). Entries past
// the target or at or below the base are skipped.
func (e *Engine) StateAt(target int64) map[string]map[string]any {
	objects := CloneState(e.base)
	for _, entry := range e.entries {
		if entry.ServerSeq > target {
			break
		}
		if entry.ServerSeq <= e.baseSeq {
			continue
		}
		ApplyOp(objects, entry.OpType, entry.Payload)
	}
	return objects
}

// TotalOps 엔진이 커버하는 로그 항목 수
func (e *Engine) TotalOps() int {
	return len(e.entries)
}

// FirstSeq scrubber 하한
func (e *Engine) FirstSeq() int64 {
	if len(e.entries) > 0 {
		return e.entries[0].ServerSeq
	}
	return e.baseSeq
}

// LastSeq scrubber 상한
func (e *Engine) LastSeq() int64 {
	if len(e.entries) > 0 {
		return e.entries[len(e.entries)-1].ServerSeq
	}
	return e.baseSeq
}
