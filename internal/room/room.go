// Package room holds the per-board synchronization core: one Room owns a
// board's live state, assigns the server sequence, and fans sequenced ops out
// to connected clients. All mutation funnels through a single mutex so every
// client observes the same total order.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/replay"
	"whiteboard-backend/internal/store"
)

var (
	ErrPayloadTooLarge   = errors.New("op payload exceeds maximum size")
	ErrObjectLimit       = errors.New("board object limit reached")
	ErrForbidden         = errors.New("role does not permit this operation")
	ErrUnknownCheckpoint = errors.New("unknown checkpoint")
)

// userColors 접속 순서대로 돌아가며 배정되는 팔레트
var userColors = []string{
	"#F24E1E", "#FF7262", "#A259FF", "#1ABCFE",
	"#0ACF83", "#FFC700", "#699BF7", "#EE46D3",
}

// Client is one websocket attachment to a room. Send carries marshalled
// server-to-client frames; the write pump drains it. A full channel means the
// client is too slow and the frame is dropped.
type Client struct {
	ClientID    string
	DisplayName string
	Color       string
	Role        auth.Role
	Send        chan []byte

	closeMu sync.Mutex
	closed  bool
}

// TrySend queues a frame without blocking. Safe to call after Close; a
// replaced connection may still be reading when the room detaches it.
func (c *Client) TrySend(frame []byte) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- frame:
	default:
		log.Printf("[Room] ⚠️ Dropping frame for slow client %s", c.ClientID)
	}
}

// Close ends the write pump. Idempotent.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// OpRecord is one sequenced op kept in the in-memory tail for catch-up.
type OpRecord struct {
	ServerSeq int64
	ClientID  string
	ClientSeq int64
	OpType    string
	Payload   json.RawMessage
}

type dedupKey struct {
	clientID  string
	clientSeq int64
}

// Options 룸 생성 옵션
type Options struct {
	Config  config.RoomConfig
	Limits  Limits
	OnEmpty func(boardID string) // called after the grace period with no clients
}

// Room 한 보드의 동기화 상태 머신
type Room struct {
	BoardID string

	mu      sync.Mutex
	clients map[string]*Client

	serverSeq int64
	objects   map[string]map[string]any
	recentOps []OpRecord
	seen      map[dedupKey]bool

	store   store.BoardStore
	limits  Limits
	limiter *RateLimiter
	cfg     config.RoomConfig

	snapshotting atomic.Bool
	graceTimer   *time.Timer
	onEmpty      func(string)
	colorIdx     int
	lastCursor   map[string]time.Time
}

// cursorMinInterval caps cursor relays at 20 per second per client.
const cursorMinInterval = 50 * time.Millisecond

func NewRoom(boardID string, st store.BoardStore, opts Options) *Room {
	limits := opts.Limits
	if limits.MaxOpsPerSecPerClient == 0 {
		limits = DefaultLimits()
	}
	cfg := opts.Config
	if cfg.RecentOpsCap == 0 {
		cfg.RecentOpsCap = 500
		cfg.RecentOpsTrim = 250
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	return &Room{
		BoardID:    boardID,
		clients:    make(map[string]*Client),
		objects:    make(map[string]map[string]any),
		seen:       make(map[dedupKey]bool),
		lastCursor: make(map[string]time.Time),
		store:      st,
		limits:     limits,
		limiter:    NewRateLimiter(limits.MaxOpsPerSecPerClient),
		cfg:        cfg,
		onEmpty:    opts.OnEmpty,
	}
}

// Load rebuilds the room from the latest snapshot plus the log after it.
// Dedup keys are seeded from the replayed tail; anything older is caught by
// the store's uniqueness constraint.
func (r *Room) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var baseSeq int64
	snap, err := r.store.LatestSnapshotAtOrBefore(ctx, r.BoardID, math.MaxInt64)
	switch {
	case err == nil:
		r.objects = replay.CloneState(snap.Objects)
		baseSeq = snap.AtServerSeq
	case errors.Is(err, store.ErrNotFound):
		// Fresh board, replay from the beginning.
	default:
		return fmt.Errorf("load snapshot: %w", err)
	}

	entries, err := r.store.OpsInRange(ctx, r.BoardID, baseSeq, 0)
	if err != nil {
		return fmt.Errorf("load ops: %w", err)
	}

	r.serverSeq = baseSeq
	for _, entry := range entries {
		payload, err := decodePayload(entry.Payload)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", entry.ServerSeq, err)
		}
		replay.ApplyOp(r.objects, entry.OpType, payload)
		r.seen[dedupKey{entry.ClientID, entry.ClientSeq}] = true
		r.recentOps = append(r.recentOps, OpRecord{
			ServerSeq: entry.ServerSeq,
			ClientID:  entry.ClientID,
			ClientSeq: entry.ClientSeq,
			OpType:    entry.OpType,
			Payload:   entry.Payload,
		})
		r.serverSeq = entry.ServerSeq
	}
	r.trimRecentLocked()

	log.Printf("[Room] ✅ Board %s loaded at seq %d (%d objects, %d replayed ops)",
		r.BoardID, r.serverSeq, len(r.objects), len(entries))
	return nil
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Join registers a client, sends it the join ack plus catch-up, and announces
// it to the rest of the room. Reconnects under the same clientId replace the
// old attachment.
func (r *Room) Join(c *Client, lastSeenServerSeq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}

	if old, ok := r.clients[c.ClientID]; ok {
		old.Close()
	}
	c.Color = userColors[r.colorIdx%len(userColors)]
	r.colorIdx++
	r.clients[c.ClientID] = c

	roster := make([]protocol.RosterUser, 0, len(r.clients))
	for _, other := range r.clients {
		roster = append(roster, protocol.RosterUser{
			ClientID:    other.ClientID,
			DisplayName: other.DisplayName,
			Color:       other.Color,
			Role:        string(other.Role),
		})
	}
	c.TrySend(marshal(protocol.JoinAck{
		Type:             "joinAck",
		RoomID:           r.BoardID,
		ClientID:         c.ClientID,
		Role:             string(c.Role),
		CurrentServerSeq: r.serverSeq,
		Users:            roster,
	}))

	r.sendCatchUpLocked(c, lastSeenServerSeq)

	joined := marshal(protocol.UserJoined{
		Type:        "userJoined",
		ClientID:    c.ClientID,
		DisplayName: c.DisplayName,
		Color:       c.Color,
	})
	for id, other := range r.clients {
		if id != c.ClientID {
			other.TrySend(joined)
		}
	}

	log.Printf("[Room] User %s joined board %s (%d connected)", c.ClientID, r.BoardID, len(r.clients))
}

// sendCatchUpLocked replays the buffered tail to a rejoining client. The
// catch-up is bounded by the in-memory window: a client whose gap predates it
// sees the hole in the sequence numbers and fetches a snapshot and log range
// over HTTP instead.
func (r *Room) sendCatchUpLocked(c *Client, lastSeen int64) {
	for _, rec := range r.recentOps {
		if rec.ServerSeq > lastSeen {
			c.TrySend(marshal(broadcastFor(rec)))
		}
	}
}

// RemoveClient detaches a client and, when the room empties, arms the grace
// timer that lets the manager reclaim it. Removal is by instance: a stale
// connection going away must not detach the reconnect that replaced it.
func (r *Room) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[c.ClientID]
	if !ok || current != c {
		c.Close()
		return
	}
	delete(r.clients, c.ClientID)
	c.Close()
	r.limiter.Forget(c.ClientID)
	delete(r.lastCursor, c.ClientID)

	left := marshal(protocol.UserLeft{Type: "userLeft", ClientID: c.ClientID})
	for _, other := range r.clients {
		other.TrySend(left)
	}

	if len(r.clients) == 0 && r.onEmpty != nil {
		boardID := r.BoardID
		r.graceTimer = time.AfterFunc(r.cfg.GracePeriod, func() {
			r.onEmpty(boardID)
		})
	}

	log.Printf("[Room] User %s left board %s (%d connected)", c.ClientID, r.BoardID, len(r.clients))
}

// ClientCount 현재 접속자 수
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CurrentSeq 마지막으로 부여된 server sequence
func (r *Room) CurrentSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serverSeq
}

// HandleEnvelope dispatches one validated client frame.
func (r *Room) HandleEnvelope(ctx context.Context, c *Client, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeDurable:
		return r.SubmitBatch(ctx, c.ClientID, c.Role, env.OpBatch)

	case protocol.TypeEphemeral:
		if !auth.CanSendPresence(c.Role) {
			return ErrForbidden
		}
		r.relayEphemeral(c.ClientID, env.Ephemeral)
		return nil

	case protocol.TypeHybrid:
		if !auth.CanSendHybrid(c.Role) {
			return ErrForbidden
		}
		r.relayHybrid(c.ClientID, env)
		return nil

	case protocol.TypePing:
		c.TrySend(marshal(protocol.Pong{Type: "pong", TS: time.Now().UnixMilli()}))
		return nil
	}
	return protocol.ErrUnknownType
}

func (r *Room) relayEphemeral(senderID string, p *protocol.EphemeralPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Kind == "cursor" {
		now := time.Now()
		if now.Sub(r.lastCursor[senderID]) < cursorMinInterval {
			return
		}
		r.lastCursor[senderID] = now
	}
	frame := marshal(protocol.EphemeralRelay{Type: "ephemeral", ClientID: senderID, Payload: p})
	for id, other := range r.clients {
		if id != senderID {
			other.TrySend(frame)
		}
	}
}

// relayHybrid forwards a CRDT text update without interpreting it. The blob
// is not sequenced and not persisted here.
func (r *Room) relayHybrid(senderID string, env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := marshal(map[string]any{
		"v":        protocol.Version,
		"type":     protocol.TypeHybrid,
		"roomId":   r.BoardID,
		"clientId": senderID,
		"payload":  env.Hybrid,
	})
	for id, other := range r.clients {
		if id != senderID {
			other.TrySend(frame)
		}
	}
}

// SubmitBatch runs the full ingestion pipeline for one durable batch:
// authorize, rate limit, bounds, dedup, persist, apply, broadcast, then side
// effects, per op. An op failing an admission check is dropped and logged;
// the batch continues and the sender sees no error. A dropped op simply
// never produces a broadcast, and the client's resend is made safe by the
// dedup key. Only an unexpected persistence failure aborts the remainder of
// the batch.
func (r *Room) SubmitBatch(ctx context.Context, clientID string, role auth.Role, batch *protocol.OpBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := batch.Ops
	if len(ops) > r.limits.MaxBatchSize {
		log.Printf("[Room] ⚠️ Client %s sent %d ops in one batch on board %s, dropping the excess over %d",
			clientID, len(ops), r.BoardID, r.limits.MaxBatchSize)
		ops = ops[:r.limits.MaxBatchSize]
	}

	for i, op := range ops {
		clientSeq := batch.ClientSeqStart + int64(i)

		if err := r.authorizeOpLocked(role, op); err != nil {
			log.Printf("[Room] Dropping op %s/%d on board %s: %v", clientID, clientSeq, r.BoardID, err)
			continue
		}
		if !r.limiter.Allow(clientID) {
			log.Printf("[Room] ⚠️ Client %s over the rate limit on board %s, dropping op %d", clientID, r.BoardID, clientSeq)
			continue
		}
		if err := r.boundOpLocked(op); err != nil {
			log.Printf("[Room] Dropping op %s/%d on board %s: %v", clientID, clientSeq, r.BoardID, err)
			continue
		}
		if r.seen[dedupKey{clientID, clientSeq}] {
			continue // resend of an already sequenced op
		}

		if err := r.commitOpLocked(ctx, clientID, clientSeq, op); err != nil {
			if errors.Is(err, store.ErrDuplicateOp) {
				// Another writer claimed the position. The op was not
				// persisted, so it must stay admissible for a resend.
				log.Printf("[Room] Op %s/%d lost a sequence race on board %s, dropped", clientID, clientSeq, r.BoardID)
				continue
			}
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

// authorizeOpLocked enforces the role gate for one op. The target's live
// type decides what a commenter may touch; a missing target cannot be proven
// to be a comment, so it is denied.
func (r *Room) authorizeOpLocked(role auth.Role, op *protocol.Op) error {
	objectType := ""
	if op.Create != nil {
		objectType = op.Create.ObjectType
	} else if target := op.TargetObjectID(); target != "" {
		if obj, ok := r.objects[target]; ok {
			objectType, _ = obj["objectType"].(string)
		}
	}
	if !auth.IsOpAllowed(role, op.Type, objectType) {
		return fmt.Errorf("%w: role %s, op %s", ErrForbidden, role, op.Type)
	}
	return nil
}

// boundOpLocked enforces the payload and board size caps for one op.
func (r *Room) boundOpLocked(op *protocol.Op) error {
	if len(op.Raw) > r.limits.MaxOpPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(op.Raw))
	}
	if op.Create != nil && len(r.objects) >= r.limits.MaxObjectsPerBoard {
		return fmt.Errorf("%w: %d objects", ErrObjectLimit, len(r.objects))
	}
	return nil
}

// commitOpLocked assigns the next sequence number, persists, applies and
// broadcasts one op. The sequence is rolled back when the store rejects the
// append, so the counter never skips on a duplicate or a write failure.
func (r *Room) commitOpLocked(ctx context.Context, clientID string, clientSeq int64, op *protocol.Op) error {
	seq := r.serverSeq + 1
	entry := store.LogEntry{
		BoardID:   r.BoardID,
		ServerSeq: seq,
		ClientID:  clientID,
		ClientSeq: clientSeq,
		OpType:    op.Type,
		Payload:   op.Raw,
		CreatedAt: time.Now(),
	}
	if err := r.store.AppendOp(ctx, entry); err != nil {
		return err
	}
	r.serverSeq = seq
	r.seen[dedupKey{clientID, clientSeq}] = true

	payload, err := op.PayloadMap()
	if err != nil {
		// Already validated at the protocol boundary; treat as corruption.
		return err
	}
	replay.ApplyOp(r.objects, op.Type, payload)

	rec := OpRecord{ServerSeq: seq, ClientID: clientID, ClientSeq: clientSeq, OpType: op.Type, Payload: op.Raw}
	r.recentOps = append(r.recentOps, rec)
	r.trimRecentLocked()

	frame := marshal(broadcastFor(rec))
	for _, other := range r.clients {
		other.TrySend(frame)
	}

	return r.sideEffectsLocked(ctx, clientID, seq, op)
}

func (r *Room) sideEffectsLocked(ctx context.Context, clientID string, seq int64, op *protocol.Op) error {
	switch {
	case op.CheckpointCreate != nil:
		return r.checkpointCreateLocked(ctx, clientID, seq, op.CheckpointCreate)
	case op.CheckpointRestore != nil:
		return r.checkpointRestoreLocked(ctx, seq, op.CheckpointRestore)
	}
	if r.cfg.SnapshotInterval > 0 && seq%int64(r.cfg.SnapshotInterval) == 0 {
		r.maybeSnapshotLocked(seq)
	}
	return nil
}

// checkpointCreateLocked snapshots the state at the checkpoint op's own
// sequence and records the named pointer. Both writes happen before the next
// op is admitted, so the checkpoint always resolves to a stored snapshot.
func (r *Room) checkpointCreateLocked(ctx context.Context, clientID string, seq int64, cp *protocol.CheckpointCreateOp) error {
	snap := store.SnapshotRecord{
		BoardID:     r.BoardID,
		AtServerSeq: seq,
		Objects:     replay.CloneState(r.objects),
		CreatedAt:   time.Now(),
	}
	if err := r.store.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint snapshot: %w", err)
	}
	rec := store.CheckpointRecord{
		CheckpointID: cp.CheckpointID,
		BoardID:      r.BoardID,
		Name:         cp.Name,
		AtServerSeq:  seq,
		CreatedBy:    clientID,
		CreatedAt:    time.Now(),
	}
	if err := r.store.AppendCheckpoint(ctx, rec); err != nil {
		return fmt.Errorf("checkpoint record: %w", err)
	}
	log.Printf("[Room] ✅ Checkpoint %s created on board %s at seq %d", cp.CheckpointID, r.BoardID, seq)
	return nil
}

// checkpointRestoreLocked rebuilds the state as of the checkpoint's sequence
// and republishes it. A snapshot is forced at the restore op's own sequence
// so later replays land on the restored state without re-walking history.
func (r *Room) checkpointRestoreLocked(ctx context.Context, seq int64, cp *protocol.CheckpointRestoreOp) error {
	rec, err := r.store.GetCheckpoint(ctx, cp.CheckpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCheckpoint, cp.CheckpointID)
		}
		return fmt.Errorf("lookup checkpoint: %w", err)
	}
	if rec.BoardID != r.BoardID {
		return fmt.Errorf("%w: %s", ErrUnknownCheckpoint, cp.CheckpointID)
	}

	restored, err := r.stateAtLocked(ctx, rec.AtServerSeq)
	if err != nil {
		return fmt.Errorf("rebuild at seq %d: %w", rec.AtServerSeq, err)
	}
	r.objects = restored

	snap := store.SnapshotRecord{
		BoardID:     r.BoardID,
		AtServerSeq: seq,
		Objects:     replay.CloneState(restored),
		CreatedAt:   time.Now(),
	}
	if err := r.store.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	frame := marshal(protocol.StateReset{
		Type:         "stateReset",
		AtServerSeq:  seq,
		CheckpointID: cp.CheckpointID,
		Objects:      replay.CloneState(restored),
	})
	for _, other := range r.clients {
		other.TrySend(frame)
	}

	log.Printf("[Room] ✅ Board %s restored to checkpoint %s (seq %d -> state@%d)",
		r.BoardID, cp.CheckpointID, seq, rec.AtServerSeq)
	return nil
}

// stateAtLocked materializes the board at target from stored records.
func (r *Room) stateAtLocked(ctx context.Context, target int64) (map[string]map[string]any, error) {
	var base map[string]map[string]any
	var baseSeq int64
	snap, err := r.store.LatestSnapshotAtOrBefore(ctx, r.BoardID, target)
	switch {
	case err == nil:
		base = snap.Objects
		baseSeq = snap.AtServerSeq
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	entries, err := r.store.OpsInRange(ctx, r.BoardID, baseSeq, target)
	if err != nil {
		return nil, err
	}
	replayEntries := make([]replay.Entry, 0, len(entries))
	for _, entry := range entries {
		payload, err := decodePayload(entry.Payload)
		if err != nil {
			return nil, err
		}
		replayEntries = append(replayEntries, replay.Entry{
			ServerSeq: entry.ServerSeq,
			OpType:    entry.OpType,
			Payload:   payload,
		})
	}
	return replay.NewEngine(base, baseSeq, replayEntries).StateAt(target), nil
}

// maybeSnapshotLocked persists an interval snapshot in the background. The
// atomic gate keeps at most one interval snapshot in flight; a skipped
// interval is caught by the next one.
func (r *Room) maybeSnapshotLocked(seq int64) {
	if !r.snapshotting.CompareAndSwap(false, true) {
		return
	}
	snap := store.SnapshotRecord{
		BoardID:     r.BoardID,
		AtServerSeq: seq,
		Objects:     replay.CloneState(r.objects),
		CreatedAt:   time.Now(),
	}
	go func() {
		defer r.snapshotting.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.AppendSnapshot(ctx, snap); err != nil {
			log.Printf("[Room] ⚠️ Snapshot at seq %d failed on board %s: %v", seq, r.BoardID, err)
			return
		}
		log.Printf("[Room] Snapshot persisted for board %s at seq %d", r.BoardID, seq)
	}()
}

// RecentOpsSince returns the in-memory tail after since, along with the
// current sequence. ok is false when since predates the window and the
// caller needs a full resync.
func (r *Room) RecentOpsSince(since int64) (ops []OpRecord, current int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if since >= r.serverSeq {
		return nil, r.serverSeq, true
	}
	if len(r.recentOps) == 0 || since < r.recentOps[0].ServerSeq-1 {
		return nil, r.serverSeq, false
	}
	for _, rec := range r.recentOps {
		if rec.ServerSeq > since {
			ops = append(ops, rec)
		}
	}
	return ops, r.serverSeq, true
}

// Objects returns a copy of the live state.
func (r *Room) Objects() map[string]map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return replay.CloneState(r.objects)
}

func (r *Room) trimRecentLocked() {
	if len(r.recentOps) <= r.cfg.RecentOpsCap {
		return
	}
	keep := r.cfg.RecentOpsTrim
	if keep <= 0 || keep > len(r.recentOps) {
		keep = len(r.recentOps)
	}
	trimmed := make([]OpRecord, keep)
	copy(trimmed, r.recentOps[len(r.recentOps)-keep:])
	r.recentOps = trimmed
}

func broadcastFor(rec OpRecord) protocol.OpBroadcast {
	return protocol.OpBroadcast{
		Type:      "opBroadcast",
		ServerSeq: rec.ServerSeq,
		ClientID:  rec.ClientID,
		ClientSeq: rec.ClientSeq,
		OpType:    rec.OpType,
		Payload:   rec.Payload,
	}
}

func marshal(v any) []byte {
	// Marshalling our own message types cannot fail.
	b, _ := json.Marshal(v)
	return b
}
