package room

import (
	"context"
	"log"
	"sync"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/store"
)

// roomEntry 로딩 중/완료 상태를 함께 추적
type roomEntry struct {
	room    *Room
	ready   chan struct{}
	loadErr error
}

// Manager owns the live rooms. At most one load runs per board: concurrent
// joiners wait on the ready channel instead of racing their own loads.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*roomEntry
	store  store.BoardStore
	cfg    config.RoomConfig
	limits Limits
}

func NewManager(st store.BoardStore, cfg config.RoomConfig) *Manager {
	return &Manager{
		rooms:  make(map[string]*roomEntry),
		store:  st,
		cfg:    cfg,
		limits: DefaultLimits(),
	}
}

// GetOrCreate returns the live room for a board, loading it on first use.
// A failed load is forgotten so the next caller can retry.
func (m *Manager) GetOrCreate(ctx context.Context, boardID string) (*Room, error) {
	m.mu.Lock()
	entry, ok := m.rooms[boardID]
	if ok {
		m.mu.Unlock()
		<-entry.ready
		if entry.loadErr != nil {
			return nil, entry.loadErr
		}
		return entry.room, nil
	}

	entry = &roomEntry{
		ready: make(chan struct{}),
		room: NewRoom(boardID, m.store, Options{
			Config:  m.cfg,
			Limits:  m.limits,
			OnEmpty: m.DestroyIfEmpty,
		}),
	}
	m.rooms[boardID] = entry
	m.mu.Unlock()

	entry.loadErr = entry.room.Load(ctx)
	close(entry.ready)

	if entry.loadErr != nil {
		m.mu.Lock()
		delete(m.rooms, boardID)
		m.mu.Unlock()
		log.Printf("[Manager] 🚨 Failed to load board %s: %v", boardID, entry.loadErr)
		return nil, entry.loadErr
	}
	return entry.room, nil
}

// Attach joins a client to a board's room. The join happens under the
// manager's lock, so a grace-period destroy cannot slip between the lookup
// and the join and strand the client on an unloaded room while a second room
// is minted for the same board.
func (m *Manager) Attach(ctx context.Context, boardID string, c *Client, lastSeenServerSeq int64) (*Room, error) {
	for {
		rm, err := m.GetOrCreate(ctx, boardID)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		entry, ok := m.rooms[boardID]
		if ok && entry.room == rm {
			rm.Join(c, lastSeenServerSeq)
			m.mu.Unlock()
			return rm, nil
		}
		m.mu.Unlock()
		// The room was unloaded between the lookup and the join; look it up
		// again.
	}
}

// Get returns a loaded room, or nil when the board has no live room.
func (m *Manager) Get(boardID string) *Room {
	m.mu.Lock()
	entry, ok := m.rooms[boardID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	<-entry.ready
	if entry.loadErr != nil {
		return nil
	}
	return entry.room
}

// DestroyIfEmpty drops a room after its grace period, unless someone
// reconnected in the meantime.
func (m *Manager) DestroyIfEmpty(boardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.rooms[boardID]
	if !ok {
		return
	}
	select {
	case <-entry.ready:
	default:
		return // still loading
	}
	if entry.loadErr == nil && entry.room.ClientCount() > 0 {
		return
	}
	delete(m.rooms, boardID)
	log.Printf("[Manager] Board %s unloaded after grace period", boardID)
}

// RoomStats 운영 지표용 룸 요약
type RoomStats struct {
	BoardID     string `json:"boardId"`
	Clients     int    `json:"clients"`
	CurrentSeq  int64  `json:"currentServerSeq"`
	ObjectCount int    `json:"objectCount"`
}

// Stats returns a summary of every loaded room.
func (m *Manager) Stats() []RoomStats {
	m.mu.Lock()
	entries := make([]*roomEntry, 0, len(m.rooms))
	for _, entry := range m.rooms {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	stats := make([]RoomStats, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.loadErr != nil {
			continue
		}
		r := entry.room
		stats = append(stats, RoomStats{
			BoardID:     r.BoardID,
			Clients:     r.ClientCount(),
			CurrentSeq:  r.CurrentSeq(),
			ObjectCount: len(r.Objects()),
		})
	}
	return stats
}
