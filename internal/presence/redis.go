// Package presence mirrors who is connected to which board into Redis so
// external services (and the REST presence endpoint) can answer "who is on
// this board" without touching the websocket layer. The mirror is advisory:
// the room's in-memory roster stays authoritative and the server runs fine
// with Redis disabled.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry Redis에 저장되는 접속자 한 명의 정보
type Entry struct {
	BoardID     string `json:"board_id"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	ConnectedAt int64  `json:"connected_at"`
	LastSeen    int64  `json:"last_seen"`
}

// Keys expire on their own so a crashed server never leaves ghost entries.
const entryTTL = 60 * time.Second

// Manager Presence 미러 관리자 (nil이면 모든 호출이 no-op)
type Manager struct {
	client *redis.Client
}

// NewManager connects to Redis and verifies the connection.
func NewManager(ctx context.Context, addr, password string, db int) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[Presence] ✅ Connected to Redis at %s", addr)
	return &Manager{client: rdb}, nil
}

func clientKey(boardID, clientID string) string {
	return fmt.Sprintf("board:%s:client:%s", boardID, clientID)
}

// SetClient records a connection.
func (m *Manager) SetClient(ctx context.Context, e Entry) error {
	if m == nil {
		return nil
	}
	now := time.Now().Unix()
	if e.ConnectedAt == 0 {
		e.ConnectedAt = now
	}
	e.LastSeen = now

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, clientKey(e.BoardID, e.ClientID), data, entryTTL).Err()
}

// RefreshClient extends the TTL on ping, keeping the entry alive without
// rewriting it.
func (m *Manager) RefreshClient(ctx context.Context, boardID, clientID string) error {
	if m == nil {
		return nil
	}
	ok, err := m.client.Expire(ctx, clientKey(boardID, clientID), entryTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("client %s not present on board %s", clientID, boardID)
	}
	return nil
}

// RemoveClient drops a connection's entry.
func (m *Manager) RemoveClient(ctx context.Context, boardID, clientID string) error {
	if m == nil {
		return nil
	}
	return m.client.Del(ctx, clientKey(boardID, clientID)).Err()
}

// BoardClients lists the live entries for one board.
func (m *Manager) BoardClients(ctx context.Context, boardID string) ([]Entry, error) {
	if m == nil {
		return nil, nil
	}

	var entries []Entry
	iter := m.client.Scan(ctx, 0, clientKey(boardID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		val, err := m.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			log.Printf("[Presence] ⚠️ Corrupt entry at %s: %v", iter.Val(), err)
			continue
		}
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Boards lists board IDs with at least one live mirrored client, counting the
// entries per board. Useful for stats when rooms live on other instances.
func (m *Manager) Boards(ctx context.Context) (map[string]int, error) {
	if m == nil {
		return nil, nil
	}

	counts := make(map[string]int)
	iter := m.client.Scan(ctx, 0, "board:*:client:*", 100).Iterator()
	for iter.Next(ctx) {
		boardID, _, ok := strings.Cut(strings.TrimPrefix(iter.Val(), "board:"), ":client:")
		if !ok {
			continue
		}
		counts[boardID]++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
