package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/store"
)

// countingStore wraps memStore to count snapshot lookups, one per room load.
type countingStore struct {
	*memStore
	mu    sync.Mutex
	loads int
	block chan struct{} // when set, loads wait here
}

func (s *countingStore) LatestSnapshotAtOrBefore(ctx context.Context, boardID string, seq int64) (*store.SnapshotRecord, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.memStore.LatestSnapshotAtOrBefore(ctx, boardID, seq)
}

func TestManagerSingleLoadPerBoard(t *testing.T) {
	st := &countingStore{memStore: newMemStore(), block: make(chan struct{})}
	m := NewManager(st, config.RoomConfig{GracePeriod: time.Hour, RecentOpsCap: 500, RecentOpsTrim: 250})

	const waiters = 8
	rooms := make([]*Room, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.GetOrCreate(context.Background(), "board-1")
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			rooms[i] = r
		}(i)
	}
	time.Sleep(20 * time.Millisecond) // let all waiters queue up
	close(st.block)
	wg.Wait()

	st.mu.Lock()
	loads := st.loads
	st.mu.Unlock()
	if loads != 1 {
		t.Errorf("board loaded %d times, want 1", loads)
	}
	for i := 1; i < waiters; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("waiter %d got a different room instance", i)
		}
	}
}

type failingStore struct {
	*memStore
	fail bool
}

func (s *failingStore) LatestSnapshotAtOrBefore(ctx context.Context, boardID string, seq int64) (*store.SnapshotRecord, error) {
	if s.fail {
		return nil, errors.New("db down")
	}
	return s.memStore.LatestSnapshotAtOrBefore(ctx, boardID, seq)
}

func TestManagerFailedLoadIsRetryable(t *testing.T) {
	st := &failingStore{memStore: newMemStore(), fail: true}
	m := NewManager(st, config.RoomConfig{GracePeriod: time.Hour, RecentOpsCap: 500, RecentOpsTrim: 250})

	if _, err := m.GetOrCreate(context.Background(), "board-1"); err == nil {
		t.Fatal("expected the first load to fail")
	}

	st.fail = false
	r, err := m.GetOrCreate(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if r == nil {
		t.Fatal("retry returned no room")
	}
}

func TestManagerDestroyOnlyWhenEmpty(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, config.RoomConfig{GracePeriod: time.Hour, RecentOpsCap: 500, RecentOpsTrim: 250})

	r, err := m.GetOrCreate(context.Background(), "board-1")
	if err != nil {
		t.Fatal(err)
	}
	attach(r, uuid.NewString(), auth.RoleEdit)

	m.DestroyIfEmpty("board-1")
	if m.Get("board-1") == nil {
		t.Fatal("room with clients was destroyed")
	}

	// After the last client leaves the destroy goes through.
	for _, c := range r.clients {
		r.RemoveClient(c)
	}
	m.DestroyIfEmpty("board-1")
	if m.Get("board-1") != nil {
		t.Fatal("empty room survived DestroyIfEmpty")
	}
}

func TestManagerAttachSurvivesGraceDestroyRace(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, config.RoomConfig{GracePeriod: time.Hour, RecentOpsCap: 500, RecentOpsTrim: 250})

	// A joiner looks up the room, then the grace timer fires before the join
	// lands.
	orphan, err := m.GetOrCreate(context.Background(), "board-1")
	if err != nil {
		t.Fatal(err)
	}
	m.DestroyIfEmpty("board-1")

	c := &Client{ClientID: uuid.NewString(), DisplayName: "late", Role: auth.RoleEdit, Send: make(chan []byte, 64)}
	rm, err := m.Attach(context.Background(), "board-1", c, 0)
	if err != nil {
		t.Fatal(err)
	}

	// The client must end up on the room the manager serves, never on the
	// unloaded one: two live rooms would mean two sequencers for one board.
	if got := m.Get("board-1"); got != rm {
		t.Fatal("joined room is not the one the manager serves")
	}
	if rm.ClientCount() != 1 {
		t.Errorf("attached room has %d clients, want 1", rm.ClientCount())
	}
	if orphan != rm && orphan.ClientCount() != 0 {
		t.Error("client landed on the unloaded room")
	}
}

func TestManagerStats(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, config.RoomConfig{GracePeriod: time.Hour, RecentOpsCap: 500, RecentOpsTrim: 250})

	r, err := m.GetOrCreate(context.Background(), "board-1")
	if err != nil {
		t.Fatal(err)
	}
	alice := uuid.NewString()
	attach(r, alice, auth.RoleEdit)
	if err := r.SubmitBatch(context.Background(), alice, auth.RoleEdit,
		batchOf(1, createOp(t, uuid.NewString(), "sticky"))); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("got %d stat rows", len(stats))
	}
	s := stats[0]
	if s.BoardID != "board-1" || s.Clients != 1 || s.CurrentSeq != 1 || s.ObjectCount != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
