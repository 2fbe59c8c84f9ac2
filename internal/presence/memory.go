package presence

import (
	"context"
	"sync"

	"roomchat/internal/models"
)

type beaconState struct {
	present bool
	ts      int64
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]beaconState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]beaconState)}
}

func (s *MemoryStore) Set(ctx context.Context, beacon models.PresenceBeacon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.rooms[beacon.RoomID]
	if !ok {
		users = make(map[string]beaconState)
		s.rooms[beacon.RoomID] = users
	}
	if cur, ok := users[beacon.UserID]; ok && cur.ts > beacon.Timestamp {
		return nil
	}
	users[beacon.UserID] = beaconState{present: beacon.Present, ts: beacon.Timestamp}
	return nil
}

func (s *MemoryStore) Online(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, st := range s.rooms[roomID] {
		if st.present {
			n++
		}
	}
	return n, nil
}
