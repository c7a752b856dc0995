package presence

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{expires: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) SetOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[userID] = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) SetOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, userID)
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(userID), nil
}

func (s *MemoryStore) OnlineMany(_ context.Context, userIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = s.live(id)
	}
	return out, nil
}

// live expires lazily. Caller holds s.mu.
func (s *MemoryStore) live(userID string) bool {
	exp, ok := s.expires[userID]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.expires, userID)
		return false
	}
	return true
}
