package history

import (
	"context"
	"sync"
	"time"
)

type cacheKey struct {
	subjectID      string
	conversationID string
}

// InMemoryStore is an in-process store for local/dev use and tests. It honors
// the same global capacity bound as the Postgres store.
type InMemoryStore struct {
	mu        sync.RWMutex
	capacity  int
	histories map[cacheKey][]Turn
	updatedAt map[cacheKey]time.Time
	clock     func() time.Time
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryStore{
		capacity:  capacity,
		histories: make(map[cacheKey][]Turn),
		updatedAt: make(map[cacheKey]time.Time),
		clock:     time.Now,
	}
}

func (s *InMemoryStore) Get(_ context.Context, subjectID, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.histories[cacheKey{subjectID, conversationID}]
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) InsertOrAppend(_ context.Context, subjectID, conversationID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey{subjectID, conversationID}
	_, existed := s.histories[key]
	s.histories[key] = append(s.histories[key], turn)
	s.updatedAt[key] = s.clock()

	if !existed {
		s.evictOldestLocked()
	}
	return nil
}

func (s *InMemoryStore) evictOldestLocked() {
	for len(s.histories) > s.capacity {
		var (
			oldest   cacheKey
			oldestAt time.Time
			found    bool
		)
		for key, at := range s.updatedAt {
			if !found || at.Before(oldestAt) {
				oldest, oldestAt, found = key, at, true
			}
		}
		if !found {
			return
		}
		delete(s.histories, oldest)
		delete(s.updatedAt, oldest)
	}
}

// EntryCount reports the number of distinct conversations held.
func (s *InMemoryStore) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}

func (s *InMemoryStore) Close() error { return nil }
