package storage

import (
	"sort"
	"strings"
	"sync"

	"parley/internal/models"
)

// MemStore is an in-memory message log with the same contract as BboltStore.
// Used as the store double in tests.
type MemStore struct {
	messages []models.Message
	nextID   int64
	mu       sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

func (s *MemStore) SaveMessage(msg models.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID
	s.nextID++
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *MemStore) RecentMessages(room string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(limit, func(m models.Message) bool {
		return m.Room == room
	}), nil
}

func (s *MemStore) MessagesByUser(user string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(limit, func(m models.Message) bool {
		return m.User == user
	}), nil
}

func (s *MemStore) SearchMessages(room, term string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(term)
	return s.filter(limit, func(m models.Message) bool {
		return m.Room == room && strings.Contains(strings.ToLower(m.Body), needle)
	}), nil
}

// filter returns up to limit matches, newest first. Caller holds the lock.
func (s *MemStore) filter(limit int, match func(models.Message) bool) []models.Message {
	var out []models.Message
	for _, m := range s.messages {
		if match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
