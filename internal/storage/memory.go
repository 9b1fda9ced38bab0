package storage

import (
	"context"
	"sync"

	"github.com/xaenox/dreamchat/internal/models"
)

type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	values        map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]models.Conversation),
		values:        make(map[string]string),
	}
}

// Conversation methods
func (s *MemoryStorage) List(ctx context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		result = append(result, conv.Clone())
	}
	sortByRecent(result)
	return result, nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[id]; exists {
		c := conv.Clone()
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStorage) Put(ctx context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryStorage) PutMany(ctx context.Context, convs []models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range convs {
		s.conversations[conv.ID] = conv.Clone()
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	return nil
}

func (s *MemoryStorage) GetActiveID(ctx context.Context) (string, error) {
	id, _, err := s.GetValue(ctx, ActiveConversationKey)
	return id, err
}

func (s *MemoryStorage) SetActiveID(ctx context.Context, id string) error {
	return s.SetValue(ctx, ActiveConversationKey, id)
}

// Key/value methods
func (s *MemoryStorage) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MemoryStorage) DeleteValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
