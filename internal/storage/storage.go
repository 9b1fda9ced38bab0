package storage

import (
	"context"
	"sort"

	"github.com/xaenox/dreamchat/internal/models"
)

// Fixed keys of the key/value area.
const (
	LegacyConversationsKey = "chatgpt_conversations"
	ActiveConversationKey  = "chatgpt_active_conversation"
	OpenAIKeyKey           = "openai_api_key"
	AnthropicKeyKey        = "anthropic_api_key"
	AnthropicBaseURLKey    = "anthropic_base_url"
)

// Storage persists conversations and the active conversation pointer.
// Writes for the same key are applied in call order.
type Storage interface {
	// List returns conversations most-recently-updated first.
	List(ctx context.Context) ([]models.Conversation, error)
	// Get returns nil, nil when the conversation does not exist.
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Put(ctx context.Context, conv models.Conversation) error
	PutMany(ctx context.Context, convs []models.Conversation) error
	Delete(ctx context.Context, id string) error
	Close() error

	// Embed ActiveStorage interface
	ActiveStorage
	KeyValueStore
}

type ActiveStorage interface {
	GetActiveID(ctx context.Context) (string, error)
	SetActiveID(ctx context.Context, id string) error
}

// KeyValueStore holds small scalar settings such as credentials.
type KeyValueStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// sortByRecent orders conversations by UpdatedAt descending, id descending on ties.
func sortByRecent(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt != convs[j].UpdatedAt {
			return convs[i].UpdatedAt > convs[j].UpdatedAt
		}
		return convs[i].ID > convs[j].ID
	})
}
