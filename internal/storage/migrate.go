package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xaenox/dreamchat/internal/models"
	"go.uber.org/zap"
)

// MigrateLegacy moves conversations from the flat legacy blob into the
// conversation store and removes the blob. A missing blob is a no-op and an
// unparseable one is logged and treated as absent.
func MigrateLegacy(ctx context.Context, store Storage, logger *zap.Logger) (int, error) {
	blob, ok, err := store.GetValue(ctx, LegacyConversationsKey)
	if err != nil {
		return 0, fmt.Errorf("read legacy conversations: %w", err)
	}
	if !ok {
		return 0, nil
	}

	var legacy []models.Conversation
	if err := json.Unmarshal([]byte(blob), &legacy); err != nil {
		logger.Warn("Legacy conversations could not be parsed, skipping migration", zap.Error(err))
		return 0, nil
	}

	for i := range legacy {
		conv := &legacy[i]
		if conv.Provider == "" {
			conv.Provider = models.DefaultProvider
		}
		if conv.Model == "" {
			conv.Model = models.DefaultModel
		}
		if conv.Title == "" {
			conv.Title = models.DefaultTitle
		}
		if conv.Messages == nil {
			conv.Messages = []models.Message{}
		}
	}

	if len(legacy) > 0 {
		if err := store.PutMany(ctx, legacy); err != nil {
			return 0, fmt.Errorf("store migrated conversations: %w", err)
		}
	}

	if err := store.DeleteValue(ctx, LegacyConversationsKey); err != nil {
		return len(legacy), fmt.Errorf("remove legacy conversations: %w", err)
	}

	logger.Info("Migrated legacy conversations", zap.Int("count", len(legacy)))
	return len(legacy), nil
}
