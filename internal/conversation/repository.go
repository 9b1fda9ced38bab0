package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/storage"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidModel    = errors.New("model does not belong to provider")
)

// Repository owns the list of conversations and the active pointer.
// In-memory state is updated first, then persisted; persistence failures are
// logged and never roll the state back.
type Repository struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	// writeMu serializes mutations so they reach storage in mutation order.
	writeMu sync.Mutex

	mu            sync.RWMutex
	conversations []models.Conversation
	activeID      string
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// NewID returns a time-ordered identifier that does not collide within a millisecond.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func NewRepository(store storage.Storage, logger *zap.Logger, opts ...Option) *Repository {
	r := &Repository{
		store:         store,
		logger:        logger,
		now:           time.Now,
		newID:         NewID,
		conversations: []models.Conversation{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init migrates legacy data, loads conversations and resolves the active one.
func (r *Repository) Init(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := storage.MigrateLegacy(ctx, r.store, r.logger); err != nil {
		r.logger.Error("Legacy migration failed", zap.Error(err))
	}

	convs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	storedActive, err := r.store.GetActiveID(ctx)
	if err != nil {
		r.logger.Warn("Failed to read active conversation", zap.Error(err))
	}

	r.mu.Lock()
	r.conversations = convs
	r.activeID = ""
	r.mu.Unlock()

	switch {
	case len(convs) == 0:
		r.createLocked(ctx, "", "")
	case storedActive != "" && indexOf(convs, storedActive) >= 0:
		r.mu.Lock()
		r.activeID = storedActive
		r.mu.Unlock()
	default:
		first := convs[0].ID
		r.mu.Lock()
		r.activeID = first
		r.mu.Unlock()
		r.persistActive(ctx, first)
	}

	r.logger.Info("Conversations loaded",
		zap.Int("count", r.Len()),
		zap.String("active_id", r.ActiveID()))
	return nil
}

// CreateConversation adds an empty conversation at the front and activates it.
// A missing provider or model is inherited from the active conversation.
func (r *Repository) CreateConversation(ctx context.Context, provider models.Provider, model string) models.Conversation {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.createLocked(ctx, provider, model)
}

func (r *Repository) createLocked(ctx context.Context, provider models.Provider, model string) models.Conversation {
	r.mu.Lock()
	if provider == "" || model == "" {
		if i := indexOf(r.conversations, r.activeID); i >= 0 {
			active := r.conversations[i]
			if provider == "" {
				provider = active.Provider
			}
			if model == "" {
				model = active.Model
			}
		}
	}
	conv := r.newConversation(provider, model)
	r.conversations = append([]models.Conversation{conv}, r.conversations...)
	r.activeID = conv.ID
	r.mu.Unlock()

	r.persistActive(ctx, conv.ID)
	r.persist(ctx, conv)
	return conv.Clone()
}

func (r *Repository) newConversation(provider models.Provider, model string) models.Conversation {
	if !provider.Valid() {
		provider = models.DefaultProvider
	}
	if !models.ValidModel(provider, model) {
		model = provider.DefaultModel()
	}
	ts := r.now().UnixMilli()
	return models.Conversation{
		ID:        r.newID(),
		Title:     models.DefaultTitle,
		Messages:  []models.Message{},
		Provider:  provider,
		Model:     model,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// DeleteConversation removes a conversation. When it was active the pointer
// moves to the new first conversation, or to a fresh one if none remain, in
// the same critical section as the removal.
func (r *Repository) DeleteConversation(ctx context.Context, id string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var created *models.Conversation

	r.mu.Lock()
	if i := indexOf(r.conversations, id); i >= 0 {
		r.conversations = append(r.conversations[:i:i], r.conversations[i+1:]...)
	}
	wasActive := r.activeID == id
	if wasActive {
		if len(r.conversations) > 0 {
			r.activeID = r.conversations[0].ID
		} else {
			conv := r.newConversation(models.DefaultProvider, "")
			r.conversations = []models.Conversation{conv}
			r.activeID = conv.ID
			created = &conv
		}
	}
	nextActive := r.activeID
	r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Error("Failed to delete conversation",
			zap.Error(err),
			zap.String("conversation_id", id))
	}
	if created != nil {
		r.persist(ctx, *created)
	}
	if wasActive {
		r.persistActive(ctx, nextActive)
	}
}

// SelectConversation moves the active pointer. The id is not validated.
func (r *Repository) SelectConversation(ctx context.Context, id string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.activeID = id
	r.mu.Unlock()

	r.persistActive(ctx, id)
}

// UpdateMessages replaces the message list, recomputes the title and moves
// the conversation to the front. Unknown ids are ignored.
func (r *Repository) UpdateMessages(ctx context.Context, id string, messages []models.Message) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	i := indexOf(r.conversations, id)
	if i < 0 {
		r.mu.Unlock()
		r.logger.Debug("UpdateMessages on unknown conversation", zap.String("conversation_id", id))
		return
	}
	conv := r.conversations[i]
	conv.Messages = models.CloneMessages(messages)
	conv.Title = DeriveTitle(conv.Messages)
	conv.UpdatedAt = r.now().UnixMilli()
	r.conversations[i] = conv
	r.conversations = MoveToFront(r.conversations, i)
	r.mu.Unlock()

	r.persist(ctx, conv)
}

// SettingsUpdate carries the fields to merge; empty values are left unchanged.
type SettingsUpdate struct {
	Provider models.Provider
	Model    string
}

// UpdateConversationSettings merges provider/model without reordering. A
// provider change without a model resets the model to the provider default.
func (r *Repository) UpdateConversationSettings(ctx context.Context, id string, update SettingsUpdate) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	i := indexOf(r.conversations, id)
	if i < 0 {
		r.mu.Unlock()
		return nil
	}
	conv := r.conversations[i]

	provider := conv.Provider
	model := conv.Model
	if update.Provider != "" {
		if !update.Provider.Valid() {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrUnknownProvider, update.Provider)
		}
		if update.Provider != provider {
			provider = update.Provider
			model = provider.DefaultModel()
		}
	}
	if update.Model != "" {
		model = update.Model
	}
	if !models.ValidModel(provider, model) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q is not a %s model", ErrInvalidModel, model, provider.DisplayName())
	}

	conv.Provider = provider
	conv.Model = model
	conv.UpdatedAt = r.now().UnixMilli()
	r.conversations[i] = conv
	r.mu.Unlock()

	r.persist(ctx, conv)
	return nil
}

// TogglePin flips the pinned flag without reordering and reports the new value.
func (r *Repository) TogglePin(ctx context.Context, id string) (bool, bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	i := indexOf(r.conversations, id)
	if i < 0 {
		r.mu.Unlock()
		return false, false
	}
	conv := r.conversations[i]
	conv.Pinned = !conv.Pinned
	conv.UpdatedAt = r.now().UnixMilli()
	r.conversations[i] = conv
	r.mu.Unlock()

	r.persist(ctx, conv)
	return conv.Pinned, true
}

// Conversations returns a deep copy of the current ordering.
func (r *Repository) Conversations() []models.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Conversation, len(r.conversations))
	for i, c := range r.conversations {
		out[i] = c.Clone()
	}
	return out
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

func (r *Repository) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Active returns the active conversation, false when the pointer dangles.
func (r *Repository) Active() (models.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(r.activeID)
}

func (r *Repository) Get(id string) (models.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *Repository) getLocked(id string) (models.Conversation, bool) {
	if i := indexOf(r.conversations, id); i >= 0 {
		return r.conversations[i].Clone(), true
	}
	return models.Conversation{}, false
}

func (r *Repository) persist(ctx context.Context, conv models.Conversation) {
	if err := r.store.Put(ctx, conv); err != nil {
		r.logger.Error("Failed to save conversation",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
	}
}

func (r *Repository) persistActive(ctx context.Context, id string) {
	if err := r.store.SetActiveID(ctx, id); err != nil {
		r.logger.Error("Failed to save active conversation",
			zap.Error(err),
			zap.String("conversation_id", id))
	}
}

func indexOf(convs []models.Conversation, id string) int {
	for i, c := range convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}
