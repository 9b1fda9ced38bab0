package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("conv-%d", n)
	}
}

func newTestRepo(t *testing.T, store storage.Storage) *Repository {
	t.Helper()
	return NewRepository(store, zaptest.NewLogger(t),
		WithClock(newFakeClock().Now),
		WithIDGenerator(sequentialIDs()))
}

func TestInit_EmptyStoreCreatesDefaultConversation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	repo := newTestRepo(t, store)

	require.NoError(t, repo.Init(ctx))

	convs := repo.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, models.DefaultTitle, convs[0].Title)
	assert.Equal(t, models.ProviderOpenAI, convs[0].Provider)
	assert.Equal(t, "gpt-3.5-turbo", convs[0].Model)
	assert.Equal(t, convs[0].ID, repo.ActiveID())

	stored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	activeID, err := store.GetActiveID(ctx)
	require.NoError(t, err)
	assert.Equal(t, convs[0].ID, activeID)
}

func TestInit_KeepsStoredActiveID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.PutMany(ctx, []models.Conversation{
		{ID: "a", Provider: models.ProviderOpenAI, Model: "gpt-4", UpdatedAt: 2},
		{ID: "b", Provider: models.ProviderOpenAI, Model: "gpt-4", UpdatedAt: 1},
	}))
	require.NoError(t, store.SetActiveID(ctx, "b"))

	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))

	assert.Equal(t, "b", repo.ActiveID())
	convs := repo.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "a", convs[0].ID, "initial order is the persisted order")
}

func TestInit_DanglingActiveFallsBackToFirst(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.PutMany(ctx, []models.Conversation{
		{ID: "old", Provider: models.ProviderOpenAI, Model: "gpt-4", UpdatedAt: 1},
		{ID: "new", Provider: models.ProviderOpenAI, Model: "gpt-4", UpdatedAt: 9},
	}))
	require.NoError(t, store.SetActiveID(ctx, "gone"))

	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))

	assert.Equal(t, "new", repo.ActiveID())
	activeID, err := store.GetActiveID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", activeID)
}

func TestInit_MigratesLegacyBlob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.SetValue(ctx, storage.LegacyConversationsKey, `[{"id":"1","messages":[]}]`))

	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))

	conv, ok := repo.Active()
	require.True(t, ok)
	assert.Equal(t, "1", conv.ID)
	assert.Equal(t, models.ProviderOpenAI, conv.Provider)
}

func TestCreateConversation_InheritsFromActive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))

	first := repo.CreateConversation(ctx, models.ProviderAnthropic, "claude-3-opus-20240229")
	second := repo.CreateConversation(ctx, "", "")

	assert.Equal(t, models.ProviderAnthropic, second.Provider)
	assert.Equal(t, "claude-3-opus-20240229", second.Model)
	assert.Equal(t, second.ID, repo.ActiveID())

	convs := repo.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)
}

func TestCreateConversation_ProviderWithoutModelUsesProviderDefault(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))

	conv := repo.CreateConversation(ctx, models.ProviderAnthropic, "")
	assert.Equal(t, "claude-3-5-sonnet-20241022", conv.Model)
}

func TestDeleteConversation_LastOneIsReplaced(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))
	only := repo.ActiveID()

	repo.DeleteConversation(ctx, only)

	convs := repo.Conversations()
	require.Len(t, convs, 1)
	assert.NotEqual(t, only, convs[0].ID)
	assert.Empty(t, convs[0].Messages)
	assert.Equal(t, convs[0].ID, repo.ActiveID())

	stored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, convs[0].ID, stored[0].ID)
}

func TestDeleteConversation_ActiveMovesToFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))
	a := repo.ActiveID()
	b := repo.CreateConversation(ctx, "", "").ID
	c := repo.CreateConversation(ctx, "", "").ID

	repo.DeleteConversation(ctx, c)
	assert.Equal(t, b, repo.ActiveID())

	// Deleting an inactive conversation keeps the pointer.
	repo.DeleteConversation(ctx, a)
	assert.Equal(t, b, repo.ActiveID())
	assert.Equal(t, 1, repo.Len())
}

func TestDeleteConversation_NoDanglingPointerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))
	for i := 0; i < 20; i++ {
		repo.CreateConversation(ctx, "", "")
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, ok := repo.Active()
			assert.True(t, ok, "active pointer must always resolve")
		}
	}()

	for i := 0; i < 30; i++ {
		repo.DeleteConversation(ctx, repo.ActiveID())
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 1, repo.Len())
}

func TestUpdateMessages_RetitlesAndMovesToFront(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))
	older := repo.ActiveID()
	newer := repo.CreateConversation(ctx, "", "").ID

	before, _ := repo.Get(older)
	repo.UpdateMessages(ctx, older, []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "How do goroutines work?"},
		{ID: "2", Role: models.RoleAssistant, Content: "They are lightweight threads."},
	})

	convs := repo.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, older, convs[0].ID)
	assert.Equal(t, newer, convs[1].ID)
	assert.Equal(t, "How do goroutines work?", convs[0].Title)
	assert.Greater(t, convs[0].UpdatedAt, before.UpdatedAt)

	stored, err := store.Get(ctx, older)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Messages, 2)
	assert.Equal(t, "How do goroutines work?", stored.Title)
}

func TestUpdateMessages_CallerSliceIsNotShared(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))
	id := repo.ActiveID()

	msgs := []models.Message{{ID: "1", Role: models.RoleUser, Content: "Hi"}}
	repo.UpdateMessages(ctx, id, msgs)
	msgs[0].Content = "mutated"

	conv, _ := repo.Get(id)
	assert.Equal(t, "Hi", conv.Messages[0].Content)
}

func TestUpdateConversationSettings(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, storage.NewMemoryStorage())
	require.NoError(t, repo.Init(ctx))
	first := repo.ActiveID()
	second := repo.CreateConversation(ctx, "", "").ID

	require.NoError(t, repo.UpdateConversationSettings(ctx, first, SettingsUpdate{Provider: models.ProviderAnthropic}))
	conv, _ := repo.Get(first)
	assert.Equal(t, models.ProviderAnthropic, conv.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", conv.Model, "provider switch resets model")

	convs := repo.Conversations()
	assert.Equal(t, second, convs[0].ID, "settings changes do not reorder")

	require.NoError(t, repo.UpdateConversationSettings(ctx, first, SettingsUpdate{Model: "claude-3-5-haiku-20241022"}))
	conv, _ = repo.Get(first)
	assert.Equal(t, "claude-3-5-haiku-20241022", conv.Model)

	err := repo.UpdateConversationSettings(ctx, first, SettingsUpdate{Model: "gpt-4"})
	assert.ErrorIs(t, err, ErrInvalidModel)

	err = repo.UpdateConversationSettings(ctx, first, SettingsUpdate{Provider: "gemini"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	require.NoError(t, repo.UpdateConversationSettings(ctx, "missing", SettingsUpdate{Model: "gpt-4"}))
}

func TestTogglePin(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))
	first := repo.ActiveID()
	second := repo.CreateConversation(ctx, "", "").ID

	pinned, ok := repo.TogglePin(ctx, first)
	require.True(t, ok)
	assert.True(t, pinned)
	assert.Equal(t, second, repo.Conversations()[0].ID, "pinning does not reorder")

	stored, err := store.Get(ctx, first)
	require.NoError(t, err)
	assert.True(t, stored.Pinned)

	pinned, _ = repo.TogglePin(ctx, first)
	assert.False(t, pinned)

	_, ok = repo.TogglePin(ctx, "missing")
	assert.False(t, ok)
}

func TestSelectConversation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	repo := newTestRepo(t, store)
	require.NoError(t, repo.Init(ctx))
	first := repo.ActiveID()
	repo.CreateConversation(ctx, "", "")

	repo.SelectConversation(ctx, first)
	assert.Equal(t, first, repo.ActiveID())
	id, err := store.GetActiveID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, id)
}

type failingStore struct {
	*storage.MemoryStorage
}

var errDiskFull = errors.New("disk full")

func (failingStore) Put(ctx context.Context, conv models.Conversation) error { return errDiskFull }

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(failingStore{storage.NewMemoryStorage()}, zap.NewNop())
	require.NoError(t, repo.Init(ctx))

	id := repo.ActiveID()
	repo.UpdateMessages(ctx, id, []models.Message{{ID: "1", Role: models.RoleUser, Content: "still here"}})

	conv, ok := repo.Get(id)
	require.True(t, ok)
	assert.Equal(t, "still here", conv.Title)
}

func TestNewIDIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
