package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/conversation"
	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/provider"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrMissingCredential    = errors.New("missing API key")
	ErrSendInProgress       = errors.New("a response is already being generated for this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNothingToRegenerate  = errors.New("message cannot be regenerated")
	ErrMessageNotFound      = errors.New("message not found")
)

// MissingCredentialError is returned before any I/O when the conversation's
// provider has no API key.
type MissingCredentialError struct {
	Provider models.Provider
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("Please set your %s API key in settings", e.Provider.DisplayName())
}

func (e *MissingCredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// Repository is the part of the conversation repository the engine needs.
type Repository interface {
	Get(id string) (models.Conversation, bool)
	UpdateMessages(ctx context.Context, id string, messages []models.Message)
}

var _ Repository = (*conversation.Repository)(nil)

type Credentials interface {
	Get(p models.Provider) (string, bool)
}

// Observer receives the transient message list, including the partial
// assistant reply, after every chunk.
type Observer func(messages []models.Message)

// Result describes a finished exchange.
type Result struct {
	ConversationID string
	Assistant      models.Message
	Messages       []models.Message
}

type Engine struct {
	repo   Repository
	creds  Credentials
	sender provider.Sender
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(repo Repository, creds Credentials, sender provider.Sender, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		creds:    creds,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		newID:    conversation.NewID,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send appends a new user turn to the conversation and streams the reply.
func (e *Engine) Send(ctx context.Context, convID, content string, images []string, obs Observer) (Result, error) {
	return e.run(ctx, convID, func(conv models.Conversation) (Turn, error) {
		return Turn{Base: conv.Messages, Content: content, Images: images}, nil
	}, obs)
}

// Regenerate discards the assistant reply messageID and everything after it,
// then resends the user message that preceded it.
func (e *Engine) Regenerate(ctx context.Context, convID, messageID string, obs Observer) (Result, error) {
	return e.run(ctx, convID, func(conv models.Conversation) (Turn, error) {
		turn, ok := PlanRegenerate(conv.Messages, messageID)
		if !ok {
			return Turn{}, ErrNothingToRegenerate
		}
		return turn, nil
	}, obs)
}

// Edit replaces messageID and everything after it with newContent.
func (e *Engine) Edit(ctx context.Context, convID, messageID, newContent string, obs Observer) (Result, error) {
	return e.run(ctx, convID, func(conv models.Conversation) (Turn, error) {
		turn, ok := PlanEdit(conv.Messages, messageID, newContent)
		if !ok {
			return Turn{}, ErrMessageNotFound
		}
		return turn, nil
	}, obs)
}

// run holds the in-flight marker from the history snapshot to the final
// commit, so a turn is always planned against committed state.
func (e *Engine) run(ctx context.Context, convID string, plan func(models.Conversation) (Turn, error), obs Observer) (Result, error) {
	if !e.acquire(convID) {
		return Result{}, ErrSendInProgress
	}
	defer e.release(convID)

	conv, ok := e.repo.Get(convID)
	if !ok {
		return Result{}, ErrConversationNotFound
	}
	turn, err := plan(conv)
	if err != nil {
		return Result{}, err
	}

	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return Result{}, ErrEmptyMessage
	}

	credential, ok := e.creds.Get(conv.Provider)
	if !ok {
		return Result{}, &MissingCredentialError{Provider: conv.Provider}
	}

	logger := e.logger.With(
		zap.String("conversation_id", conv.ID),
		zap.String("provider", string(conv.Provider)),
		zap.String("model", conv.Model))

	// Commits must survive the caller cancelling ctx to stop generation.
	commitCtx := context.WithoutCancel(ctx)

	user := models.Message{
		ID:        e.newID(),
		Role:      models.RoleUser,
		Content:   content,
		Images:    append([]string(nil), turn.Images...),
		Timestamp: e.now().UnixMilli(),
	}
	history := append(models.CloneMessages(turn.Base), user)
	e.repo.UpdateMessages(commitCtx, conv.ID, history)

	assistant := models.Message{
		ID:        e.newID(),
		Role:      models.RoleAssistant,
		Timestamp: e.now().UnixMilli(),
	}

	var (
		reply     strings.Builder
		completed bool
		streamErr error
	)
	e.sender.SendMessageStream(ctx, provider.Request{
		Provider:       conv.Provider,
		Credential:     credential,
		Model:          conv.Model,
		ConversationID: conv.ID,
		Messages:       history,
	}, provider.Handler{
		OnChunk: func(text string) {
			reply.WriteString(text)
			if obs != nil {
				partial := assistant
				partial.Content = reply.String()
				obs(append(models.CloneMessages(history), partial))
			}
		},
		OnComplete: func() { completed = true },
		OnError:    func(err error) { streamErr = err },
	})

	assistant.Content = reply.String()

	switch {
	case completed:
		final := append(history, assistant)
		e.repo.UpdateMessages(commitCtx, conv.ID, final)
		logger.Info("Reply received", zap.Int("length", len(assistant.Content)))
		return Result{ConversationID: conv.ID, Assistant: assistant, Messages: models.CloneMessages(final)}, nil

	case errors.Is(streamErr, provider.ErrStopped):
		final := history
		if assistant.Content != "" {
			final = append(history, assistant)
			e.repo.UpdateMessages(commitCtx, conv.ID, final)
		}
		logger.Info("Reply stopped", zap.Int("length", len(assistant.Content)))
		return Result{ConversationID: conv.ID, Assistant: assistant, Messages: models.CloneMessages(final)}, provider.ErrStopped

	default:
		if streamErr == nil {
			streamErr = errors.New("stream ended without completing")
		}
		logger.Warn("Reply failed", zap.Error(streamErr))
		return Result{ConversationID: conv.ID, Messages: models.CloneMessages(history)}, streamErr
	}
}

// InFlight reports whether a reply is currently streaming for convID.
func (e *Engine) InFlight(convID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[convID]
	return ok
}

func (e *Engine) acquire(convID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[convID]; busy {
		return false
	}
	e.inFlight[convID] = struct{}{}
	return true
}

func (e *Engine) release(convID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, convID)
}
