// Package provider normalizes the streaming protocols of the supported LLM
// backends into a single chunk / complete / error contract.
package provider

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
)

var (
	// ErrStopped is reported when the caller cancels a stream.
	ErrStopped         = errors.New("Generation stopped by user")
	ErrUnknownProvider = errors.New("Unknown AI provider")
)

// HTTPError is a non-2xx answer from the streaming backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Backend error: %d - %s", e.StatusCode, e.Body)
}

// StreamError is an error frame emitted by the backend mid-stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Request is everything needed to open one stream.
type Request struct {
	Provider       models.Provider
	Credential     string
	Model          string
	ConversationID string
	Messages       []models.Message
}

// Handler receives stream output. Exactly one of OnComplete and OnError is
// called, exactly once, after the last OnChunk.
type Handler struct {
	OnChunk    func(text string)
	OnComplete func()
	OnError    func(err error)
}

// Streamer is implemented by each provider variant. Stream returns nil once
// the response is fully consumed.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string)) error
}

// Sender is the contract consumed by the chat engine.
type Sender interface {
	SendMessageStream(ctx context.Context, req Request, h Handler)
}

// Adapter dispatches to the streamer registered for the request's provider.
type Adapter struct {
	streamers map[models.Provider]Streamer
	logger    *zap.Logger
}

func NewAdapter(proxy, native Streamer, logger *zap.Logger) *Adapter {
	return &Adapter{
		streamers: map[models.Provider]Streamer{
			models.ProviderOpenAI:    proxy,
			models.ProviderAnthropic: native,
		},
		logger: logger,
	}
}

// SendMessageStream blocks for the duration of the exchange. ctx is the
// cancellation signal: cancelling it ends the stream with ErrStopped.
func (a *Adapter) SendMessageStream(ctx context.Context, req Request, h Handler) {
	onChunk, onComplete, onError := h.OnChunk, h.OnComplete, h.OnError
	if onChunk == nil {
		onChunk = func(string) {}
	}
	if onComplete == nil {
		onComplete = func() {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	streamer, ok := a.streamers[req.Provider]
	if !ok || streamer == nil {
		onError(ErrUnknownProvider)
		return
	}

	logger := a.logger.With(
		zap.String("provider", string(req.Provider)),
		zap.String("model", req.Model),
		zap.String("conversation_id", req.ConversationID))

	chunks := 0
	err := streamer.Stream(ctx, req, func(text string) {
		chunks++
		onChunk(text)
	})

	if stopped(ctx, err) {
		logger.Info("Stream stopped by user", zap.Int("chunks", chunks))
		onError(ErrStopped)
		return
	}
	if err != nil {
		logger.Error("Stream failed", zap.Error(err), zap.Int("chunks", chunks))
		onError(err)
		return
	}

	logger.Debug("Stream complete", zap.Int("chunks", chunks))
	onComplete()
}

// stopped distinguishes a user abort from a genuine transport failure. A
// stream that was fully consumed is never a stop.
func stopped(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStopped) {
		return true
	}
	return errors.Is(ctx.Err(), context.Canceled)
}
