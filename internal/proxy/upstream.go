package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/provider"
)

// Upstream produces completion text for a proxied request.
type Upstream interface {
	ChatStream(ctx context.Context, apiKey string, req provider.ChatRequest, onChunk func(string) error) error
}

// OpenAIUpstream relays to an OpenAI-compatible chat completions API.
type OpenAIUpstream struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAIUpstream(baseURL string, httpClient *http.Client, logger *zap.Logger) *OpenAIUpstream {
	return &OpenAIUpstream{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (u *OpenAIUpstream) ChatStream(ctx context.Context, apiKey string, req provider.ChatRequest, onChunk func(string) error) error {
	cfg := openai.DefaultConfig(apiKey)
	if u.baseURL != "" {
		cfg.BaseURL = u.baseURL
	}
	if u.httpClient != nil {
		cfg.HTTPClient = u.httpClient
	}
	client := openai.NewClientWithConfig(cfg)

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: BuildOpenAIMessages(req.Messages),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("open upstream stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read upstream stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// BuildOpenAIMessages maps wire messages to chat messages. Messages carrying
// images become multi-part content with one image_url part per valid data URI.
func BuildOpenAIMessages(messages []provider.WireMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}

		var images []openai.ChatMessagePart
		for _, uri := range m.Images {
			if _, err := models.ParseDataURI(uri); err != nil {
				continue
			}
			images = append(images, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailAuto},
			})
		}

		if len(images) == 0 {
			msg.Content = m.Content
		} else {
			parts := make([]openai.ChatMessagePart, 0, len(images)+1)
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
			}
			msg.MultiContent = append(parts, images...)
		}
		out = append(out, msg)
	}
	return out
}
