package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
)

// DefaultMaxTokens is the output ceiling sent with every native request.
const DefaultMaxTokens = 4096

// AnthropicStreamer talks to Anthropic through the official Go SDK.
type AnthropicStreamer struct {
	baseURL    string
	maxTokens  int64
	httpClient *http.Client
	logger     *zap.Logger
}

type AnthropicOption func(*AnthropicStreamer)

// WithBaseURL points the SDK at a relay instead of the official API.
func WithBaseURL(baseURL string) AnthropicOption {
	return func(s *AnthropicStreamer) { s.baseURL = baseURL }
}

func WithMaxTokens(n int64) AnthropicOption {
	return func(s *AnthropicStreamer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(s *AnthropicStreamer) { s.httpClient = c }
}

func NewAnthropicStreamer(logger *zap.Logger, opts ...AnthropicOption) *AnthropicStreamer {
	s := &AnthropicStreamer{
		maxTokens: DefaultMaxTokens,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AnthropicStreamer) Stream(ctx context.Context, req Request, onChunk func(string)) error {
	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(s.httpClient))
	}
	client := anthropic.NewClient(opts...)

	messages := BuildAnthropicMessages(req.Messages)
	s.logger.Debug("Opening Anthropic stream",
		zap.String("model", req.Model),
		zap.Int("messages", len(messages)))

	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: s.maxTokens,
		Messages:  messages,
	})
	defer stream.Close()

	for stream.Next() {
		// Stop consuming as soon as the caller cancels.
		if ctx.Err() != nil {
			return ErrStopped
		}

		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				onChunk(delta.Text)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

// BuildAnthropicMessages reshapes the history into content blocks. System
// messages are dropped, images become base64 blocks ahead of the text, and
// malformed data URIs are skipped.
func BuildAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Images)+1)
		for _, uri := range m.Images {
			img, err := models.ParseDataURI(uri)
			if err != nil {
				continue
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
		}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		if len(blocks) == 0 {
			continue
		}

		if m.Role == models.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		} else {
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
	}
	return params
}
