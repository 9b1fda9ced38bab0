package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/dreamchat/internal/models"
)

func writeAnthropicEvent(w io.Writer, event string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func messageStart() map[string]any {
	return map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-sonnet-20241022",
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 5, "output_tokens": 1},
		},
	}
}

func textDelta(text string) map[string]any {
	return map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": text},
	}
}

func TestAnthropicStreamer_StreamsTextDeltas(t *testing.T) {
	var body map[string]any
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "text/event-stream")
		writeAnthropicEvent(w, "message_start", messageStart())
		writeAnthropicEvent(w, "content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		writeAnthropicEvent(w, "content_block_delta", textDelta("Hello"))
		writeAnthropicEvent(w, "content_block_delta", textDelta(", world"))
		writeAnthropicEvent(w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		writeAnthropicEvent(w, "message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": 4},
		})
		writeAnthropicEvent(w, "message_stop", map[string]any{"type": "message_stop"})
	}))
	defer srv.Close()

	s := NewAnthropicStreamer(zaptest.NewLogger(t), WithBaseURL(srv.URL))
	var chunks []string
	err := s.Stream(context.Background(), Request{
		Provider:   models.ProviderAnthropic,
		Credential: "sk-ant-test",
		Model:      "claude-3-5-sonnet-20241022",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be terse"},
			{Role: models.RoleUser, Content: "Hi"},
		},
	}, func(s string) { chunks = append(chunks, s) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", world"}, chunks)
	assert.Equal(t, "sk-ant-test", apiKey)
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	assert.Equal(t, "claude-3-5-sonnet-20241022", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1, "system messages are not sent inline")
}

func TestAnthropicStreamer_CancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeAnthropicEvent(w, "message_start", messageStart())
		writeAnthropicEvent(w, "content_block_delta", textDelta("partial "))
		writeAnthropicEvent(w, "content_block_delta", textDelta("answer"))
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewAdapter(nil, NewAnthropicStreamer(zaptest.NewLogger(t), WithBaseURL(srv.URL)), zaptest.NewLogger(t))
	var rec recorder
	h := rec.handler()
	h.OnChunk = func(s string) {
		rec.chunks = append(rec.chunks, s)
		if len(rec.chunks) == 1 {
			cancel()
		}
	}
	a.SendMessageStream(ctx, Request{
		Provider: models.ProviderAnthropic,
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []models.Message{{Role: models.RoleUser, Content: "Hi"}},
	}, h)

	assert.Equal(t, []string{"partial "}, rec.chunks, "consumption stops once cancelled")
	assert.Zero(t, rec.completes)
	if assert.Len(t, rec.errs, 1) {
		assert.ErrorIs(t, rec.errs[0], ErrStopped)
	}
}

func TestAnthropicStreamer_APIErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	s := NewAnthropicStreamer(zaptest.NewLogger(t), WithBaseURL(srv.URL))
	err := s.Stream(context.Background(), Request{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []models.Message{{Role: models.RoleUser, Content: "Hi"}},
	}, func(string) {})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStopped)
}

func TestBuildAnthropicMessages(t *testing.T) {
	msgs := BuildAnthropicMessages([]models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "look", Images: []string{
			"data:image/png;base64,iVBORw0KGgo=",
			"not-a-data-uri",
			"data:image/jpeg;base64,/9j/4AAQ",
		}},
		{Role: models.RoleAssistant, Content: "a cat"},
		{Role: models.RoleUser, Content: "", Images: []string{"garbage"}},
	})

	require.Len(t, msgs, 2)

	user := msgs[0]
	assert.Equal(t, anthropic.MessageParamRoleUser, user.Role)
	require.Len(t, user.Content, 3, "two valid images plus text")
	require.NotNil(t, user.Content[0].OfImage)
	require.NotNil(t, user.Content[0].OfImage.Source.OfBase64)
	assert.Equal(t, "iVBORw0KGgo=", user.Content[0].OfImage.Source.OfBase64.Data)
	assert.EqualValues(t, "image/png", user.Content[0].OfImage.Source.OfBase64.MediaType)
	require.NotNil(t, user.Content[1].OfImage)
	assert.EqualValues(t, "image/jpeg", user.Content[1].OfImage.Source.OfBase64.MediaType)
	require.NotNil(t, user.Content[2].OfText)
	assert.Equal(t, "look", user.Content[2].OfText.Text)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
}
