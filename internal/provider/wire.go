package provider

import (
	"bufio"
	"io"
	"strings"
)

// ChatRequest is the JSON body of POST /api/chat/stream.
type ChatRequest struct {
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	ConversationID string        `json:"conversationId"`
	Messages       []WireMessage `json:"messages"`
}

type WireMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// SSE framing shared by the proxy server and the proxy streamer.
const (
	EventMessage = "message"
	EventError   = "error"
	EventEnd     = "end"

	dataPrefix  = "data:"
	eventPrefix = "event:"
)

func NewChatRequest(req Request) ChatRequest {
	wire := ChatRequest{
		Provider:       string(req.Provider),
		Model:          req.Model,
		ConversationID: req.ConversationID,
		Messages:       make([]WireMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		wire.Messages[i] = WireMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Images:  m.Images,
		}
	}
	return wire
}

// WriteEvent writes one SSE frame. Multi-line data is split across data
// lines on '\n' only; carriage returns stay inside the data. Every frame
// starts with an event line so readers can tell LF framing from CRLF.
func WriteEvent(w io.Writer, event, data string) error {
	if event == "" {
		event = EventMessage
	}
	bw := bufio.NewWriter(w)
	bw.WriteString(eventPrefix + " " + event + "\n")
	for _, line := range strings.Split(data, "\n") {
		bw.WriteString(dataPrefix + " " + line + "\n")
	}
	bw.WriteString("\n")
	return bw.Flush()
}
