package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultProxyEndpoint is where the local streaming proxy listens.
const DefaultProxyEndpoint = "http://localhost:8081/api/chat/stream"

const maxErrorBody = 64 << 10

// ProxyStreamer streams completions through the local REST proxy.
type ProxyStreamer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewProxyStreamer builds a streamer for endpoint. apiKey is the proxy's own
// X-API-Key and may be empty.
func NewProxyStreamer(endpoint, apiKey string, logger *zap.Logger) *ProxyStreamer {
	if endpoint == "" {
		endpoint = DefaultProxyEndpoint
	}
	return &ProxyStreamer{
		endpoint: endpoint,
		apiKey:   apiKey,
		// No client timeout: a stream lives as long as the generation.
		client: &http.Client{},
		logger: logger,
	}
}

func (p *ProxyStreamer) Stream(ctx context.Context, req Request, onChunk func(string)) error {
	body, err := json.Marshal(NewChatRequest(req))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("X-API-Key", p.apiKey)
	}

	p.logger.Debug("Opening proxy stream",
		zap.String("endpoint", p.endpoint),
		zap.Int("messages", len(req.Messages)))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	return readEventStream(resp.Body, onChunk)
}

// readEventStream forwards data lines of message events. Consecutive data
// lines of one frame are rejoined with the newline the server split on.
// A stream whose first line ends in CR is CRLF-framed and has one CR removed
// from every line; otherwise carriage returns are part of the data.
func readEventStream(r io.Reader, onChunk func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	scanner.Split(scanLF)

	event := ""
	dataLines := 0
	first, crlf := true, false
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			crlf = strings.HasSuffix(line, "\r")
			first = false
		}
		if crlf {
			line = strings.TrimSuffix(line, "\r")
		}

		switch {
		case line == "":
			event = ""
			dataLines = 0
		case strings.HasPrefix(line, eventPrefix):
			event = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		case strings.HasPrefix(line, dataPrefix):
			data := strings.TrimPrefix(line, dataPrefix)
			data = strings.TrimPrefix(data, " ")
			dataLines++

			switch event {
			case "", EventMessage:
				if dataLines > 1 {
					data = "\n" + data
				}
				if data != "" {
					onChunk(data)
				}
			case EventError:
				return &StreamError{Message: data}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// scanLF is bufio.ScanLines without the CR stripping.
func scanLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
