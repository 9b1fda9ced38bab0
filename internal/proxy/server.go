// Package proxy is the local HTTP service the REST-proxy provider streams
// through. It accepts the client's chat request and relays the completion as
// server-sent events.
package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/provider"
)

const (
	ModeDebug   = "debug"
	ModeRelease = "release"

	apiKeyHeader = "X-API-Key"
)

type Config struct {
	// APIKey guards every route when set.
	APIKey string
	// OpenAIAPIKey is used when a request carries no bearer token.
	OpenAIAPIKey string
	Mode         string
}

// NewServer builds the gin engine with all routes registered.
func NewServer(cfg Config, upstream Upstream, logger *zap.Logger) *gin.Engine {
	if cfg.Mode == ModeRelease {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequireAPIKey(cfg.APIKey))

	h := &ChatHandler{
		upstream:  upstream,
		serverKey: cfg.OpenAIAPIKey,
		logger:    logger,
	}

	api := r.Group("/api")
	{
		api.GET("/health", HealthCheck)
		api.POST("/chat/stream", h.Stream)
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RequireAPIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		if c.GetHeader(apiKeyHeader) != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type ChatHandler struct {
	upstream  Upstream
	serverKey string
	logger    *zap.Logger
}

// Stream relays one completion. Once the event stream has started, failures
// are reported as an error event followed by the end event.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req provider.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if models.Provider(req.Provider) != models.ProviderOpenAI {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported provider"})
		return
	}

	apiKey := bearerToken(c.GetHeader("Authorization"))
	if apiKey == "" {
		apiKey = h.serverKey
	}
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing OpenAI API key"})
		return
	}

	logger := h.logger.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	chunks := 0
	err := h.upstream.ChatStream(c.Request.Context(), apiKey, req, func(text string) error {
		chunks++
		if err := provider.WriteEvent(c.Writer, provider.EventMessage, text); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		logger.Warn("Upstream stream failed", zap.Error(err), zap.Int("chunks", chunks))
		provider.WriteEvent(c.Writer, provider.EventError, err.Error())
	} else {
		logger.Debug("Upstream stream complete", zap.Int("chunks", chunks))
	}
	provider.WriteEvent(c.Writer, provider.EventEnd, "done")
	c.Writer.Flush()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
