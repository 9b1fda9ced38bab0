// Package credentials holds the per-provider API keys and mirrors them to the
// durable key/value area.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/storage"
)

var storageKeys = map[models.Provider]string{
	models.ProviderOpenAI:    storage.OpenAIKeyKey,
	models.ProviderAnthropic: storage.AnthropicKeyKey,
}

// KeyFor returns the storage key a provider's secret lives under.
func KeyFor(p models.Provider) (string, bool) {
	key, ok := storageKeys[p]
	return key, ok
}

// Store keeps secrets in memory and writes every change through to kv.
// Values from the environment are used only when nothing is stored.
type Store struct {
	kv     storage.KeyValueStore
	logger *zap.Logger

	mu        sync.RWMutex
	secrets   map[models.Provider]string
	fallbacks map[models.Provider]string
	baseURL   string
	baseURLFB string
}

type Option func(*Store)

// WithFallback registers a secret to use when none is stored for p.
func WithFallback(p models.Provider, secret string) Option {
	return func(s *Store) {
		if secret = strings.TrimSpace(secret); secret != "" {
			s.fallbacks[p] = secret
		}
	}
}

func WithBaseURLFallback(url string) Option {
	return func(s *Store) { s.baseURLFB = strings.TrimSpace(url) }
}

func NewStore(kv storage.KeyValueStore, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		logger:    logger,
		secrets:   make(map[models.Provider]string),
		fallbacks: make(map[models.Provider]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads all secrets and the Anthropic base URL from storage.
func (s *Store) Load(ctx context.Context) error {
	secrets := make(map[models.Provider]string, len(storageKeys))
	for p, key := range storageKeys {
		v, ok, err := s.kv.GetValue(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s key: %w", p, err)
		}
		if ok && v != "" {
			secrets[p] = v
		}
	}

	baseURL, _, err := s.kv.GetValue(ctx, storage.AnthropicBaseURLKey)
	if err != nil {
		return fmt.Errorf("load anthropic base url: %w", err)
	}

	s.mu.Lock()
	s.secrets = secrets
	s.baseURL = baseURL
	s.mu.Unlock()

	s.logger.Debug("Credentials loaded", zap.Int("stored", len(secrets)))
	return nil
}

// Get returns the secret for p, falling back to the environment value.
func (s *Store) Get(p models.Provider) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v := s.secrets[p]; v != "" {
		return v, true
	}
	if v := s.fallbacks[p]; v != "" {
		return v, true
	}
	return "", false
}

// Set stores a secret. An empty secret removes it.
func (s *Store) Set(ctx context.Context, p models.Provider, secret string) error {
	key, ok := KeyFor(p)
	if !ok {
		return fmt.Errorf("unknown provider %q", p)
	}
	secret = strings.TrimSpace(secret)

	s.mu.Lock()
	if secret == "" {
		delete(s.secrets, p)
	} else {
		s.secrets[p] = secret
	}
	s.mu.Unlock()

	var err error
	if secret == "" {
		err = s.kv.DeleteValue(ctx, key)
	} else {
		err = s.kv.SetValue(ctx, key, secret)
	}
	if err != nil {
		return fmt.Errorf("save %s key: %w", p, err)
	}

	s.logger.Info("Credential updated",
		zap.String("provider", string(p)),
		zap.Bool("cleared", secret == ""))
	return nil
}

// AnthropicBaseURL is the optional relay endpoint for the native provider.
func (s *Store) AnthropicBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.baseURL != "" {
		return s.baseURL
	}
	return s.baseURLFB
}

func (s *Store) SetAnthropicBaseURL(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)

	s.mu.Lock()
	s.baseURL = url
	s.mu.Unlock()

	var err error
	if url == "" {
		err = s.kv.DeleteValue(ctx, storage.AnthropicBaseURLKey)
	} else {
		err = s.kv.SetValue(ctx, storage.AnthropicBaseURLKey, url)
	}
	if err != nil {
		return fmt.Errorf("save anthropic base url: %w", err)
	}
	return nil
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	r := []rune(secret)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
