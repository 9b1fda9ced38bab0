package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/chat"
	"github.com/xaenox/dreamchat/internal/conversation"
	"github.com/xaenox/dreamchat/internal/credentials"
	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/provider"
	"github.com/xaenox/dreamchat/internal/storage"
	"github.com/xaenox/dreamchat/pkg/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Storage
	repo   *conversation.Repository
	creds  *credentials.Store
	engine *chat.Engine
}

// newLogger builds a production logger on stderr so stdout stays free for
// conversation output. Interactive commands only log warnings and above.
func newLogger(debug, verbose bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

func loadConfig(verbose bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if useMemory {
		cfg.Storage.Driver = config.DriverMemory
	}

	logger, err := newLogger(debug || cfg.Log.Debug, verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func openStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case config.DriverPostgres:
		logger.Info("Using PostgreSQL storage")
		db := cfg.Storage.Database
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			DBName:   db.DBName,
			SSLMode:  db.SSLMode,
		}, logger)
	default:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Storage.Path))
		return storage.NewSQLiteStorage(cfg.Storage.Path, logger)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return nil, err
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	repo := conversation.NewRepository(store, logger)
	if err := repo.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init conversations: %w", err)
	}

	creds := credentials.NewStore(store, logger,
		credentials.WithFallback(models.ProviderOpenAI, cfg.OpenAI.APIKey),
		credentials.WithFallback(models.ProviderAnthropic, cfg.Anthropic.APIKey),
		credentials.WithBaseURLFallback(cfg.Anthropic.BaseURL))
	if err := creds.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	proxy := provider.NewProxyStreamer(cfg.Proxy.Endpoint, cfg.Proxy.APIKey, logger)
	native := provider.NewAnthropicStreamer(logger,
		provider.WithBaseURL(creds.AnthropicBaseURL()),
		provider.WithMaxTokens(cfg.Anthropic.MaxTokens))

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		repo:   repo,
		creds:  creds,
		engine: chat.NewEngine(repo, creds, provider.NewAdapter(proxy, native, logger), logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
	a.logger.Sync()
}
