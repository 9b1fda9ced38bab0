package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Log       LogConfig       `mapstructure:"log"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ProxyConfig struct {
	// Endpoint is where the client posts chat requests.
	Endpoint string `mapstructure:"endpoint"`
	// Listen is the address the serve command binds to.
	Listen string `mapstructure:"listen"`
	APIKey string `mapstructure:"api_key"`
	Mode   string `mapstructure:"mode"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// DefaultDataPath is the SQLite file used when none is configured.
func DefaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "dreamchat.db"
	}
	return filepath.Join(dir, "dreamchat", "dreamchat.db")
}

// LoadConfig reads path if it exists, then applies environment overrides.
// An empty or missing path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", DefaultDataPath())
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.port", 5432)
	v.SetDefault("storage.database.user", "postgres")
	v.SetDefault("storage.database.dbname", "dreamchat")
	v.SetDefault("storage.database.sslmode", "disable")
	v.SetDefault("proxy.endpoint", "http://localhost:8081/api/chat/stream")
	v.SetDefault("proxy.listen", ":8081")
	v.SetDefault("proxy.mode", "debug")
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("log.debug", false)

	// Enable environment variable support
	v.SetEnvPrefix("dreamchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Well-known unprefixed variables
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Storage.Driver = DriverPostgres
		config.Storage.Database = dbConfig
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Anthropic.APIKey = apiKey
	}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		config.Anthropic.BaseURL = baseURL
	}
	if apiKey := os.Getenv("SERVER_API_KEY"); apiKey != "" {
		config.Proxy.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.Database.Host == "" || c.Storage.Database.DBName == "" {
			return errors.New("storage.database host and dbname are required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}

	if c.Proxy.Mode != "debug" && c.Proxy.Mode != "release" {
		return fmt.Errorf("proxy.mode must be debug or release, got %q", c.Proxy.Mode)
	}
	if c.Proxy.Endpoint == "" {
		return errors.New("proxy.endpoint is required")
	}
	if c.Anthropic.MaxTokens <= 0 {
		return fmt.Errorf("anthropic.max_tokens must be positive, got %d", c.Anthropic.MaxTokens)
	}
	return nil
}
