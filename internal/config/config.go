package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Client   ClientConfig   `mapstructure:"client"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
}

// LLMConfig holds the upstream completion API configuration. The API key never
// leaves the relay process.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// ServerConfig holds the relay server configuration
type ServerConfig struct {
	Host           string          `mapstructure:"host"`
	Port           string          `mapstructure:"port"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds relay requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// StorageConfig selects the key-value backend used for saved transcripts and
// client preferences.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // memory, sqlite, bolt, redis
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
}

// ClientConfig holds the terminal client configuration
type ClientConfig struct {
	RelayURL string          `mapstructure:"relay_url"`
	Language string          `mapstructure:"language"`
	Identity string          `mapstructure:"identity"` // supabase or local
	Local    LocalUserConfig `mapstructure:"local"`
}

// LocalUserConfig describes the fixed identity used when no identity
// provider is configured.
type LocalUserConfig struct {
	ID    string `mapstructure:"id"`
	Email string `mapstructure:"email"`
	Name  string `mapstructure:"name"`
}

// SupabaseConfig holds the identity provider configuration
type SupabaseConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
}

// DefaultRequestTimeout is the hard ceiling on one relayed completion.
const DefaultRequestTimeout = 30 * time.Second

// Timeout returns the relay ceiling, falling back to DefaultRequestTimeout
// when none is set.
func (c ServerConfig) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", DefaultRequestTimeout)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.requests_per_minute", 0)
	v.SetDefault("server.rate_limit.burst", 0)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "history.db")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("client.relay_url", "http://localhost:8080")
	v.SetDefault("client.language", "en")
	v.SetDefault("client.identity", "local")
	v.SetDefault("client.local.id", "local")
	v.SetDefault("client.local.email", "")
	v.SetDefault("client.local.name", "")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.anon_key", "")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), a .env file if present, and UZBAI_* environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("uzbai")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "UZBAI_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.Server.RequestTimeout = config.Server.Timeout()

	return &config, nil
}
