// Package config provides configuration for the API server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	Env string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Durable key-value store
	KVBackend     string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	DatabaseURL   string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSBucket   string

	// Remote collaborators
	RemoteBaseURL  string
	ChatWebhookURL string
	RemoteTimeout  time.Duration
	SyncTimeout    time.Duration
	EventsSource   string
	GuideUserID    string
	GuideLatitude  float64
	GuideLongitude float64

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "production")

	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 60*time.Second)

	v.SetDefault("KV_BACKEND", "memory")
	v.SetDefault("SQLITE_PATH", "data/tripmate.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "tripmate:")
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_CA_FILE", "")
	v.SetDefault("NATS_CERT_FILE", "")
	v.SetDefault("NATS_KEY_FILE", "")
	v.SetDefault("NATS_TOKEN", "")
	v.SetDefault("NATS_BUCKET", "tripmate_state")

	v.SetDefault("REMOTE_BASE_URL", "http://localhost:5678/n8n")
	v.SetDefault("CHAT_WEBHOOK_URL", "")
	v.SetDefault("REMOTE_TIMEOUT", 15*time.Second)
	v.SetDefault("SYNC_TIMEOUT", 30*time.Second)
	v.SetDefault("EVENTS_SOURCE", "static")
	v.SetDefault("GUIDE_USER_ID", "")
	v.SetDefault("GUIDE_LATITUDE", 46.766667)
	v.SetDefault("GUIDE_LONGITUDE", 23.583333)

	v.SetDefault("JWT_SECRET", "development-secret-change-in-production")

	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("LLM_MODEL", "")

	v.SetDefault("RATE_LIMIT_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)

	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_ENABLED", false)
}

// Load reads configuration from environment variables and, when path is not
// empty, from a config file whose keys use the same names.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("ENV"),

		ServerPort:         v.GetString("PORT"),
		ServerReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		ServerWriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),

		KVBackend:     strings.ToLower(v.GetString("KV_BACKEND")),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisPrefix:   v.GetString("REDIS_PREFIX"),
		DatabaseURL:   v.GetString("DATABASE_URL"),

		NATSURL:      v.GetString("NATS_URL"),
		NATSCAFile:   v.GetString("NATS_CA_FILE"),
		NATSCertFile: v.GetString("NATS_CERT_FILE"),
		NATSKeyFile:  v.GetString("NATS_KEY_FILE"),
		NATSToken:    v.GetString("NATS_TOKEN"),
		NATSBucket:   v.GetString("NATS_BUCKET"),

		RemoteBaseURL:  strings.TrimRight(v.GetString("REMOTE_BASE_URL"), "/"),
		ChatWebhookURL: v.GetString("CHAT_WEBHOOK_URL"),
		RemoteTimeout:  v.GetDuration("REMOTE_TIMEOUT"),
		SyncTimeout:    v.GetDuration("SYNC_TIMEOUT"),
		EventsSource:   strings.ToLower(v.GetString("EVENTS_SOURCE")),
		GuideUserID:    v.GetString("GUIDE_USER_ID"),
		GuideLatitude:  v.GetFloat64("GUIDE_LATITUDE"),
		GuideLongitude: v.GetFloat64("GUIDE_LONGITUDE"),

		JWTSecret: v.GetString("JWT_SECRET"),

		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		LLMModel:        v.GetString("LLM_MODEL"),

		RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:   v.GetDuration("RATE_LIMIT_WINDOW"),

		LogLevel: v.GetString("LOG_LEVEL"),

		TracingEndpoint: v.GetString("TRACING_ENDPOINT"),
		TracingEnabled:  v.GetBool("TRACING_ENABLED"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.KVBackend {
	case "memory", "sqlite", "redis", "nats":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("KV_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown KV_BACKEND %q", c.KVBackend)
	}
	if c.KVBackend == "nats" && c.NATSURL == "" {
		return fmt.Errorf("KV_BACKEND=nats requires NATS_URL")
	}
	switch c.EventsSource {
	case "static", "remote":
	default:
		return fmt.Errorf("unknown EVENTS_SOURCE %q", c.EventsSource)
	}
	return nil
}
