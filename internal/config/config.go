package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	DatabaseURL string

	// Database connection pool
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxIdleTime  int // in minutes
	DBConnMaxLifetime  int // in minutes
	StatementTimeoutMS int

	// Sessions
	SessionIdleSeconds     int
	SessionAbsoluteSeconds int
	MaxSessionsPerUser     int
	ArgonProfile           string // "interactive" or "moderate"

	// Cookies
	CookieSecure   bool
	CookieSameSite string // "strict", "lax", "none"
	CookieDomain   string
	CSRFHeaderName string

	// Rate limiting (token buckets, per actor or remote IP)
	RateLimitReadRPS    float64
	RateLimitReadBurst  int
	RateLimitWriteRPS   float64
	RateLimitWriteBurst int

	// CORS
	CORSAllowedOrigins string

	// Security headers
	ContentSecurityPolicy string

	// SSE / event bus
	SSEChannelCapacity          int
	SSEHistoryCapacity          int
	SSEPersistEnabled           bool
	SSEMaxEventsPerConversation int
	SSEPruneBatchSize           int
	SSERetentionHours           int

	// Assistant generation
	GenerationTimeoutSeconds int

	// Feature flags
	FeatureAuthV1 bool
	FeatureSSEV1  bool

	// NATS (optional, distributed generation cancel)
	NatsURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerShutdownTimeoutSeconds int

	// LLM models and providers, loaded from the YAML config file.
	LLM *LLMConfig `yaml:"llm"`
}

// LLMConfig describes the available models and which provider serves each.
type LLMConfig struct {
	DefaultModel string        `yaml:"default_model"`
	Models       []ModelConfig `yaml:"models"`
}

// ModelConfig is a single model entry in the YAML config file.
type ModelConfig struct {
	Name          string  `yaml:"name"`
	Provider      string  `yaml:"provider"` // "local" or "fallback"
	Path          string  `yaml:"path"`     // runtime base URL serving the GGUF model
	ContextWindow int     `yaml:"context_window"`
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	MaxTokens     int     `yaml:"max_tokens"`
	PersistChunks bool    `yaml:"persist_chunks"`
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists.
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/rustygpt?sslmode=disable"),

		DBMaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime:  getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime:  getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		StatementTimeoutMS: getEnvAsInt("DB_STATEMENT_TIMEOUT_MS", 30000),

		SessionIdleSeconds:     getEnvAsInt("SESSION_IDLE_SECONDS", 3600),
		SessionAbsoluteSeconds: getEnvAsInt("SESSION_ABSOLUTE_SECONDS", 86400),
		MaxSessionsPerUser:     getEnvAsInt("MAX_SESSIONS_PER_USER", 10),
		ArgonProfile:           getEnvOrDefault("ARGON_PROFILE", "moderate"),

		CookieSecure:   getEnvOrDefault("COOKIE_SECURE", "true") == "true",
		CookieSameSite: getEnvOrDefault("COOKIE_SAMESITE", "lax"),
		CookieDomain:   getEnvOrDefault("COOKIE_DOMAIN", ""),
		CSRFHeaderName: getEnvOrDefault("CSRF_HEADER_NAME", "X-CSRF-Token"),

		RateLimitReadRPS:    getEnvFloat("RATE_LIMIT_READ_RPS", 20),
		RateLimitReadBurst:  getEnvAsInt("RATE_LIMIT_READ_BURST", 40),
		RateLimitWriteRPS:   getEnvFloat("RATE_LIMIT_WRITE_RPS", 5),
		RateLimitWriteBurst: getEnvAsInt("RATE_LIMIT_WRITE_BURST", 10),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		ContentSecurityPolicy: getEnvOrDefault("CONTENT_SECURITY_POLICY", "default-src 'self'"),

		SSEChannelCapacity:          getEnvAsInt("SSE_CHANNEL_CAPACITY", 256),
		SSEHistoryCapacity:          getEnvAsInt("SSE_HISTORY_CAPACITY", 256),
		SSEPersistEnabled:           getEnvOrDefault("SSE_PERSIST_ENABLED", "true") == "true",
		SSEMaxEventsPerConversation: getEnvAsInt("SSE_MAX_EVENTS_PER_CONVERSATION", 10000),
		SSEPruneBatchSize:           getEnvAsInt("SSE_PRUNE_BATCH_SIZE", 500),
		SSERetentionHours:           getEnvAsInt("SSE_RETENTION_HOURS", 72),

		GenerationTimeoutSeconds: getEnvAsInt("GENERATION_TIMEOUT_SECONDS", 300),

		FeatureAuthV1: getEnvOrDefault("FEATURE_AUTH_V1", "true") == "true",
		FeatureSSEV1:  getEnvOrDefault("FEATURE_SSE_V1", "true") == "true",

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
	}

	// The model table only lives in the config file; everything else is
	// env-first with the file as an overlay.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("No config file at %s, using built-in model defaults", configFilePath)
		AppConfig.LLM = defaultLLMConfig()
		return
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if AppConfig.LLM == nil || len(AppConfig.LLM.Models) == 0 {
		log.Println("Warning: no models configured, using built-in fallback model")
		AppConfig.LLM = defaultLLMConfig()
	}
}

func defaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		DefaultModel: "fallback",
		Models: []ModelConfig{
			{
				Name:          "fallback",
				Provider:      "fallback",
				ContextWindow: 4096,
				Temperature:   0.7,
				TopP:          0.9,
				MaxTokens:     512,
			},
		},
	}
}

// IdleWindow returns the configured idle lifetime as a duration.
func (c *Config) IdleWindow() time.Duration {
	return time.Duration(c.SessionIdleSeconds) * time.Second
}

// AbsoluteWindow returns the configured absolute lifetime as a duration.
func (c *Config) AbsoluteWindow() time.Duration {
	return time.Duration(c.SessionAbsoluteSeconds) * time.Second
}

// GenerationTimeout returns the supervisor timeout for assistant generations.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
