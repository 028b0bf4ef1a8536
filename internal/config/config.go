package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	StoreBackend string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string // optional; switches the scheduler to Redis

	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	Chat ChatConfig
}

// ChatConfig is the tuning surface of the dialogue orchestration. These
// are configuration constants, not business rules: changing them must not
// change the shape of the algorithm.
type ChatConfig struct {
	// VerbatimWindow is how many recent turns enter the context verbatim.
	VerbatimWindow int
	// SummaryTextLimit bounds the cumulative length of a speaker's own
	// history collected for summarization.
	SummaryTextLimit int
	// SummaryMaxInput is the length under which history is passed through
	// unsummarized.
	SummaryMaxInput int
	// ContinuationTurns is the background look-ahead generation budget.
	ContinuationTurns int
	// Lookahead is the chain length below which a next-turn request kicks
	// off background pre-generation.
	Lookahead int
	// HumanRecentWindow is how many recent turns are scanned for a human
	// speaker.
	HumanRecentWindow int
	// PollInterval and PollMaxAttempts bound the child poll-wait.
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present. In production it panics on missing
// required variables.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),

		LLMProvider:     getEnv("LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		Chat: ChatConfig{
			VerbatimWindow:    getEnvInt("CHAT_VERBATIM_WINDOW", 7),
			SummaryTextLimit:  getEnvInt("CHAT_SUMMARY_TEXT_LIMIT", 5000),
			SummaryMaxInput:   getEnvInt("CHAT_SUMMARY_MAX_INPUT", 2000),
			ContinuationTurns: getEnvInt("CHAT_CONTINUATION_TURNS", 10),
			Lookahead:         getEnvInt("CHAT_LOOKAHEAD", 5),
			HumanRecentWindow: getEnvInt("CHAT_HUMAN_RECENT_WINDOW", 3),
			PollInterval:      getEnvDuration("CHAT_POLL_INTERVAL", time.Second),
			PollMaxAttempts:   getEnvInt("CHAT_POLL_MAX_ATTEMPTS", 300),
		},
	}

	if cfg.Env == "production" {
		if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required with the postgres backend")
		}
		if cfg.LLMProvider == ProviderOpenAI && cfg.OpenAIAPIKey == "" {
			panic("OPENAI_API_KEY is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
