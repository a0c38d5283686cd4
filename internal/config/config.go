package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	DatabaseURL   string
	VectorBackend string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAITimeout   time.Duration
	TranscribeModel string
	EmbedModel      string
	ChatModel       string

	ChunkSize    int
	ChunkOverlap int
	TopK         int
	PreviewChars int

	JobTimeout        time.Duration
	StreamIdleTimeout time.Duration
	SubscriberBuffer  int

	MediaDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	RateLimitRPS   float64
	RateLimitBurst int

	AnswerCacheTTL        time.Duration
	AnswerCacheMaxEntries int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		VectorBackend: getEnv("VECTOR_BACKEND", "memory"),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeout:   getEnvDurationMS("OPENAI_TIMEOUT_MS", 60000),
		TranscribeModel: getEnv("TRANSCRIBE_MODEL", "whisper-1"),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-3-small"),
		ChatModel:       getEnv("CHAT_MODEL", "gpt-4.1-mini"),

		ChunkSize:    getEnvInt("RAG_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("RAG_CHUNK_OVERLAP", 200),
		TopK:         getEnvInt("RAG_TOP_K", 5),
		PreviewChars: getEnvInt("RAG_PREVIEW_CHARS", 150),

		JobTimeout:        getEnvDurationMS("JOB_TIMEOUT_MS", 10*60*1000),
		StreamIdleTimeout: getEnvDurationMS("STREAM_IDLE_TIMEOUT_MS", 5*60*1000),
		SubscriberBuffer:  getEnvInt("SUBSCRIBER_BUFFER", 16),

		MediaDir: getEnv("MEDIA_DIR", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "transcribe_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "transcribe_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "transcribe_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		AnswerCacheTTL:        time.Duration(getEnvInt("ANSWER_CACHE_TTL_SECONDS", 900)) * time.Second,
		AnswerCacheMaxEntries: getEnvInt("ANSWER_CACHE_MAX_ENTRIES", 2000),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

// Validate rejects configurations the pipeline cannot run with. Chunking
// parameters are checked here so a bad deployment fails at startup instead
// of on the first ingest.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("configuration: RAG_CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("configuration: RAG_CHUNK_OVERLAP must not be negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf(
			"configuration: RAG_CHUNK_OVERLAP (%d) must be strictly less than RAG_CHUNK_SIZE (%d)",
			c.ChunkOverlap, c.ChunkSize,
		)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("configuration: RAG_TOP_K must be positive, got %d", c.TopK)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("configuration: JOB_TIMEOUT_MS must be positive")
	}
	switch c.VectorBackend {
	case "memory", "pgvector":
	default:
		return fmt.Errorf("configuration: VECTOR_BACKEND must be memory or pgvector, got %q", c.VectorBackend)
	}
	if c.VectorBackend == "pgvector" && c.DatabaseURL == "" {
		return fmt.Errorf("configuration: VECTOR_BACKEND=pgvector requires DATABASE_URL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMS)) * time.Millisecond
}
