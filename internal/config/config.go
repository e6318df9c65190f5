package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/leca/dt-image-workflows/internal/quota"
)

type Config struct {
	ListenAddr  string
	DBPath      string
	DatabaseURL string
	StoragePath string
	BaseURL     string
	AuthToken   string
	RedisURL    string

	PromptCacheTTL time.Duration

	MaxHistory          int
	MaxSelfies          int
	SelfieLimits        map[string]int
	EvictionBatchSize   int
	UploadConcurrency   int
	MaxUploadBytes      int64
	BackgroundTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	AIEndpoint string
	AIAPIKey   string
	AITimeout  time.Duration

	RetryAttempts           int
	RetryInitialDelay       time.Duration
	PromptRetryAttempts     int
	PromptRetryInitialDelay time.Duration

	RateRPS   float64
	RateBurst int

	DebugErrors bool
	LogLevel    string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	maxSelfies := quota.NormalizeMax(os.Getenv("DT_MAX_SELFIES"), 8)
	limits, err := quota.ParseLimits(os.Getenv("DT_SELFIE_LIMITS"), maxSelfies)
	if err != nil {
		return nil, fmt.Errorf("DT_SELFIE_LIMITS: %w", err)
	}

	cfg := &Config{
		ListenAddr:  getEnv("DT_LISTEN_ADDR", ":8080"),
		DBPath:      getEnv("DT_DB_PATH", "/data/db/workflows.db"),
		DatabaseURL: getEnv("DT_DATABASE_URL", ""),
		StoragePath: getEnv("DT_STORAGE_PATH", "/data/blobs"),
		BaseURL:     getEnv("DT_BASE_URL", "http://localhost:8080"),
		AuthToken:   getEnv("DT_AUTH_TOKEN", ""),
		RedisURL:    getEnv("DT_REDIS_URL", ""),

		PromptCacheTTL: getEnvDuration("DT_PROMPT_CACHE_TTL", 24*time.Hour),

		MaxHistory:          quota.NormalizeMax(os.Getenv("DT_MAX_HISTORY"), 10),
		MaxSelfies:          maxSelfies,
		SelfieLimits:        limits,
		EvictionBatchSize:   getEnvInt("DT_EVICTION_BATCH_SIZE", quota.DefaultBatchSize),
		UploadConcurrency:   getEnvInt("DT_UPLOAD_CONCURRENCY", 5),
		MaxUploadBytes:      int64(getEnvInt("DT_MAX_UPLOAD_BYTES", 10<<20)),
		BackgroundTimeout:   getEnvDuration("DT_BACKGROUND_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: getEnvDuration("DT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),

		AIEndpoint: getEnv("DT_AI_ENDPOINT", "http://localhost:9090"),
		AIAPIKey:   getEnv("DT_AI_API_KEY", ""),
		AITimeout:  getEnvDuration("DT_AI_TIMEOUT", 60*time.Second),

		RetryAttempts:           getEnvInt("DT_RETRY_ATTEMPTS", 3),
		RetryInitialDelay:       getEnvDuration("DT_RETRY_INITIAL_DELAY", 500*time.Millisecond),
		PromptRetryAttempts:     getEnvInt("DT_PROMPT_RETRY_ATTEMPTS", 5),
		PromptRetryInitialDelay: getEnvDuration("DT_PROMPT_RETRY_INITIAL_DELAY", time.Second),

		RateRPS:   getEnvFloat("DT_RATE_RPS", 10),
		RateBurst: getEnvInt("DT_RATE_BURST", 20),

		DebugErrors: getEnvBool("DT_DEBUG_ERRORS", false),
		LogLevel:    getEnv("DT_LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// SelfieLimit returns the cap for an action, falling back to MaxSelfies.
func (c *Config) SelfieLimit(action string) int {
	if n, ok := c.SelfieLimits[action]; ok {
		return n
	}
	return c.MaxSelfies
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("750ms") or whole seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
