package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the scheduler daemon.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	WorkerCount        int
	ResourceMaxHolders int
	ResourceIdleAfter  time.Duration
	JobTimeout         time.Duration
	MaxAttempts        int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	ShutdownGrace      time.Duration

	CacheBackend  string // "memory" or "redis"
	CacheCapacity int
	CacheTTL      time.Duration
	CacheSweep    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HistoryDSN string

	TranscribeCommand string
	TranscribeModel   string
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
		WorkerCount:        getEnvInt("WORKER_COUNT", 4),
		ResourceMaxHolders: getEnvInt("RESOURCE_MAX_HOLDERS", 1),
		ResourceIdleAfter:  getEnvDuration("RESOURCE_IDLE_UNLOAD", 5*time.Minute),
		JobTimeout:         getEnvDuration("JOB_TIMEOUT", 30*time.Minute),
		MaxAttempts:        getEnvInt("MAX_ATTEMPTS", 3),
		BackoffInitial:     getEnvDuration("BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:         getEnvDuration("BACKOFF_MAX", time.Minute),
		ShutdownGrace:      getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),
		CacheBackend:       getEnv("CACHE_BACKEND", "memory"),
		CacheCapacity:      getEnvInt("CACHE_CAPACITY", 256),
		CacheTTL:           getEnvDuration("CACHE_TTL", 24*time.Hour),
		CacheSweep:         getEnvDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		HistoryDSN:         getEnv("HISTORY_DSN", ""),
		TranscribeCommand:  getEnv("TRANSCRIBE_COMMAND", "whisper-cli"),
		TranscribeModel:    getEnv("TRANSCRIBE_MODEL", "models/ggml-base.bin"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
