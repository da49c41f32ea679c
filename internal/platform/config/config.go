package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs at startup. It is built once in
// main and injected into components; nothing reads the environment after boot.
type Config struct {
	Addr          string
	JWTSigningKey string

	// PublicBaseURL is how external collaborators reach this server; stored
	// artifact URLs are built from it.
	PublicBaseURL string

	// DatabaseURL selects the postgres-backed stores when set; empty falls
	// back to the in-memory stores (dev and tests).
	DatabaseURL string

	Redis RedisConfig

	// KafkaBrokers enables the verification event publisher when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// AnalysisURL is the base URL of the AI analysis service.
	AnalysisURL string
	// AnchorURL is the base URL of the ledger anchoring service; empty
	// disables anchoring entirely.
	AnchorURL string

	// ArtifactDir is where the filesystem artifact store keeps uploads.
	ArtifactDir string

	// AnalysisTimeout bounds the single backend call per job.
	AnalysisTimeout time.Duration
	// MaxConcurrentAnalyses bounds in-flight backend calls across all jobs.
	MaxConcurrentAnalyses int64
	// RefreshWindow is how long a cached reputation record stays fresh.
	RefreshWindow time.Duration
}

// RedisConfig mirrors the options the redis client wrapper applies.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                  envOr("CONFIRMIT_ADDR", ":8080"),
		PublicBaseURL:         envOr("CONFIRMIT_PUBLIC_URL", "http://localhost:8080"),
		JWTSigningKey:         os.Getenv("JWT_SIGNING_KEY"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AnalysisURL:           envOr("AI_SERVICE_URL", "http://localhost:8000"),
		AnchorURL:             os.Getenv("ANCHOR_SERVICE_URL"),
		ArtifactDir:           envOr("ARTIFACT_DIR", "data/artifacts"),
		AnalysisTimeout:       envDurationOr("ANALYSIS_TIMEOUT", 60*time.Second),
		MaxConcurrentAnalyses: int64(envIntOr("MAX_CONCURRENT_ANALYSES", 8)),
		RefreshWindow:         envDurationOr("REPUTATION_REFRESH_WINDOW", 7*24*time.Hour),
		KafkaTopic:            envOr("KAFKA_EVENTS_TOPIC", "confirmit.verifications"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
