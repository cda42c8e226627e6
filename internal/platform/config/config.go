// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development default; production overrides
// them via the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the top-level runtime configuration.
type Config struct {
	Addr          string
	JWTSigningKey string

	DB       DBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Resolver ResolverConfig
	Loader   LoaderConfig
}

// DBConfig captures PostgreSQL connection settings.
type DBConfig struct {
	URL          string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// RedisConfig captures optional Redis cache settings. An empty URL disables
// the reference cache entirely.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig captures change-feed publishing settings. Empty brokers disable
// the outbox publisher.
type KafkaConfig struct {
	Brokers      []string
	ChangeTopic  string
	PollInterval time.Duration
}

// ResolverConfig tunes identity and reference resolution.
type ResolverConfig struct {
	// MatchThreshold is the minimum normalized similarity score for a fuzzy
	// center-name match to be accepted.
	MatchThreshold float64
	// CrossTypeAlias enables matching a local value registered under a
	// different identifier type for the same center.
	CrossTypeAlias bool
}

// LoaderConfig tunes batch loading behavior.
type LoaderConfig struct {
	// StrictMode aborts and rolls back a whole table batch on the first
	// rejected record instead of isolating the rejection to that record.
	StrictMode bool
	// RetrySkipped re-attempts Skipped queue entries when a batch id is
	// re-run. Failed entries are never retried automatically.
	RetrySkipped bool
	// BatchTimeout bounds one table-batch transaction end to end.
	BatchTimeout time.Duration
	// TablesFile points at the JSON table configuration (natural keys,
	// immutable fields, strategies). Empty means no tables are configured.
	TablesFile string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envString("CONCORD_ADDR", ":8080"),
		JWTSigningKey: envString("CONCORD_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DB: DBConfig{
			URL:          envString("CONCORD_DB_URL", "postgres://localhost/concord?sslmode=disable"),
			MaxOpenConns: envInt("CONCORD_DB_MAX_OPEN_CONNS", 10),
			QueryTimeout: envDuration("CONCORD_DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CONCORD_REDIS_URL"),
			PoolSize:     envInt("CONCORD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONCORD_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("CONCORD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CONCORD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CONCORD_REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDuration("CONCORD_REDIS_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:      splitNonEmpty(os.Getenv("CONCORD_KAFKA_BROKERS")),
			ChangeTopic:  envString("CONCORD_KAFKA_CHANGE_TOPIC", "concord.changes"),
			PollInterval: envDuration("CONCORD_KAFKA_POLL_INTERVAL", time.Second),
		},
		Resolver: ResolverConfig{
			MatchThreshold: envFloat("CONCORD_MATCH_THRESHOLD", 0.70),
			CrossTypeAlias: envBool("CONCORD_CROSS_TYPE_ALIAS", true),
		},
		Loader: LoaderConfig{
			StrictMode:   envBool("CONCORD_STRICT_MODE", false),
			RetrySkipped: envBool("CONCORD_RETRY_SKIPPED", false),
			BatchTimeout: envDuration("CONCORD_BATCH_TIMEOUT", 60*time.Second),
			TablesFile:   os.Getenv("CONCORD_TABLES_FILE"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
