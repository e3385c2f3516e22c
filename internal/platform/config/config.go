package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Registry Registry
	Auth     Auth
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Events   EventsConfig
	Limits   RateLimitConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Registry identifies this registry instance.
type Registry struct {
	// IssuerAddress is the one privileged identity (hex, 20 bytes).
	IssuerAddress string
	// DomainID pins the instance domain explicitly (hex, 20 bytes). When
	// empty it is derived from InstanceName.
	DomainID     string
	InstanceName string
}

// Auth configures bearer token validation for mutating endpoints.
type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// PostgresConfig selects the durable store. An empty URL keeps records in memory.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the read-through record cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

type EventsConfig struct {
	BacklogWarn  int
	FeedCapacity int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// RateLimitConfig throttles the public verification endpoints per client IP.
// Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("NOTARY_ADDR", ":8080"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Registry: Registry{
			IssuerAddress: os.Getenv("REGISTRY_ISSUER_ADDRESS"),
			DomainID:      os.Getenv("REGISTRY_DOMAIN_ID"),
			InstanceName:  getEnv("REGISTRY_INSTANCE_NAME", "notary-dev"),
		},
		Auth: Auth{
			// Use a default for development - should be overridden in production
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     getEnv("JWT_ISSUER", "notary"),
			JWTAudience:   getEnv("JWT_AUDIENCE", "notary-api"),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getDuration("REGISTRY_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:           getList("KAFKA_BROKERS"),
			Topic:             getEnv("KAFKA_TOPIC", "registry.records"),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "notary"),
			Partitions:        int32(getInt("KAFKA_PARTITIONS", 3)),
			ReplicationFactor: int16(getInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Events: EventsConfig{
			BacklogWarn:  getInt("EVENTS_BACKLOG_WARN", 1024),
			FeedCapacity: getInt("EVENTS_FEED_CAPACITY", 1000),
			MaxAttempts:  getInt("EVENTS_MAX_ATTEMPTS", 5),
			RetryBackoff: getDuration("EVENTS_RETRY_BACKOFF", 100*time.Millisecond),
		},
		Limits: RateLimitConfig{
			Requests: getInt("RATE_LIMIT_VERIFY_REQUESTS", 300),
			Window:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
