package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audit backends selectable with AUDIT_BACKEND.
const (
	AuditBackendMemory   = "memory"
	AuditBackendPostgres = "postgres"
	AuditBackendSQLite   = "sqlite"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Database points at the PostgreSQL instance holding the master data and,
// with the postgres audit backend, the audit trail.
type Database struct {
	URL string
}

// Audit selects where audit records are kept.
type Audit struct {
	Backend      string
	SQLitePath   string
	RingCapacity int
}

// RedisConfig configures the optional Redis used for commit locks. An empty
// URL disables locking.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// Kafka configures the optional audit mirror. No brokers disables it.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
}

// Engine tunes matching and commits.
type Engine struct {
	AutoSelectThreshold int
	MatchConcurrency    int
	CommitConcurrency   int
	CommitItemTimeout   time.Duration
}

// Logging selects the slog handler.
type Logging struct {
	Level  string
	Format string
}

// Config is the full service configuration.
type Config struct {
	Server   Server
	Database Database
	Audit    Audit
	Redis    RedisConfig
	Kafka    Kafka
	Engine   Engine
	Logging  Logging
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed numbers and durations are errors rather than silent defaults.
func FromEnv() (Config, error) {
	r := reader{}
	cfg := Config{
		Server: Server{
			Addr:            r.str("MDNORM_ADDR", ":8080"),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  r.duration("REQUEST_TIMEOUT", 60*time.Second),
		},
		Database: Database{
			URL: r.str("DATABASE_URL", ""),
		},
		Audit: Audit{
			Backend:      strings.ToLower(r.str("AUDIT_BACKEND", AuditBackendMemory)),
			SQLitePath:   r.str("AUDIT_SQLITE_PATH", "mdnorm-audit.db"),
			RingCapacity: r.integer("AUDIT_RING_CAPACITY", 10_000),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      r.duration("COMMIT_LOCK_TTL", 2*time.Minute),
		},
		Kafka: Kafka{
			Brokers:       r.list("KAFKA_BROKERS"),
			AuditTopic:    r.str("KAFKA_AUDIT_TOPIC", "mdnorm.audit"),
			ConsumerGroup: r.str("KAFKA_REPLAY_GROUP", "mdnorm-audit-replay"),
		},
		Engine: Engine{
			AutoSelectThreshold: r.integer("AUTO_SELECT_THRESHOLD", 90),
			MatchConcurrency:    r.integer("MATCH_CONCURRENCY", 0),
			CommitConcurrency:   r.integer("COMMIT_CONCURRENCY", 1),
			CommitItemTimeout:   r.duration("COMMIT_ITEM_TIMEOUT", 15*time.Second),
		},
		Logging: Logging{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "json"),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	switch c.Audit.Backend {
	case AuditBackendMemory, AuditBackendSQLite:
	case AuditBackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("AUDIT_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown AUDIT_BACKEND %q", c.Audit.Backend)
	}
	if c.Engine.AutoSelectThreshold < 0 || c.Engine.AutoSelectThreshold > 100 {
		return fmt.Errorf("AUTO_SELECT_THRESHOLD must be within 0..100, got %d", c.Engine.AutoSelectThreshold)
	}
	if c.Engine.CommitConcurrency < 1 {
		return fmt.Errorf("COMMIT_CONCURRENCY must be at least 1, got %d", c.Engine.CommitConcurrency)
	}
	return nil
}

// reader keeps the first parse error so FromEnv can report it once.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
	if err != nil {
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
	if err != nil {
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
