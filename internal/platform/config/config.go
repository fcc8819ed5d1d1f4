package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevSessionSecret is used when SESSION_SECRET is unset in the dev
// environment. Production refuses it.
const DevSessionSecret = "dev-session-secret-change-in-production"

// Environments.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Credential backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Audit sinks.
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
)

// Config is the full runtime configuration.
type Config struct {
	Env      string
	Server   Server
	Log      Log
	Google   Google
	Session  Session
	Store    Store
	Redis    RedisConfig
	Postgres PostgresConfig
	Audit    Audit
	Admin    Admin
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	BaseURL         string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Google holds the OAuth client registration.
type Google struct {
	ClientID     string
	ClientSecret string
	Issuers      []string
}

type Session struct {
	Secret       string
	TTL          time.Duration
	StateTTL     time.Duration
	SecureCookie bool
}

// UsingDevSecret reports whether the built-in development secret is in use.
func (s Session) UsingDevSecret() bool {
	return s.Secret == DevSessionSecret
}

// Store selects and configures the credential backend.
type Store struct {
	Backend    string
	BoltPath   string
	SealingKey string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Audit struct {
	Sink    string
	Brokers []string
	Topic   string
}

// Admin configures operator endpoints. An empty Token leaves them unmounted.
type Admin struct {
	Token string
}

// IsProd reports whether the production environment is selected.
func (c Config) IsProd() bool {
	return c.Env == EnvProd
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Env: strings.ToLower(e.str("CLASSAUTH_ENV", EnvDev)),
		Server: Server{
			Addr:            e.str("CLASSAUTH_ADDR", ":8080"),
			BaseURL:         strings.TrimSuffix(e.str("CLASSAUTH_BASE_URL", "http://localhost:8080"), "/"),
			RequestTimeout:  e.duration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
		Google: Google{
			ClientID:     e.str("GOOGLE_CLIENT_ID", ""),
			ClientSecret: e.str("GOOGLE_CLIENT_SECRET", ""),
			Issuers:      e.list("GOOGLE_ISSUER", []string{"https://accounts.google.com", "accounts.google.com"}),
		},
		Session: Session{
			Secret:       e.str("SESSION_SECRET", DevSessionSecret),
			TTL:          e.duration("SESSION_TTL", 12*time.Hour),
			StateTTL:     e.duration("STATE_TTL", 10*time.Minute),
			SecureCookie: e.boolean("COOKIE_SECURE", false),
		},
		Store: Store{
			Backend:    strings.ToLower(e.str("CREDENTIAL_STORE", BackendMemory)),
			BoltPath:   e.str("BOLT_PATH", "classauth.db"),
			SealingKey: e.str("CREDENTIAL_SEALING_KEY", ""),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.integer("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    e.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Audit: Audit{
			Sink:    strings.ToLower(e.str("AUDIT_SINK", AuditSinkLog)),
			Brokers: e.list("KAFKA_BROKERS", nil),
			Topic:   e.str("KAFKA_AUDIT_TOPIC", "classauth.audit"),
		},
		Admin: Admin{
			Token: e.str("ADMIN_API_TOKEN", ""),
		},
	}
	if err := errors.Join(append(e.errs, cfg.Validate())...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Google.ClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID is required"))
	}
	if c.Google.ClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required"))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("CLASSAUTH_BASE_URL must be an absolute http(s) URL, got %q", c.Server.BaseURL))
	}
	switch c.Env {
	case EnvDev:
	case EnvProd:
		if c.Session.UsingDevSecret() {
			errs = append(errs, errors.New("SESSION_SECRET is required in prod"))
		}
		if !c.Session.SecureCookie {
			errs = append(errs, errors.New("COOKIE_SECURE must be true in prod"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLASSAUTH_ENV %q", c.Env))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_SECRET must not be empty"))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt backend"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CREDENTIAL_STORE %q", c.Store.Backend))
	}
	if c.Store.Backend != BackendMemory && c.Store.SealingKey == "" {
		errs = append(errs, errors.New("CREDENTIAL_SEALING_KEY is required for persistent backends"))
	}
	switch c.Audit.Sink {
	case AuditSinkLog:
	case AuditSinkKafka:
		if len(c.Audit.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_SINK %q", c.Audit.Sink))
	}
	return errors.Join(errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return d
}

func (e *env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return b
}

func (e *env) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
