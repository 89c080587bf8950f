// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Batch      BatchConfig
	Retention  RetentionConfig
	Database   DatabaseConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8008)
	Port int `env:"SERVER_PORT" default:"8008"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests.
	// The synchronous extraction endpoint needs most of a run's budget (default: 10m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"10m"`

	// PublicURL is the externally visible base URL used in response links.
	// Empty means links are built from the request's Host header.
	PublicURL string `env:"SERVER_PUBLIC_URL"`
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// UploadDir holds uploaded PDFs (default: temp_pdfs)
	UploadDir string `env:"STORAGE_UPLOAD_DIR" default:"temp_pdfs"`

	// ArtifactDir holds generated spreadsheets (default: artifacts)
	ArtifactDir string `env:"STORAGE_ARTIFACT_DIR" default:"artifacts"`

	// MaxFileSize is the maximum allowed upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"STORAGE_MAX_FILE_SIZE" default:"52428800"`
}

// ExtractionConfig holds interactive extraction settings.
type ExtractionConfig struct {
	// DefaultMode is the detection mode used when a request names none (default: lattice)
	DefaultMode string `env:"EXTRACT_DEFAULT_MODE" default:"lattice"`

	// ProgressInterval is the minimum spacing between progress events (default: 5s)
	ProgressInterval time.Duration `env:"EXTRACT_PROGRESS_INTERVAL" default:"5s"`

	// Heartbeat is how long a progress stream waits before sending a keepalive (default: 15s)
	Heartbeat time.Duration `env:"EXTRACT_HEARTBEAT" default:"15s"`

	// CompletionGrace is how long a progress stream lingers after completion (default: 500ms)
	CompletionGrace time.Duration `env:"EXTRACT_COMPLETION_GRACE" default:"500ms"`

	// MaxConcurrent is the maximum number of interactive runs (default: 4)
	MaxConcurrent int `env:"EXTRACT_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long a new run waits for a free slot (default: 30s)
	MaxWait time.Duration `env:"EXTRACT_MAX_WAIT" default:"30s"`

	// RunTimeout bounds a single run (default: 30m)
	RunTimeout time.Duration `env:"EXTRACT_RUN_TIMEOUT" default:"30m"`

	// ChannelTTL is how long a finished run stays subscribable (default: 5m)
	ChannelTTL time.Duration `env:"EXTRACT_CHANNEL_TTL" default:"5m"`
}

// BatchConfig holds offline batch settings.
type BatchConfig struct {
	// Workers is the number of pages extracted in parallel (default: 8)
	Workers int `env:"BATCH_WORKERS" default:"8"`
}

// RetentionConfig holds file cleanup settings.
type RetentionConfig struct {
	// MaxAge is how long uploads and spreadsheets are kept (default: 24h)
	MaxAge time.Duration `env:"RETENTION_MAX_AGE" default:"24h"`

	// Schedule is the cron spec of the cleanup job (default: @every 1h)
	Schedule string `env:"RETENTION_SCHEDULE" default:"@every 1h"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string for run history.
	// Empty keeps history in memory.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and extraction endpoints (default: 20)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// CORSAllowedOrigins lists origins allowed to call the API (default: *)
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`

	// RequireAPIKey enables X-API-Key authentication on API routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
