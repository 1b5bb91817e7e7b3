// Package config provides the process settings and the bundle file.
//
// Process settings come from environment variables with defaults and are
// validated on startup. Bundles, the per-catalog connection and ingestion
// settings, come from a YAML file (see bundles.go).
package config

import "time"

// Config holds all process configuration.
// All settings can be configured via environment variables.
type Config struct {
	Run       RunConfig
	Database  DatabaseConfig
	GeoServer GeoServerConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// RunConfig holds batch run settings.
type RunConfig struct {
	// BundleFile is the YAML file listing the bundles (default: bundles.yml)
	BundleFile string `env:"GEOPOSTGIS_BUNDLES" default:"bundles.yml"`

	// ReportDir is where per-run CSV reports are written (default: reports)
	ReportDir string `env:"GEOPOSTGIS_REPORT_DIR" default:"reports"`

	// Workers bounds parallel phases; 0 means CPU count minus one (default: 0)
	Workers int `env:"GEOPOSTGIS_WORKERS" default:"0"`

	// Timeout bounds a whole bundle run; 0 disables it (default: 0)
	Timeout time.Duration `env:"GEOPOSTGIS_RUN_TIMEOUT" default:"0s"`

	// ShutdownTimeout is how long in-flight datasets may take to finish after
	// an interrupt (default: 2m)
	ShutdownTimeout time.Duration `env:"GEOPOSTGIS_SHUTDOWN_TIMEOUT" default:"2m"`
}

// DatabaseConfig holds connection pool settings shared by every bundle's
// database server.
type DatabaseConfig struct {
	// MaxConns is the maximum number of connections per pool; 0 sizes the
	// pool to the worker count plus one (default: 0)
	MaxConns int `env:"DB_MAX_CONNS" default:"0"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectTimeout bounds establishing a connection (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`

	// BatchSize is the number of feature inserts per round trip (default: 1000)
	BatchSize int `env:"DB_BATCH_SIZE" default:"1000"`

	// SkipIndex disables the spatial index and CLUSTER step (default: false)
	SkipIndex bool `env:"DB_SKIP_INDEX" default:"false"`
}

// GeoServerConfig holds REST client settings.
type GeoServerConfig struct {
	// Timeout for individual requests (default: 60s)
	Timeout time.Duration `env:"GEOSERVER_TIMEOUT" default:"60s"`

	// MaxRetries for requests failing with 429, 5xx or a transport error (default: 3)
	MaxRetries int `env:"GEOSERVER_MAX_RETRIES" default:"3"`

	// RateLimit is requests per second across all workers (default: 10)
	RateLimit float64 `env:"GEOSERVER_RATE_LIMIT" default:"10"`

	// RateBurst is the maximum burst size (default: 5)
	RateBurst int `env:"GEOSERVER_RATE_BURST" default:"5"`
}

// ServerConfig holds the optional status server settings.
type ServerConfig struct {
	// Addr is the listen address; empty disables the server (default: "")
	Addr string `env:"STATUS_ADDR"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"STATUS_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"STATUS_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"STATUS_IDLE_TIMEOUT" default:"60s"`

	// RequestTimeout is the middleware timeout for requests (default: 30s)
	RequestTimeout time.Duration `env:"STATUS_REQUEST_TIMEOUT" default:"30s"`

	// TrustedProxies are CIDRs whose X-Real-IP and X-Forwarded-For headers
	// are believed (comma-separated)
	TrustedProxies []string `env:"STATUS_TRUSTED_PROXIES"`

	// APIKeys, when set, must be sent in X-API-Key on /api routes
	// (comma-separated)
	APIKeys []string `env:"STATUS_API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// PoolSize returns the pool size for workers concurrent datasets.
func (c DatabaseConfig) PoolSize(workers int) int {
	if c.MaxConns > 0 {
		return c.MaxConns
	}
	if workers < 1 {
		workers = 1
	}
	return workers + 1
}
