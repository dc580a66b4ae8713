// Package config provides centralized configuration management for the sheets service.
//
// Settings come from three layers, later layers winning: built-in defaults,
// an optional YAML file named by CONFIG_FILE, and environment variables.
// The result is validated on startup so a misconfigured server fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration. The mapstructure tags are the
// keys used in the YAML file, e.g. engine.max_range_cells.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Engine   EngineConfig    `mapstructure:"engine"`
	Events   EventsConfig    `mapstructure:"events"`
	Rate     RateLimitConfig `mapstructure:"rate"`
	Security SecurityConfig  `mapstructure:"security"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"` // SERVER_HOST
	Port int    `mapstructure:"port"` // SERVER_PORT

	ReadTimeout time.Duration `mapstructure:"read_timeout"` // SERVER_READ_TIMEOUT
	// WriteTimeout stays 0 so event streams are not cut off; the event
	// handler clears its own deadline regardless.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // SERVER_WRITE_TIMEOUT
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // SERVER_IDLE_TIMEOUT
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // SERVER_SHUTDOWN_TIMEOUT

	// RequestTimeout applies to every route except the event stream.
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // SERVER_REQUEST_TIMEOUT

	MaxImportSize        int64         `mapstructure:"max_import_size"`        // SERVER_MAX_IMPORT_SIZE, bytes
	MaxConcurrentImports int           `mapstructure:"max_concurrent_imports"` // SERVER_MAX_CONCURRENT_IMPORTS
	ImportWait           time.Duration `mapstructure:"import_wait"`            // SERVER_IMPORT_WAIT
}

// StorageConfig selects and tunes the cell store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // STORAGE_DRIVER: postgres, sqlite or memory

	// URL is required for postgres. DATABASE_URL, then DB_URL.
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"` // SQLITE_PATH

	MaxConns        int           `mapstructure:"max_conns"`          // DB_MAX_CONNS
	MinConns        int           `mapstructure:"min_conns"`          // DB_MIN_CONNS
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`  // DB_MAX_CONN_LIFETIME
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"` // DB_MAX_CONN_IDLE_TIME
}

// EngineConfig holds formula evaluation and recalculation settings.
type EngineConfig struct {
	// MaxRangeCells is the largest range an aggregate may expand.
	MaxRangeCells    int  `mapstructure:"max_range_cells"`    // ENGINE_MAX_RANGE_CELLS
	MaxFormulaLength int  `mapstructure:"max_formula_length"` // ENGINE_MAX_FORMULA_LENGTH
	TransitiveRecalc bool `mapstructure:"transitive_recalc"`  // ENGINE_TRANSITIVE_RECALC

	// SweepInterval is how often every sheet is fully recalculated. 0 disables.
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // ENGINE_SWEEP_INTERVAL
	BatchLimit    int           `mapstructure:"batch_limit"`    // ENGINE_BATCH_LIMIT
}

// EventsConfig holds live edit stream settings.
type EventsConfig struct {
	Buffer    int           `mapstructure:"buffer"`    // EVENTS_BUFFER, per subscriber
	Heartbeat time.Duration `mapstructure:"heartbeat"` // EVENTS_HEARTBEAT
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`             // RATE_LIMIT_ENABLED
	RequestsPerMinute int  `mapstructure:"requests_per_minute"` // RATE_LIMIT_REQUESTS_PER_MINUTE
}

// SecurityConfig holds security-related settings. List values may be given
// comma-separated in the environment.
type SecurityConfig struct {
	TrustedProxies []string `mapstructure:"trusted_proxies"` // TRUSTED_PROXIES, CIDRs
	EnableCSP      bool     `mapstructure:"enable_csp"`      // SECURITY_ENABLE_CSP
	RequireAPIKey  bool     `mapstructure:"require_api_key"` // REQUIRE_API_KEY
	APIKeys        []string `mapstructure:"api_keys"`        // API_KEYS
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // LOG_LEVEL: debug, info, warn, error
	Format string `mapstructure:"format"` // LOG_FORMAT: text or json
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
