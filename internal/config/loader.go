package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigFile names an optional YAML file read before the environment.
const EnvConfigFile = "CONFIG_FILE"

// setting binds one configuration key to its environment variables, checked
// in order, and its default.
type setting struct {
	key string
	env []string
	def any
}

var settings = []setting{
	{"server.host", []string{"SERVER_HOST"}, "0.0.0.0"},
	{"server.port", []string{"SERVER_PORT"}, 8080},
	{"server.read_timeout", []string{"SERVER_READ_TIMEOUT"}, 15 * time.Second},
	{"server.write_timeout", []string{"SERVER_WRITE_TIMEOUT"}, time.Duration(0)},
	{"server.idle_timeout", []string{"SERVER_IDLE_TIMEOUT"}, 60 * time.Second},
	{"server.shutdown_timeout", []string{"SERVER_SHUTDOWN_TIMEOUT"}, 30 * time.Second},
	{"server.request_timeout", []string{"SERVER_REQUEST_TIMEOUT"}, 60 * time.Second},
	{"server.max_import_size", []string{"SERVER_MAX_IMPORT_SIZE"}, int64(32 << 20)},
	{"server.max_concurrent_imports", []string{"SERVER_MAX_CONCURRENT_IMPORTS"}, 4},
	{"server.import_wait", []string{"SERVER_IMPORT_WAIT"}, 30 * time.Second},

	{"storage.driver", []string{"STORAGE_DRIVER"}, DriverPostgres},
	{"storage.url", []string{"DATABASE_URL", "DB_URL"}, ""},
	{"storage.sqlite_path", []string{"SQLITE_PATH"}, "sheets.db"},
	{"storage.max_conns", []string{"DB_MAX_CONNS"}, 20},
	{"storage.min_conns", []string{"DB_MIN_CONNS"}, 4},
	{"storage.max_conn_lifetime", []string{"DB_MAX_CONN_LIFETIME"}, time.Hour},
	{"storage.max_conn_idle_time", []string{"DB_MAX_CONN_IDLE_TIME"}, 30 * time.Minute},

	{"engine.max_range_cells", []string{"ENGINE_MAX_RANGE_CELLS"}, 100000},
	{"engine.max_formula_length", []string{"ENGINE_MAX_FORMULA_LENGTH"}, 8192},
	{"engine.transitive_recalc", []string{"ENGINE_TRANSITIVE_RECALC"}, false},
	{"engine.sweep_interval", []string{"ENGINE_SWEEP_INTERVAL"}, time.Duration(0)},
	{"engine.batch_limit", []string{"ENGINE_BATCH_LIMIT"}, 1000},

	{"events.buffer", []string{"EVENTS_BUFFER"}, 64},
	{"events.heartbeat", []string{"EVENTS_HEARTBEAT"}, 25 * time.Second},

	{"rate.enabled", []string{"RATE_LIMIT_ENABLED"}, true},
	{"rate.requests_per_minute", []string{"RATE_LIMIT_REQUESTS_PER_MINUTE"}, 600},

	{"security.trusted_proxies", []string{"TRUSTED_PROXIES"}, []string{}},
	{"security.enable_csp", []string{"SECURITY_ENABLE_CSP"}, true},
	{"security.require_api_key", []string{"REQUIRE_API_KEY"}, false},
	{"security.api_keys", []string{"API_KEYS"}, []string{}},

	{"logging.level", []string{"LOG_LEVEL"}, "info"},
	{"logging.format", []string{"LOG_FORMAT"}, "text"},
}

// Load reads configuration from defaults, the file named by CONFIG_FILE (if
// set) and environment variables, then validates the result.
func Load() (*Config, error) {
	v := newViper()

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config load: read %s: %w", path, err)
		}
	}

	for _, s := range settings {
		if err := v.BindEnv(append([]string{s.key}, s.env...)...); err != nil {
			return nil, fmt.Errorf("config load: bind %s: %w", s.key, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without reading the file or the
// environment. Tools that embed the engine start from it.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}
	return v
}

// decode unmarshals v into a Config. Viper converts strings to durations and
// splits comma-separated lists; list entries are trimmed here.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Security.TrustedProxies = cleanList(cfg.Security.TrustedProxies)
	cfg.Security.APIKeys = cleanList(cfg.Security.APIKeys)
	return &cfg, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Storage validation
	switch strings.ToLower(c.Storage.Driver) {
	case DriverPostgres:
		if c.Storage.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_DRIVER is postgres")
		}
		if c.Storage.MaxConns < c.Storage.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Storage.MaxConns, c.Storage.MinConns))
		}
		if c.Storage.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Storage.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when STORAGE_DRIVER is sqlite")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_DRIVER (%q) must be one of: postgres, sqlite, memory", c.Storage.Driver))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxImportSize <= 0 {
		errs = append(errs, "SERVER_MAX_IMPORT_SIZE must be positive")
	}
	if c.Server.MaxConcurrentImports <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT_IMPORTS must be positive")
	}

	// Engine validation
	if c.Engine.MaxRangeCells <= 0 {
		errs = append(errs, "ENGINE_MAX_RANGE_CELLS must be positive")
	}
	if c.Engine.MaxFormulaLength <= 0 {
		errs = append(errs, "ENGINE_MAX_FORMULA_LENGTH must be positive")
	}
	if c.Engine.SweepInterval < 0 {
		errs = append(errs, "ENGINE_SWEEP_INTERVAL must be non-negative")
	}
	if c.Engine.BatchLimit <= 0 {
		errs = append(errs, "ENGINE_BATCH_LIMIT must be positive")
	}

	// Events validation
	if c.Events.Buffer <= 0 {
		errs = append(errs, "EVENTS_BUFFER must be positive")
	}
	if c.Events.Heartbeat <= 0 {
		errs = append(errs, "EVENTS_HEARTBEAT must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.New("validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns the config for logging with the database URL and API keys
// masked.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Storage: {Driver: %q, URL: [MASKED], SQLitePath: %q, MaxConns: %d, MinConns: %d}, ",
		c.Storage.Driver, c.Storage.SQLitePath, c.Storage.MaxConns, c.Storage.MinConns)
	fmt.Fprintf(&b, "Engine: {MaxRangeCells: %d, TransitiveRecalc: %v, SweepInterval: %s, BatchLimit: %d}, ",
		c.Engine.MaxRangeCells, c.Engine.TransitiveRecalc, c.Engine.SweepInterval, c.Engine.BatchLimit)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}}", c.Logging.Level, c.Logging.Format)
	return b.String()
}
