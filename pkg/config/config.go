package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	Authz         AuthzConfig         `yaml:"authz"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection used by the role store
type DatabaseConfig struct {
	// URL is a lib/pq DSN. Empty runs against the in-memory loader.
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
	Migrate      bool          `yaml:"migrate"`
}

// RedisConfig holds the Redis connection shared by sessions, the bundle
// store and the invalidation channel
type RedisConfig struct {
	// URL such as redis://localhost:6379/0. Empty disables Redis.
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	MaxRetries int           `yaml:"max_retries"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// CacheConfig configures the permission bundle cache
type CacheConfig struct {
	// Storage is "memory" or "redis"
	Storage      string        `yaml:"storage"`
	MaxEntries   int           `yaml:"max_entries"`
	TTL          time.Duration `yaml:"ttl"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
	// Broadcast publishes invalidations on Redis pub/sub
	Broadcast bool   `yaml:"broadcast"`
	Channel   string `yaml:"channel"`
}

// AuthzConfig configures decisions and row scopes
type AuthzConfig struct {
	AdminCode          string        `yaml:"admin_code"`
	DisableAdminBypass bool          `yaml:"disable_admin_bypass"`
	RefreshSchedule    string        `yaml:"refresh_schedule"`
	RefreshTimeout     time.Duration `yaml:"refresh_timeout"`
	OwnerColumn        string        `yaml:"owner_column"`
	DepartmentColumn   string        `yaml:"department_column"`
	AllowedFields      []string      `yaml:"allowed_fields"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			LoadTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			SessionTTL: 24 * time.Hour,
		},
		Cache: CacheConfig{
			Storage:      "memory",
			MaxEntries:   10000,
			TTL:          30 * time.Minute,
			BuildTimeout: 10 * time.Second,
			KeyPrefix:    "breeze:bundle:",
			Channel:      "breeze:authz:invalidate",
		},
		Authz: AuthzConfig{
			AdminCode:        "ROLE_ADMIN",
			RefreshSchedule:  "@every 5m",
			RefreshTimeout:   30 * time.Second,
			OwnerColumn:      "create_by",
			DepartmentColumn: "dept_id",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelServiceName:    "breeze-authz",
			OTelServiceVersion: "dev",
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// BREEZE_CONFIG_FILE (if any) and BREEZE_* environment variables, in that
// order of precedence from lowest to highest
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BREEZE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadServerConfig()
	cfg.loadDatabaseConfig()
	cfg.loadRedisConfig()
	cfg.loadCacheConfig()
	cfg.loadAuthzConfig()
	cfg.loadObservabilityConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadServerConfig() {
	s := &c.Server
	s.Host = getEnv("BREEZE_HOST", s.Host)
	s.Port = getEnv("BREEZE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BREEZE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BREEZE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BREEZE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BREEZE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
}

func (c *Config) loadDatabaseConfig() {
	d := &c.Database
	d.URL = getEnv("BREEZE_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("BREEZE_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("BREEZE_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.LoadTimeout = getEnvDuration("BREEZE_LOAD_TIMEOUT", d.LoadTimeout)
	d.Migrate = getEnvBool("BREEZE_DATABASE_MIGRATE", d.Migrate)
}

func (c *Config) loadRedisConfig() {
	r := &c.Redis
	r.URL = getEnv("BREEZE_REDIS_URL", r.URL)
	r.Password = getEnv("BREEZE_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("BREEZE_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("BREEZE_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("BREEZE_REDIS_MAX_RETRIES", r.MaxRetries)
	r.SessionTTL = getEnvDuration("BREEZE_SESSION_TTL", r.SessionTTL)
}

func (c *Config) loadCacheConfig() {
	cc := &c.Cache
	cc.Storage = strings.ToLower(getEnv("BREEZE_CACHE_STORAGE", cc.Storage))
	cc.MaxEntries = getEnvInt("BREEZE_CACHE_MAX_ENTRIES", cc.MaxEntries)
	cc.TTL = getEnvDuration("BREEZE_CACHE_TTL", cc.TTL)
	cc.BuildTimeout = getEnvDuration("BREEZE_CACHE_BUILD_TIMEOUT", cc.BuildTimeout)
	cc.KeyPrefix = getEnv("BREEZE_CACHE_KEY_PREFIX", cc.KeyPrefix)
	cc.Broadcast = getEnvBool("BREEZE_CACHE_BROADCAST", cc.Broadcast)
	cc.Channel = getEnv("BREEZE_CACHE_CHANNEL", cc.Channel)
}

func (c *Config) loadAuthzConfig() {
	a := &c.Authz
	a.AdminCode = getEnv("BREEZE_ADMIN_CODE", a.AdminCode)
	a.DisableAdminBypass = getEnvBool("BREEZE_DISABLE_ADMIN_BYPASS", a.DisableAdminBypass)
	a.RefreshSchedule = getEnv("BREEZE_REFRESH_SCHEDULE", a.RefreshSchedule)
	a.RefreshTimeout = getEnvDuration("BREEZE_REFRESH_TIMEOUT", a.RefreshTimeout)
	a.OwnerColumn = getEnv("BREEZE_OWNER_COLUMN", a.OwnerColumn)
	a.DepartmentColumn = getEnv("BREEZE_DEPARTMENT_COLUMN", a.DepartmentColumn)
	a.AllowedFields = getEnvList("BREEZE_ALLOWED_FIELDS", a.AllowedFields)
}

func (c *Config) loadObservabilityConfig() {
	o := &c.Observability
	o.LogLevel = strings.ToLower(getEnv("BREEZE_LOG_LEVEL", o.LogLevel))
	o.MetricsEnabled = getEnvBool("BREEZE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("BREEZE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("BREEZE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("BREEZE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("BREEZE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("BREEZE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("BREEZE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks the configuration for consistency and reports every
// problem found
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %q", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Database.LoadTimeout <= 0 {
		errs = append(errs, errors.New("database load timeout must be positive"))
	}
	if c.Database.Migrate && c.Database.URL == "" {
		errs = append(errs, errors.New("database migrations require BREEZE_DATABASE_URL"))
	}

	switch c.Cache.Storage {
	case "memory":
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, errors.New("cache max entries must be positive for memory storage"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis cache storage requires BREEZE_REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache storage %q (want memory or redis)", c.Cache.Storage))
	}
	if c.Cache.TTL < 0 || c.Cache.BuildTimeout < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Cache.Broadcast && c.Redis.URL == "" {
		errs = append(errs, errors.New("cache broadcast requires BREEZE_REDIS_URL"))
	}

	if c.Authz.AdminCode == "" && !c.Authz.DisableAdminBypass {
		errs = append(errs, errors.New("admin code must be set unless the admin bypass is disabled"))
	}
	if c.Authz.OwnerColumn == "" || c.Authz.DepartmentColumn == "" {
		errs = append(errs, errors.New("owner and department columns must be set"))
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Observability.LogLevel))
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("OTel endpoint is required when OTel is enabled"))
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTel sample ratio must be within [0, 1], got %v", c.Observability.OTelSampleRatio))
	}

	return errors.Join(errs...)
}

// Addr is the HTTP listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
