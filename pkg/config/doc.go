// Package config loads the service configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// BREEZE_CONFIG_FILE, then BREEZE_* environment variables. LoadConfig
// validates the result and reports every problem at once.
//
// # Environment variables
//
// Server:
//
//	BREEZE_HOST, BREEZE_PORT (8080)
//	BREEZE_READ_TIMEOUT, BREEZE_WRITE_TIMEOUT, BREEZE_IDLE_TIMEOUT
//	BREEZE_SHUTDOWN_TIMEOUT (30s)
//
// Database:
//
//	BREEZE_DATABASE_URL             lib/pq DSN; empty uses the in-memory loader
//	BREEZE_DATABASE_MAX_OPEN_CONNS  (25)
//	BREEZE_DATABASE_MAX_IDLE_CONNS  (5)
//	BREEZE_DATABASE_MIGRATE         apply schema migrations at startup
//	BREEZE_LOAD_TIMEOUT             bound on each loader call (5s)
//
// Redis:
//
//	BREEZE_REDIS_URL, BREEZE_REDIS_PASSWORD, BREEZE_REDIS_DB
//	BREEZE_REDIS_POOL_SIZE, BREEZE_REDIS_MAX_RETRIES
//	BREEZE_SESSION_TTL (24h)
//
// Cache:
//
//	BREEZE_CACHE_STORAGE        memory | redis
//	BREEZE_CACHE_MAX_ENTRIES    (10000)
//	BREEZE_CACHE_TTL            (30m)
//	BREEZE_CACHE_BUILD_TIMEOUT  (10s)
//	BREEZE_CACHE_KEY_PREFIX, BREEZE_CACHE_CHANNEL
//	BREEZE_CACHE_BROADCAST      publish invalidations to other instances
//
// Authorization:
//
//	BREEZE_ADMIN_CODE (ROLE_ADMIN), BREEZE_DISABLE_ADMIN_BYPASS
//	BREEZE_REFRESH_SCHEDULE (@every 5m), BREEZE_REFRESH_TIMEOUT
//	BREEZE_OWNER_COLUMN (create_by), BREEZE_DEPARTMENT_COLUMN (dept_id)
//	BREEZE_ALLOWED_FIELDS       comma-separated allow-list for custom rules
//
// Observability:
//
//	BREEZE_LOG_LEVEL, BREEZE_METRICS_ENABLED
//	BREEZE_OTEL_ENABLED, BREEZE_OTEL_ENDPOINT, BREEZE_OTEL_INSECURE
//	BREEZE_OTEL_SERVICE_NAME, BREEZE_OTEL_SERVICE_VERSION, BREEZE_OTEL_SAMPLE_RATIO
//
// # Config file
//
//	server:
//	  port: "9000"
//	cache:
//	  storage: redis
//	  ttl: 10m
//	redis:
//	  url: redis://cache:6379/0
//	authz:
//	  allowed_fields: [status, region]
package config
