package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

// CheckFunc reports the health of one dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker provides health check functionality
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string

	mu       sync.RWMutex
	required map[string]CheckFunc
	optional map[string]CheckFunc
}

// NewHealthChecker creates a new health checker. Either client may be nil.
func NewHealthChecker(db *sql.DB, redis *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		redis:    redis,
		version:  version,
		required: make(map[string]CheckFunc),
		optional: make(map[string]CheckFunc),
	}
}

// AddCheck registers a named dependency. A failing required check makes the
// service unhealthy; a failing optional one only degrades it.
func (h *HealthChecker) AddCheck(name string, required bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if required {
		h.required[name] = fn
	} else {
		h.optional[name] = fn
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	// 503 if unhealthy, 200 if healthy or degraded
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		status.merge("database", h.checkDatabase(ctx), true)
	}
	// the cache and the broadcaster fall back to local state without Redis
	if h.redis != nil {
		status.merge("redis", run(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}), false)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range sortedNames(h.required) {
		status.merge(name, run(ctx, h.required[name]), true)
	}
	for _, name := range sortedNames(h.optional) {
		status.merge(name, run(ctx, h.optional[name]), false)
	}

	return status
}

func (s *HealthStatus) merge(name string, dep DependencyStatus, required bool) {
	s.Dependencies[name] = dep
	if dep.Status == StatusHealthy || s.Status == StatusUnhealthy {
		return
	}
	if required && dep.Status == StatusUnhealthy {
		s.Status = StatusUnhealthy
		return
	}
	s.Status = StatusDegraded
}

func run(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	err := fn(ctx)
	status := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// checkDatabase checks PostgreSQL health
func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	status := run(ctx, func(ctx context.Context) error {
		var one int
		return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if status.Status != StatusHealthy {
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}
	return status
}

func sortedNames(m map[string]CheckFunc) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/healthz/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/healthz/ready", checker.Readiness).Methods(http.MethodGet)
}
