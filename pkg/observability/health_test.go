package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestHealthChecker_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	client, _ := setupRedis(t)
	checker := NewHealthChecker(db, client, "v1.2.3")
	checker.AddCheck("departments", true, func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "v1.2.3", status.Version)
	assert.Len(t, status.Dependencies, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_RedisDownDegrades(t *testing.T) {
	client, mr := setupRedis(t)
	mr.Close()

	status := NewHealthChecker(nil, client, "").Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthChecker_RequiredCheckFails(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "")
	checker.AddCheck("cache", false, func(ctx context.Context) error { return errors.New("slow") })
	checker.AddCheck("departments", true, func(ctx context.Context) error { return errors.New("not loaded") })

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "not loaded", status.Dependencies["departments"].Message)
}

func TestHealthChecker_DatabaseFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	status := NewHealthChecker(db, nil, "").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["database"].Message, "connection refused")
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "")
	checker.AddCheck("departments", true, func(ctx context.Context) error { return errors.New("not loaded") })
	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
}
