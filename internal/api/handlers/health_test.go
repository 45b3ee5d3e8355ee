package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hugh/go-tenant/internal/api/handlers"
	"github.com/hugh/go-tenant/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	ts := testutil.NewTestContext(t)

	down := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { down.Close() })

	tests := []struct {
		name       string
		redis      *redis.Client
		wantStatus int
		want       handlers.HealthResponse
	}{
		{
			name:       "database only",
			wantStatus: http.StatusOK,
			want:       handlers.HealthResponse{Status: "healthy", Services: map[string]string{"database": "healthy"}},
		},
		{
			name:       "redis down",
			redis:      down,
			wantStatus: http.StatusOK,
			want: handlers.HealthResponse{Status: "degraded", Services: map[string]string{
				"database": "healthy",
				"redis":    "unhealthy",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewHealthHandler(ts.DB, tt.redis)
			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest("GET", "/health", nil))

			testutil.AssertStatus(t, rr, tt.wantStatus)
			var got handlers.HealthResponse
			testutil.ParseJSONResponse(t, rr, &got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthHandler_ReadyFailsWithoutDatabase(t *testing.T) {
	ts := testutil.NewTestContext(t)
	h := handlers.NewHealthHandler(ts.DB, nil)

	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest("GET", "/ready", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)

	sqlDB, err := ts.DB.DB()
	assert.NoError(t, err)
	sqlDB.Close()

	rr = httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest("GET", "/ready", nil))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
}
