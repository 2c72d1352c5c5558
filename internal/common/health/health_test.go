package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/database"
	"github.com/openidx/loginrisk/internal/common/resilience"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticChecker struct {
	name string
	res  DependencyCheck
}

func (s staticChecker) Name() string                          { return s.name }
func (s staticChecker) Check(context.Context) DependencyCheck { return s.res }

func TestService_Check(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		status   string
		expected string
	}{
		{"all up", true, StatusUp, "healthy"},
		{"critical degraded", true, StatusDegraded, "degraded"},
		{"optional down", false, StatusDown, "degraded"},
		{"critical down", true, StatusDown, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService("risk-service", "test", zap.NewNop())
			s.Register(staticChecker{"ok", DependencyCheck{Status: StatusUp}}, true)
			s.Register(staticChecker{"dep", DependencyCheck{Status: tt.status}}, tt.critical)

			status := s.Check(context.Background())
			assert.Equal(t, tt.expected, status.Status)
			assert.Equal(t, "risk-service", status.Service)
			assert.Len(t, status.Dependencies, 2)
			assert.Equal(t, tt.critical, status.Dependencies["dep"].Critical)
		})
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	checker := NewRedisChecker(&database.RedisClient{Client: client})
	assert.Equal(t, StatusUp, checker.Check(context.Background()).Status)

	mr.Close()
	res := checker.Check(context.Background())
	assert.Equal(t, StatusDown, res.Status)
	assert.NotEmpty(t, res.Details)
}

func TestModelChecker(t *testing.T) {
	model := anomaly.NewModel(anomaly.Config{MaxSamples: 10, RetrainThreshold: 100, MinSamples: 2}, zap.NewNop())
	checker := NewModelChecker(model)

	res := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "untrained: 0 of 2 samples", res.Details)

	model.AddSample(anomaly.Features{TypingSpeed: 45}, false)
	model.AddSample(anomaly.Features{TypingSpeed: 50}, false)
	require.True(t, model.Train())

	res = checker.Check(context.Background())
	assert.Equal(t, StatusUp, res.Status)
	assert.Equal(t, "version 1 trained on 2 samples", res.Details)
}

func TestRoutes(t *testing.T) {
	s := NewService("risk-service", "test", zap.NewNop())
	fail := &staticChecker{"redis", DependencyCheck{Status: StatusUp}}
	s.Register(fail, true)
	s.Register(staticChecker{"anomaly_model", DependencyCheck{Status: StatusDegraded}}, false)

	router := gin.New()
	s.RegisterRoutes(router)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)

	assert.Equal(t, http.StatusOK, get("/ready").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)

	fail.res = DependencyCheck{Status: StatusDown, Details: errors.New("connection refused").Error()}
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)

	w = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not ready","down":["redis"]}`, w.Body.String())
}

func TestBreakerChecker(t *testing.T) {
	b := resilience.New(resilience.Config{Name: "redis", FailureThreshold: 1, OpenTimeout: time.Hour}, zap.NewNop())
	checker := NewBreakerChecker(b)
	assert.Equal(t, "breaker_redis", checker.Name())
	assert.Equal(t, StatusUp, checker.Check(context.Background()).Status)

	_ = b.Execute(func() error { return errors.New("connection refused") })
	res := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "circuit open", res.Details)
}
