// Package health reports the state of the risk service and the stores it
// depends on for the /health and /ready probes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/database"
	"github.com/openidx/loginrisk/internal/common/resilience"
)

// Dependency states
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

const checkTimeout = 3 * time.Second

// Status is the aggregated service health
type Status struct {
	Status       string                     `json:"status"` // healthy, degraded, unhealthy
	Service      string                     `json:"service"`
	Version      string                     `json:"version,omitempty"`
	Uptime       string                     `json:"uptime"`
	Dependencies map[string]DependencyCheck `json:"dependencies"`
	CheckedAt    time.Time                  `json:"checked_at"`
}

// DependencyCheck is the result of one checker
type DependencyCheck struct {
	Status   string `json:"status"`
	Latency  string `json:"latency,omitempty"`
	Details  string `json:"details,omitempty"`
	Critical bool   `json:"critical"`
}

// Checker probes one dependency
type Checker interface {
	Name() string
	Check(ctx context.Context) DependencyCheck
}

type registered struct {
	checker  Checker
	critical bool
}

// Service runs the registered checkers
type Service struct {
	service   string
	version   string
	logger    *zap.Logger
	startTime time.Time

	mu       sync.RWMutex
	checkers []registered
}

// NewService creates a health service for the named service
func NewService(service, version string, logger *zap.Logger) *Service {
	return &Service{
		service:   service,
		version:   version,
		logger:    logger.With(zap.String("component", "health")),
		startTime: time.Now(),
	}
}

// Register adds a checker. A critical dependency that is down makes the
// service unhealthy and not ready; anything else only degrades it.
func (s *Service) Register(c Checker, critical bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, registered{checker: c, critical: critical})
}

// Check runs every checker concurrently
func (s *Service) Check(ctx context.Context) *Status {
	s.mu.RLock()
	checkers := make([]registered, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	results := make([]DependencyCheck, len(checkers))
	var wg sync.WaitGroup
	for i, r := range checkers {
		wg.Add(1)
		go func(i int, r registered) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			res := r.checker.Check(checkCtx)
			res.Critical = r.critical
			results[i] = res
		}(i, r)
	}
	wg.Wait()

	status := &Status{
		Status:       "healthy",
		Service:      s.service,
		Version:      s.version,
		Uptime:       formatDuration(time.Since(s.startTime)),
		Dependencies: make(map[string]DependencyCheck, len(checkers)),
		CheckedAt:    time.Now().UTC(),
	}
	for i, r := range checkers {
		res := results[i]
		status.Dependencies[r.checker.Name()] = res
		switch {
		case res.Status == StatusDown && r.critical:
			status.Status = "unhealthy"
			s.logger.Warn("Dependency is down", zap.String("dependency", r.checker.Name()), zap.String("details", res.Details))
		case res.Status != StatusUp && status.Status == "healthy":
			status.Status = "degraded"
		}
	}
	return status
}

// Ready reports whether every critical dependency is reachable
func (st *Status) Ready() bool {
	return st.Status != "unhealthy"
}

// Handler serves the full health report. Unhealthy is 503.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.Check(c.Request.Context())
		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// ReadyHandler serves the readiness probe
func (s *Service) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.Check(c.Request.Context())
		if !status.Ready() {
			down := make([]string, 0)
			for name, dep := range status.Dependencies {
				if dep.Critical && dep.Status == StatusDown {
					down = append(down, name)
				}
			}
			sort.Strings(down)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "down": down})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// RegisterRoutes registers /health, /health/live and /ready
func (s *Service) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", s.Handler())
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": formatDuration(time.Since(s.startTime))})
	})
	router.GET("/ready", s.ReadyHandler())
}

func probe(ctx context.Context, slow time.Duration, ping func(context.Context) error) DependencyCheck {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	res := DependencyCheck{Status: StatusUp, Latency: latency.String()}
	switch {
	case err != nil:
		res.Status = StatusDown
		res.Details = err.Error()
	case latency > slow:
		res.Status = StatusDegraded
		res.Details = fmt.Sprintf("high latency: %s", latency)
	}
	return res
}

// PostgresChecker pings the attempt log database
type PostgresChecker struct {
	db *database.PostgresDB
}

func NewPostgresChecker(db *database.PostgresDB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (p *PostgresChecker) Name() string { return "postgres" }

func (p *PostgresChecker) Check(ctx context.Context) DependencyCheck {
	return probe(ctx, 500*time.Millisecond, p.db.Ping)
}

// RedisChecker pings the baseline and rules store
type RedisChecker struct {
	redis *database.RedisClient
}

func NewRedisChecker(redis *database.RedisClient) *RedisChecker {
	return &RedisChecker{redis: redis}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) DependencyCheck {
	return probe(ctx, 200*time.Millisecond, r.redis.Ping)
}

// ModelChecker reports the anomaly model as degraded until it has trained
type ModelChecker struct {
	model *anomaly.Model
}

func NewModelChecker(model *anomaly.Model) *ModelChecker {
	return &ModelChecker{model: model}
}

func (m *ModelChecker) Name() string { return "anomaly_model" }

func (m *ModelChecker) Check(context.Context) DependencyCheck {
	state := m.model.State()
	if !state.IsReady {
		return DependencyCheck{
			Status:  StatusDegraded,
			Details: fmt.Sprintf("untrained: %d of %d samples", len(m.model.Samples()), m.model.Config().MinSamples),
		}
	}
	return DependencyCheck{
		Status:  StatusUp,
		Details: fmt.Sprintf("version %d trained on %d samples", state.Version, state.SamplesCount),
	}
}

// BreakerChecker reports a store as degraded while its breaker is not closed
type BreakerChecker struct {
	breaker *resilience.Breaker
}

func NewBreakerChecker(b *resilience.Breaker) *BreakerChecker {
	return &BreakerChecker{breaker: b}
}

func (b *BreakerChecker) Name() string { return "breaker_" + b.breaker.Name() }

func (b *BreakerChecker) Check(context.Context) DependencyCheck {
	state := b.breaker.State()
	if state == "closed" {
		return DependencyCheck{Status: StatusUp}
	}
	return DependencyCheck{Status: StatusDegraded, Details: "circuit " + state}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
