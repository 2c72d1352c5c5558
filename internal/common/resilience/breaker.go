// Package resilience guards calls to remote stores with circuit breakers so
// an unavailable dependency fails fast instead of stalling every request.
package resilience

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loginrisk",
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "circuit_breaker_rejected_total",
			Help:      "Total calls rejected while the circuit breaker was open",
		},
		[]string{"name"},
	)
)

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Config configures a Breaker
type Config struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before letting a
	// probe call through.
	OpenTimeout time.Duration
}

// Breaker wraps a gobreaker circuit breaker with logging and metrics
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a closed breaker
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "circuit_breaker"), zap.String("name", cfg.Name))
	threshold := uint32(cfg.FailureThreshold)

	stateGauge.WithLabelValues(cfg.Name).Set(0)
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			stateGauge.WithLabelValues(name).Set(stateValue(to))
			transitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
			if to == gobreaker.StateOpen {
				log.Error("Circuit breaker opened", zap.Duration("open_timeout", cfg.OpenTimeout))
				return
			}
			log.Info("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns closed, half-open or open
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Do runs fn through b and returns its result. A nil breaker calls fn
// directly.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}

	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			rejectedTotal.WithLabelValues(b.cb.Name()).Inc()
			return zero, ErrOpen
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
