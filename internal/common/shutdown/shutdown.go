// Package shutdown drains the HTTP server and runs cleanup hooks when the
// process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager coordinates a graceful stop. Hooks run after the servers have
// drained, in reverse registration order.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	hooks   []hook
	servers []*http.Server
	errs    chan error
}

// NewManager creates a manager that allows timeout for the whole sequence
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger.With(zap.String("component", "shutdown")),
		timeout: timeout,
		errs:    make(chan error, 1),
	}
}

// Hook registers a cleanup function
func (m *Manager) Hook(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Serve starts server in the background. A listen failure ends Wait.
func (m *Manager) Serve(server *http.Server) {
	m.mu.Lock()
	m.servers = append(m.servers, server)
	m.mu.Unlock()

	go func() {
		m.logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case m.errs <- fmt.Errorf("server %s: %w", server.Addr, err):
			default:
			}
		}
	}()
}

// Wait blocks until SIGINT, SIGTERM, ctx cancellation or a server failure,
// then shuts down. It returns the server failure, if any.
func (m *Manager) Wait(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cause error
	select {
	case <-ctx.Done():
		m.logger.Info("Shutdown requested")
	case cause = <-m.errs:
		m.logger.Error("Server failed, shutting down", zap.Error(cause))
	}

	m.Shutdown()
	return cause
}

// Shutdown drains the servers, then runs the hooks, within the timeout
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	servers := append([]*http.Server(nil), m.servers...)
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				m.logger.Error("Server forced to shutdown", zap.String("addr", s.Addr), zap.Error(err))
			}
		}(s)
	}
	wg.Wait()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if ctx.Err() != nil {
			m.logger.Warn("Shutdown timeout reached, skipping remaining hooks",
				zap.String("skipped_hook", h.name),
				zap.Int("remaining", i+1))
			return
		}

		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			continue
		}
		m.logger.Debug("Shutdown hook completed",
			zap.String("hook", h.name),
			zap.Duration("duration", time.Since(start)))
	}
	m.logger.Info("Shutdown complete")
}
