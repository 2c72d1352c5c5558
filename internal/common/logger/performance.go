package logger

import (
	"time"

	"go.uber.org/zap"
)

// Timer logs the duration of a single operation
type Timer struct {
	logger    *zap.Logger
	operation string
	startTime time.Time
	slow      time.Duration
	fields    []zap.Field
}

// StartTimer starts a new timer. Operations longer than slow are logged at warn.
func StartTimer(logger *zap.Logger, operation string, slow time.Duration, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    logger.With(zap.String("log_type", "performance")),
		operation: operation,
		startTime: time.Now(),
		slow:      slow,
		fields:    fields,
	}
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
	)

	if t.slow > 0 && duration > t.slow {
		t.logger.Warn("Slow operation", fields...)
	} else {
		t.logger.Debug("Operation completed", fields...)
	}

	return duration
}
