package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one security-relevant action written to the audit log stream
type AuditEvent struct {
	EventType string                 `json:"event_type"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Subject   string                 `json:"subject"` // username or resource the action applies to
	Status    string                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("subject", event.Subject),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	a.logger.Info("Audit event", fields...)
}

// LogRiskDecision records the outcome of a login evaluation. reason is the
// admin-only hidden reason and must not be echoed to the caller.
func (a *AuditLogger) LogRiskDecision(username, ipAddress, decision string, score int, reason string) {
	status := "allowed"
	switch decision {
	case "block":
		status = "denied"
	case "challenge":
		status = "challenged"
	}
	a.Log(&AuditEvent{
		EventType: "risk",
		Actor:     username,
		Action:    "login.evaluate",
		Subject:   username,
		Status:    status,
		Reason:    reason,
		IPAddress: ipAddress,
		Metadata:  map[string]interface{}{"score": score, "decision": decision},
	})
}

// LogConfigurationChanged records an administrative change
func (a *AuditLogger) LogConfigurationChanged(actor, configKey string, oldValue, newValue interface{}) {
	a.Log(&AuditEvent{
		EventType: "configuration",
		Actor:     actor,
		Action:    "configuration.update",
		Subject:   configKey,
		Status:    "success",
		Metadata: map[string]interface{}{
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}
