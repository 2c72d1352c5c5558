package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/database"
)

const attemptsSchema = `
CREATE TABLE IF NOT EXISTS login_attempts (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	ip_address    TEXT NOT NULL DEFAULT '',
	device        TEXT NOT NULL DEFAULT '',
	geo           TEXT NOT NULL DEFAULT '',
	score         INTEGER NOT NULL,
	level         TEXT NOT NULL,
	decision      TEXT NOT NULL,
	breakdown     JSONB NOT NULL,
	enhanced      JSONB NOT NULL,
	prediction    JSONB,
	success       BOOLEAN NOT NULL,
	requires_otp  BOOLEAN NOT NULL,
	reason        TEXT NOT NULL,
	hidden_reason TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_username_created
	ON login_attempts (lower(username), created_at DESC);
`

const maxRecentAttempts = 500

// PostgresAttemptLog writes attempts to the login_attempts table. Rows are
// only ever inserted.
type PostgresAttemptLog struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresAttemptLog creates a Postgres-backed attempt log
func NewPostgresAttemptLog(db *database.PostgresDB, logger *zap.Logger) *PostgresAttemptLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAttemptLog{db: db, logger: logger.With(zap.String("component", "attempt_log"))}
}

// EnsureSchema creates the login_attempts table if it does not exist
func (l *PostgresAttemptLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Pool.Exec(ctx, attemptsSchema); err != nil {
		return fmt.Errorf("failed to create login_attempts schema: %w", err)
	}
	return nil
}

func (l *PostgresAttemptLog) Append(ctx context.Context, a LoginAttempt) error {
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return err
	}
	enhanced, err := json.Marshal(a.Enhanced)
	if err != nil {
		return err
	}
	var prediction []byte
	if a.Prediction != nil {
		if prediction, err = json.Marshal(a.Prediction); err != nil {
			return err
		}
	}

	_, err = l.db.Pool.Exec(ctx,
		`INSERT INTO login_attempts (id, username, ip_address, device, geo, score, level, decision,
			breakdown, enhanced, prediction, success, requires_otp, reason, hidden_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Username, a.IP, a.Device, a.Geo, a.Score, string(a.Level), string(a.Decision),
		breakdown, enhanced, prediction, a.Success, a.RequiresOTP, a.Reason, a.HiddenReason, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert login attempt: %w", err)
	}
	return nil
}

func (l *PostgresAttemptLog) Recent(ctx context.Context, username string, limit int) ([]LoginAttempt, error) {
	if limit <= 0 || limit > maxRecentAttempts {
		limit = maxRecentAttempts
	}

	query := `SELECT id, username, ip_address, device, geo, score, level, decision,
		breakdown, enhanced, prediction, success, requires_otp, reason, hidden_reason, created_at
		FROM login_attempts`
	args := []interface{}{}
	if username != "" {
		query += ` WHERE lower(username) = $1`
		args = append(args, baselineKey(username))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := l.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []LoginAttempt
	for rows.Next() {
		var (
			a                               LoginAttempt
			level, decision                 string
			breakdown, enhanced, prediction []byte
		)
		if err := rows.Scan(&a.ID, &a.Username, &a.IP, &a.Device, &a.Geo, &a.Score, &level, &decision,
			&breakdown, &enhanced, &prediction, &a.Success, &a.RequiresOTP, &a.Reason, &a.HiddenReason,
			&a.CreatedAt); err != nil {
			l.logger.Warn("Skipping unreadable login attempt row", zap.Error(err))
			continue
		}
		a.Level, a.Decision = RiskLevel(level), Decision(decision)
		if err := json.Unmarshal(breakdown, &a.Breakdown); err != nil {
			l.logger.Warn("Bad breakdown column", zap.String("attempt_id", a.ID), zap.Error(err))
		}
		if err := json.Unmarshal(enhanced, &a.Enhanced); err != nil {
			l.logger.Warn("Bad enhanced column", zap.String("attempt_id", a.ID), zap.Error(err))
		}
		if len(prediction) > 0 {
			a.Prediction = new(anomaly.Prediction)
			if err := json.Unmarshal(prediction, a.Prediction); err != nil {
				a.Prediction = nil
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
