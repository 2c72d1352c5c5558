package risk

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	apperrors "github.com/openidx/loginrisk/internal/common/errors"
	"github.com/openidx/loginrisk/internal/common/events"
	"github.com/openidx/loginrisk/internal/metrics"
)

const defaultRecentAttempts = 50

// Rules returns the rule set currently applied to evaluations
func (e *Engine) Rules(ctx context.Context) SecurityRules {
	return e.activeRules(ctx)
}

// UpdateRules validates and stores a new rule set
func (e *Engine) UpdateRules(ctx context.Context, actor string, rules SecurityRules) error {
	if err := rules.Validate(); err != nil {
		return apperrors.InvalidRules(err.Error())
	}

	old := e.activeRules(ctx)
	if err := e.stores.Rules.SaveRules(ctx, rules); err != nil {
		return apperrors.RedisError("save rules", err)
	}

	e.audit.LogConfigurationChanged(actor, "risk.rules", old, rules)
	e.publish(ctx, events.NewEvent(events.EventRulesUpdated, eventSource, map[string]interface{}{
		"block":     rules.Block.Threshold,
		"challenge": rules.Challenge.Threshold,
		"alert":     rules.Alert.Threshold,
	}).WithSubject(actor))
	return nil
}

// Baseline returns the stored baseline for username, or nil if there is none
func (e *Engine) Baseline(ctx context.Context, username string) (*UserBaseline, error) {
	b, err := e.stores.Baselines.GetBaseline(ctx, username)
	if err != nil {
		return nil, apperrors.RedisError("get baseline", err)
	}
	return b, nil
}

// UpdateBaseline replaces a user's baseline. Last-login fields already on
// record are kept when the update leaves them empty.
func (e *Engine) UpdateBaseline(ctx context.Context, actor, username string, baseline UserBaseline) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return apperrors.ValidationError("username is required")
	}
	if err := validateBaseline(baseline); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	existing, err := e.stores.Baselines.GetBaseline(ctx, username)
	if err != nil {
		return apperrors.RedisError("get baseline", err)
	}
	if existing != nil && baseline.LastLoginTime == nil {
		baseline.LastLoginIP = existing.LastLoginIP
		baseline.LastLoginTime = existing.LastLoginTime
		baseline.LastLoginGeo = existing.LastLoginGeo
	}

	if err := e.stores.Baselines.SaveBaseline(ctx, username, baseline); err != nil {
		return apperrors.RedisError("save baseline", err)
	}

	e.audit.LogConfigurationChanged(actor, "risk.baseline."+baselineKey(username), existing, baseline)
	e.publish(ctx, events.NewEvent(events.EventBaselineUpdated, eventSource, map[string]interface{}{
		"primary_device": baseline.PrimaryDevice,
		"primary_region": baseline.PrimaryRegion,
	}).WithSubject(username))
	return nil
}

func validateBaseline(b UserBaseline) error {
	w := b.TypicalLoginWindow
	if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
		return fmt.Errorf("typical_login_window hours must be between 0 and 23")
	}
	if !(b.AvgTypingSpeed > 0) || b.AvgTypingSpeed > 1000 {
		return fmt.Errorf("avg_typing_speed must be between 0 and 1000")
	}
	if strings.TrimSpace(b.PrimaryDevice) == "" || strings.TrimSpace(b.PrimaryRegion) == "" {
		return fmt.Errorf("primary_device and primary_region are required")
	}
	return nil
}

// RecentAttempts lists recent attempts, newest first, including hidden
// reasons. Only admin routes may call it.
func (e *Engine) RecentAttempts(ctx context.Context, username string, limit int) ([]LoginAttempt, error) {
	if limit <= 0 {
		limit = defaultRecentAttempts
	}
	attempts, err := e.stores.Attempts.Recent(ctx, username, min(limit, maxRecentAttempts))
	if err != nil {
		return nil, apperrors.DatabaseError("list login attempts", err)
	}
	if attempts == nil {
		attempts = []LoginAttempt{}
	}
	return attempts, nil
}

// ModelState returns the active model snapshot
func (e *Engine) ModelState() *anomaly.State {
	return e.model.State()
}

// ModelExport returns the active snapshot with its retained samples
func (e *Engine) ModelExport() anomaly.Export {
	return e.model.Export()
}

// Retrain trains the model immediately from the retained samples
func (e *Engine) Retrain(ctx context.Context) (*anomaly.State, error) {
	if !e.model.Train() {
		metrics.RecordModelTraining("skipped")
		return nil, apperrors.ModelNotReady(len(e.model.Samples()), e.model.Config().MinSamples)
	}
	state := e.model.State()
	e.logger.Info("Model retrained on request", zap.Int("version", state.Version))
	return state, nil
}
