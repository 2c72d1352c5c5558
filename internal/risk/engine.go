package risk

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/events"
	"github.com/openidx/loginrisk/internal/common/logger"
	"github.com/openidx/loginrisk/internal/metrics"
)

const eventSource = "risk-engine"

// EngineConfig holds the engine's policy settings
type EngineConfig struct {
	// DefaultRules apply until an administrator stores a rule set, and
	// whenever the rules store is unavailable.
	DefaultRules SecurityRules

	// AsyncRetrain publishes a retrain request on the event bus instead of
	// training inside Assess.
	AsyncRetrain bool

	Reputation IPReputationProvider
}

// Stores groups the engine's persistence dependencies
type Stores struct {
	Baselines BaselineStore
	Rules     RulesStore
	Attempts  AttemptLog
}

// Engine runs the full login evaluation pipeline. Store failures never fail
// an evaluation; they are logged and the engine falls back to defaults.
type Engine struct {
	cfg    EngineConfig
	stores Stores
	model  *anomaly.Model
	bus    events.Bus
	audit  *logger.AuditLogger
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEngine creates an engine. bus may be nil, in which case retraining runs
// inline regardless of cfg.AsyncRetrain.
func NewEngine(cfg EngineConfig, stores Stores, model *anomaly.Model, bus events.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Reputation == nil {
		cfg.Reputation = OctetSumReputation{}
	}
	if stores.Baselines == nil {
		stores.Baselines = NewMemoryBaselineStore()
	}
	if stores.Rules == nil {
		stores.Rules = NewMemoryRulesStore()
	}
	if stores.Attempts == nil {
		stores.Attempts = NewMemoryAttemptLog(0)
	}

	e := &Engine{
		cfg:    cfg,
		stores: stores,
		model:  model,
		bus:    bus,
		audit:  logger.NewAuditLogger(log),
		logger: log.With(zap.String("component", "risk_engine")),
		tracer: otel.Tracer("github.com/openidx/loginrisk/internal/risk"),
		now:    time.Now,
	}

	model.OnTrained(e.onModelTrained)
	return e
}

func (e *Engine) onModelTrained(s *anomaly.State) {
	metrics.RecordModelTraining("trained")
	metrics.SetModelState(s.Version, s.SamplesCount,
		s.Metrics.Accuracy, s.Metrics.Precision, s.Metrics.Recall, s.Metrics.F1)

	e.publish(context.Background(), events.NewEvent(events.EventModelTrained, eventSource, map[string]interface{}{
		"version":  s.Version,
		"samples":  s.SamplesCount,
		"accuracy": s.Metrics.Accuracy,
		"f1_score": s.Metrics.F1,
	}))
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.bus != nil {
		e.bus.PublishAsync(ctx, event)
	}
}

// Assess evaluates a login attempt, records it, and feeds the model.
func (e *Engine) Assess(ctx context.Context, event LoginEvent) (*LoginAttempt, error) {
	ctx, span := e.tracer.Start(ctx, "risk.Assess")
	defer span.End()

	now := e.now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	event.Username = strings.TrimSpace(event.Username)

	baseline := e.baseline(ctx, event.Username)
	breakdown := ComputeBreakdown(event, baseline)
	enhanced := ComputeEnhancedFactors(e.enhancedInput(event, baseline))
	features := ExtractFeatures(event, breakdown, enhanced)

	var (
		prediction   *anomaly.Prediction
		anomalyScore *float64
	)
	if state := e.model.State(); state.IsReady {
		p := state.Predict(features)
		prediction = &p
		anomalyScore = &p.Score
		ai := int(math.Round(p.Score))
		enhanced.AIModelAnomalyScore = &ai
	}

	score := CombinedScore(breakdown, &enhanced, anomalyScore)
	level := ClassifyRiskLevel(score)
	decision := Decide(score, e.activeRules(ctx))

	attempt := LoginAttempt{
		ID:           uuid.New().String(),
		Username:     event.Username,
		IP:           event.IP,
		Device:       event.Device,
		Geo:          event.GeoLabel,
		Score:        score,
		Level:        level,
		Decision:     decision,
		Breakdown:    breakdown,
		Enhanced:     enhanced,
		Prediction:   prediction,
		Success:      event.PasswordCorrect && (decision == DecisionAllow || decision == DecisionAlert),
		RequiresOTP:  event.PasswordCorrect && decision == DecisionChallenge,
		Reason:       GenerateExplanation(breakdown, score, decision),
		HiddenReason: HiddenReason(breakdown, &enhanced),
		CreatedAt:    now,
	}

	span.SetAttributes(
		attribute.String("risk.attempt_id", attempt.ID),
		attribute.Int("risk.score", score),
		attribute.String("risk.level", string(level)),
		attribute.String("risk.decision", string(decision)),
	)

	if err := e.stores.Attempts.Append(ctx, attempt); err != nil {
		e.storeFailed("attempts", "append", err, zap.String("attempt_id", attempt.ID))
	}

	// Samples are labeled by the rule-based score so the model cannot
	// reinforce its own verdicts.
	ruleLevel := ClassifyRiskLevel(CombinedScore(breakdown, &enhanced, nil))
	e.learn(ctx, features, ruleLevel == RiskLevelHigh || ruleLevel == RiskLevelCritical)

	if attempt.Success {
		if err := e.stores.Baselines.RecordLogin(ctx, event.Username, event.IP, event.GeoLabel, event.OccurredAt); err != nil {
			e.storeFailed("baseline", "record_login", err, zap.String("username", event.Username))
		}
	}

	metrics.RecordRiskDecision(string(decision), string(level), score)
	e.audit.LogRiskDecision(event.Username, event.IP, string(decision), score, attempt.HiddenReason)
	logger.WithTraceContext(e.logger, ctx).Debug("Login assessed",
		zap.String("attempt_id", attempt.ID),
		zap.String("username", event.Username),
		zap.Int("score", score),
		zap.String("decision", string(decision)),
		zap.String("hidden_reason", attempt.HiddenReason))

	payload := map[string]interface{}{
		"attempt_id": attempt.ID,
		"score":      score,
		"level":      string(level),
		"decision":   string(decision),
	}
	e.publish(ctx, events.NewEvent(events.EventLoginAssessed, eventSource, payload).WithSubject(event.Username))
	if decision == DecisionBlock {
		e.publish(ctx, events.NewEvent(events.EventLoginBlocked, eventSource, payload).WithSubject(event.Username))
	}

	return &attempt, nil
}

// Calculate scores a login from the baseline and heuristic factors only. It
// records nothing and does not consult the model.
func (e *Engine) Calculate(ctx context.Context, event LoginEvent) RiskCalculationResponse {
	ctx, span := e.tracer.Start(ctx, "risk.Calculate")
	defer span.End()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}

	baseline := e.baseline(ctx, event.Username)
	breakdown := ComputeBreakdown(event, baseline)
	enhanced := ComputeEnhancedFactors(e.enhancedInput(event, baseline))

	score := CombinedScore(breakdown, &enhanced, nil)
	decision := Decide(score, e.activeRules(ctx))

	span.SetAttributes(attribute.Int("risk.score", score), attribute.String("risk.decision", string(decision)))

	return RiskCalculationResponse{
		Score:       score,
		Level:       ClassifyRiskLevel(score),
		Decision:    decision,
		Breakdown:   breakdown,
		Explanation: GenerateExplanation(breakdown, score, decision),
	}
}

func (e *Engine) enhancedInput(event LoginEvent, baseline *UserBaseline) EnhancedInput {
	in := EnhancedInput{
		IP:          event.IP,
		CurrentGeo:  event.GeoLabel,
		Now:         event.OccurredAt,
		Typing:      event.Typing,
		Fingerprint: event.Fingerprint,
		Reputation:  e.cfg.Reputation,
	}
	if baseline != nil {
		in.LastIP = baseline.LastLoginIP
		in.LastLoginTime = baseline.LastLoginTime
		in.LastGeo = baseline.LastLoginGeo
	}
	return in
}

func (e *Engine) baseline(ctx context.Context, username string) *UserBaseline {
	b, err := e.stores.Baselines.GetBaseline(ctx, username)
	if err != nil {
		e.storeFailed("baseline", "get", err, zap.String("username", username))
		return nil
	}
	return b
}

func (e *Engine) activeRules(ctx context.Context) SecurityRules {
	r, err := e.stores.Rules.GetRules(ctx)
	if err != nil {
		e.storeFailed("rules", "get", err)
		return e.cfg.DefaultRules
	}
	if r == nil {
		return e.cfg.DefaultRules
	}
	return *r
}

func (e *Engine) storeFailed(store, op string, err error, fields ...zap.Field) {
	metrics.RecordStoreError(store, op)
	e.logger.Warn("Store unavailable, continuing with defaults",
		append(fields, zap.String("store", store), zap.String("operation", op), zap.Error(err))...)
}

// learn records the sample and triggers a retrain when one is due
func (e *Engine) learn(ctx context.Context, features anomaly.Features, isAnomaly bool) {
	if !e.cfg.AsyncRetrain || e.bus == nil {
		e.model.AddSample(features, isAnomaly)
		return
	}
	if e.model.Record(features, isAnomaly) {
		e.bus.PublishAsync(ctx, events.NewEvent(events.EventModelRetrainRequested, eventSource, map[string]interface{}{
			"samples": len(e.model.Samples()),
		}))
	}
}
