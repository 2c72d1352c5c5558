package anomaly

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	lowPercentile  = 0.10
	highPercentile = 0.90

	// fallbackSigma widens mean±k·std bands when no normal samples exist
	fallbackSigma = 2.0

	// maxExcess caps how many standard deviations one feature can contribute
	maxExcess = 3.0

	// anomalyScoreThreshold marks a prediction anomalous above this score
	anomalyScoreThreshold = 30.0

	// internalAnomalyRatio marks a sample anomalous during self-evaluation
	internalAnomalyRatio = 0.3
)

// Config sizes the sample buffer and the retrain cadence
type Config struct {
	MaxSamples       int
	RetrainThreshold int
	MinSamples       int
}

// DefaultConfig returns the default model configuration
func DefaultConfig() Config {
	return Config{
		MaxSamples:       1000,
		RetrainThreshold: 50,
		MinSamples:       10,
	}
}

// Sample is one labeled training observation
type Sample struct {
	ID        string    `json:"id"`
	Features  Features  `json:"features"`
	IsAnomaly bool      `json:"is_anomaly"`
	Timestamp time.Time `json:"timestamp"`
}

// Threshold is the accepted [Low, High] band for one feature
type Threshold struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Metrics is the model's self-evaluation on its own training samples.
// Training and test sets are the same, so these figures are optimistic.
type Metrics struct {
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
	TruePositives  int     `json:"true_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
}

// State is an immutable snapshot of trained parameters. A retrain builds a
// new State and swaps it in whole.
type State struct {
	Version      int                    `json:"version"`
	TrainedAt    time.Time              `json:"trained_at"`
	SamplesCount int                    `json:"samples_count"`
	Means        Vector                 `json:"feature_means"`
	Stds         Vector                 `json:"feature_stds"`
	Thresholds   [NumFeatures]Threshold `json:"thresholds"`
	Metrics      Metrics                `json:"metrics"`
	IsReady      bool                   `json:"is_ready"`
}

// Prediction is the model's verdict for one feature vector
type Prediction struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	Score      float64 `json:"score"`      // 0..100
	Confidence float64 `json:"confidence"` // 0..100
}

// Export is the admin view of the model
type Export struct {
	State        *State   `json:"state"`
	FeatureNames []string `json:"feature_names"`
	Samples      []Sample `json:"samples"`
}

// Model accumulates samples and periodically retrains. Writers are
// serialized by mu; Predict only loads the current snapshot.
type Model struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	samples        []Sample
	sinceTrain     int
	retrainPending bool
	onTrained      func(*State)

	state atomic.Pointer[State]
}

// NewModel creates an untrained model
func NewModel(cfg Config, logger *zap.Logger) *Model {
	def := DefaultConfig()
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.RetrainThreshold <= 0 {
		cfg.RetrainThreshold = def.RetrainThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}

	m := &Model{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "anomaly_model")),
		now:     time.Now,
		samples: make([]Sample, 0, cfg.MaxSamples),
	}
	m.state.Store(&State{})
	return m
}

// OnTrained registers a callback invoked with every new State. It runs while
// the model's write lock is held and must not call back into the model.
func (m *Model) OnTrained(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrained = fn
}

// Config returns the model configuration
func (m *Model) Config() Config {
	return m.cfg
}

// State returns the current trained snapshot
func (m *Model) State() *State {
	return m.state.Load()
}

// Samples returns a copy of the retained samples, oldest first
func (m *Model) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Export returns the current state and retained samples
func (m *Model) Export() Export {
	return Export{
		State:        m.State(),
		FeatureNames: FeatureNames(),
		Samples:      m.Samples(),
	}
}

// Record appends a sample, evicting the oldest beyond MaxSamples. It reports
// true once per retrain cycle, when RetrainThreshold samples have arrived
// since the last training; the caller is expected to call Train.
func (m *Model) Record(features Features, isAnomaly bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(features, isAnomaly)
	if m.sinceTrain >= m.cfg.RetrainThreshold && !m.retrainPending {
		m.retrainPending = true
		return true
	}
	return false
}

// AddSample appends a sample and trains synchronously when the retrain
// threshold is reached.
func (m *Model) AddSample(features Features, isAnomaly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(features, isAnomaly)
	if m.sinceTrain >= m.cfg.RetrainThreshold {
		m.sinceTrain = 0
		m.trainLocked()
	}
}

func (m *Model) appendLocked(features Features, isAnomaly bool) {
	m.samples = append(m.samples, Sample{
		ID:        uuid.New().String(),
		Features:  features,
		IsAnomaly: isAnomaly,
		Timestamp: m.now().UTC(),
	})
	if over := len(m.samples) - m.cfg.MaxSamples; over > 0 {
		m.samples = append(m.samples[:0], m.samples[over:]...)
	}
	m.sinceTrain++
}

// Train rebuilds the model from the retained samples. With fewer than
// MinSamples it logs and returns false, leaving the current state in place.
func (m *Model) Train() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainLocked()
}

func (m *Model) trainLocked() bool {
	m.retrainPending = false

	n := len(m.samples)
	if n < m.cfg.MinSamples {
		m.logger.Info("Insufficient samples for training",
			zap.Int("samples", n),
			zap.Int("required", m.cfg.MinSamples))
		return false
	}

	all := make([]Vector, n)
	normal := make([]Vector, 0, n)
	for i, s := range m.samples {
		all[i] = s.Features.Vector()
		if !s.IsAnomaly {
			normal = append(normal, all[i])
		}
	}

	prev := m.state.Load()
	next := &State{
		Version:      prev.Version + 1,
		TrainedAt:    m.now().UTC(),
		SamplesCount: n,
		IsReady:      true,
	}
	next.Means, next.Stds = meanStd(all)

	for f := 0; f < NumFeatures; f++ {
		if len(normal) > 0 {
			col := column(normal, f)
			next.Thresholds[f] = Threshold{
				Low:  percentile(col, lowPercentile),
				High: percentile(col, highPercentile),
			}
			continue
		}
		next.Thresholds[f] = Threshold{
			Low:  next.Means[f] - fallbackSigma*next.Stds[f],
			High: next.Means[f] + fallbackSigma*next.Stds[f],
		}
	}

	next.Metrics = evaluate(next, m.samples)

	m.state.Store(next)
	m.sinceTrain = 0

	m.logger.Info("Anomaly model trained",
		zap.Int("version", next.Version),
		zap.Int("samples", n),
		zap.Int("normal_samples", len(normal)),
		zap.Float64("accuracy", next.Metrics.Accuracy),
		zap.Float64("f1", next.Metrics.F1))

	if m.onTrained != nil {
		m.onTrained(next)
	}
	return true
}

// Predict scores a feature vector against the current state. An untrained
// model returns a zero prediction.
func (m *Model) Predict(features Features) Prediction {
	return m.state.Load().Predict(features)
}

// Predict scores features against this snapshot
func (s *State) Predict(features Features) Prediction {
	if s == nil || !s.IsReady {
		return Prediction{}
	}

	v := features.Vector()
	var total float64
	for i := range v {
		th := s.Thresholds[i]
		var excess float64
		switch {
		case v[i] < th.Low:
			excess = (th.Low - v[i]) / s.Stds[i]
		case v[i] > th.High:
			excess = (v[i] - th.High) / s.Stds[i]
		}
		total += math.Min(excess, maxExcess) / maxExcess
	}

	score := total / NumFeatures * 100
	return Prediction{
		IsAnomaly:  score > anomalyScoreThreshold,
		Score:      score,
		Confidence: math.Min(100, float64(s.SamplesCount)),
	}
}
