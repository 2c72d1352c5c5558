// Package metrics provides Prometheus metrics for risk decisions and the
// anomaly model. HTTP request metrics live in the middleware package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision metrics
var (
	riskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loginrisk",
			Name:      "risk_score",
			Help:      "Combined risk score distribution for evaluated logins",
			Buckets:   prometheus.LinearBuckets(10, 10, 10), // 10..100
		},
		[]string{"decision"}, // decision: allow, alert, challenge, block
	)

	riskDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "risk_decisions_total",
			Help:      "Total number of login decisions",
		},
		[]string{"decision", "level"},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "store_errors_total",
			Help:      "Store failures absorbed during evaluation",
		},
		[]string{"store", "operation"}, // store: baseline, rules, attempts
	)
)

// Model metrics
var (
	modelTrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "model_trainings_total",
			Help:      "Anomaly model training runs",
		},
		[]string{"outcome"}, // outcome: trained, skipped
	)

	modelVersionGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loginrisk",
			Name:      "model_version",
			Help:      "Version of the active anomaly model",
		},
	)

	modelSamplesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loginrisk",
			Name:      "model_samples",
			Help:      "Samples used to train the active anomaly model",
		},
	)

	modelQualityGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loginrisk",
			Name:      "model_quality",
			Help:      "Self-evaluation of the active anomaly model on its training set",
		},
		[]string{"metric"}, // metric: accuracy, precision, recall, f1
	)
)

// RecordRiskDecision records one evaluated login
func RecordRiskDecision(decision, level string, score int) {
	riskScoreHistogram.WithLabelValues(decision).Observe(float64(score))
	riskDecisionsTotal.WithLabelValues(decision, level).Inc()
}

// RecordStoreError counts a store failure that evaluation recovered from
func RecordStoreError(store, operation string) {
	storeErrorsTotal.WithLabelValues(store, operation).Inc()
}

// RecordModelTraining counts a training run by outcome
func RecordModelTraining(outcome string) {
	modelTrainingsTotal.WithLabelValues(outcome).Inc()
}

// SetModelState publishes the active model's version, size and quality
func SetModelState(version, samples int, accuracy, precision, recall, f1 float64) {
	modelVersionGauge.Set(float64(version))
	modelSamplesGauge.Set(float64(samples))
	modelQualityGauge.WithLabelValues("accuracy").Set(accuracy)
	modelQualityGauge.WithLabelValues("precision").Set(precision)
	modelQualityGauge.WithLabelValues("recall").Set(recall)
	modelQualityGauge.WithLabelValues("f1").Set(f1)
}
