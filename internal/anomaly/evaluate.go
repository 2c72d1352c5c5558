package anomaly

import "math"

// isAnomalous is the self-evaluation classifier: out-of-band features add
// min(|z|/3, 1), and an average above internalAnomalyRatio is anomalous.
func (s *State) isAnomalous(v Vector) bool {
	var acc float64
	for i := range v {
		th := s.Thresholds[i]
		if v[i] < th.Low || v[i] > th.High {
			z := (v[i] - s.Means[i]) / s.Stds[i]
			acc += math.Min(math.Abs(z)/maxExcess, 1)
		}
	}
	return acc/NumFeatures > internalAnomalyRatio
}

// evaluate scores the state against its own training samples
func evaluate(s *State, samples []Sample) Metrics {
	var m Metrics
	for _, sample := range samples {
		predicted := s.isAnomalous(sample.Features.Vector())
		switch {
		case predicted && sample.IsAnomaly:
			m.TruePositives++
		case !predicted && !sample.IsAnomaly:
			m.TrueNegatives++
		case predicted && !sample.IsAnomaly:
			m.FalsePositives++
		default:
			m.FalseNegatives++
		}
	}

	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	if d := m.TruePositives + m.FalsePositives; d > 0 {
		m.Precision = float64(m.TruePositives) / float64(d)
	}
	if d := m.TruePositives + m.FalseNegatives; d > 0 {
		m.Recall = float64(m.TruePositives) / float64(d)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
