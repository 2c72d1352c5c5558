package risk

import (
	"fmt"
	"math"

	"github.com/openidx/loginrisk/internal/common/config"
)

const (
	maxScore = 100

	enhancedWeightDivisor = 2
	anomalyWeight         = 0.3
)

// CombinedScore folds the breakdown, the enhanced factors and the model's
// anomaly score into a single 0..100 score. enhanced and anomalyScore are
// optional.
func CombinedScore(breakdown RiskBreakdown, enhanced *EnhancedRiskFactors, anomalyScore *float64) int {
	score := breakdown.Sum()
	if enhanced != nil {
		score += enhanced.Sum() / enhancedWeightDivisor
	}
	if anomalyScore != nil && *anomalyScore > 0 {
		score += int(math.Floor(*anomalyScore * anomalyWeight))
	}
	return clamp(score, 0, maxScore)
}

// ClassifyRiskLevel maps a score onto a fixed level scale
func ClassifyRiskLevel(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	case score >= 20:
		return RiskLevelLow
	default:
		return RiskLevelSafe
	}
}

// Decide picks the first enabled tier, in block, challenge, alert order,
// whose threshold the score reaches. Everything else is allowed.
func Decide(score int, rules SecurityRules) Decision {
	tiers := []struct {
		tier     RuleTier
		decision Decision
	}{
		{rules.Block, DecisionBlock},
		{rules.Challenge, DecisionChallenge},
		{rules.Alert, DecisionAlert},
	}
	for _, t := range tiers {
		if t.tier.Enabled && score >= t.tier.Threshold {
			return t.decision
		}
	}
	return DecisionAllow
}

// Validate checks thresholds are within 0..100 and that enabled tiers are
// ordered block >= challenge >= alert. Decide does not require this; it is
// enforced when rules are changed through the admin API.
func (r SecurityRules) Validate() error {
	named := []struct {
		name string
		tier RuleTier
	}{
		{"block", r.Block},
		{"challenge", r.Challenge},
		{"alert", r.Alert},
		{"allow", r.Allow},
	}
	for _, n := range named {
		if n.tier.Threshold < 0 || n.tier.Threshold > maxScore {
			return fmt.Errorf("%s threshold %d is outside 0..%d", n.name, n.tier.Threshold, maxScore)
		}
	}

	prev := named[0]
	for _, n := range named[1:3] {
		if !n.tier.Enabled {
			continue
		}
		if prev.tier.Enabled && prev.tier.Threshold < n.tier.Threshold {
			return fmt.Errorf("%s threshold %d is below %s threshold %d",
				prev.name, prev.tier.Threshold, n.name, n.tier.Threshold)
		}
		prev = n
	}
	return nil
}

// RulesFromConfig converts the configured thresholds
func RulesFromConfig(c config.RulesConfig) SecurityRules {
	return SecurityRules{
		Block:     RuleTier{Enabled: c.BlockEnabled, Threshold: c.BlockThreshold},
		Challenge: RuleTier{Enabled: c.ChallengeEnabled, Threshold: c.ChallengeThreshold},
		Alert:     RuleTier{Enabled: c.AlertEnabled, Threshold: c.AlertThreshold},
		Allow:     RuleTier{Enabled: c.AllowEnabled, Threshold: c.AllowThreshold},
	}
}
