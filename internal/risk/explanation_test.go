package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openidx/loginrisk/internal/anomaly"
)

func TestGenerateExplanation(t *testing.T) {
	tests := []struct {
		name      string
		breakdown RiskBreakdown
		score     int
		decision  Decision
		expected  string
	}{
		{
			name:     "normal",
			expected: "Risk score 0: this sign-in matches your normal login behavior.",
		},
		{
			name:      "below every disclosure threshold",
			breakdown: RiskBreakdown{DeviceDrift: 14, GeoDrift: 11, TypingDrift: 11, TimingAnomaly: 4, AttemptsMultiplier: 2},
			score:     42,
			decision:  DecisionAlert,
			expected:  "Risk score 42: this sign-in matches your normal login behavior.",
		},
		{
			name:      "single factor",
			breakdown: RiskBreakdown{DeviceDrift: 25},
			score:     25,
			decision:  DecisionAllow,
			expected:  "Risk score 25: this sign-in was allowed because of an unrecognized device.",
		},
		{
			name:      "two factors",
			breakdown: RiskBreakdown{DeviceDrift: 15, GeoDrift: 20},
			score:     65,
			decision:  DecisionChallenge,
			expected:  "Risk score 65: this sign-in needs additional verification because of an unrecognized device and an unusual location.",
		},
		{
			name:      "every factor",
			breakdown: RiskBreakdown{DeviceDrift: 25, GeoDrift: 20, TypingDrift: 25, TimingAnomaly: 10, AttemptsMultiplier: 10},
			score:     90,
			decision:  DecisionBlock,
			expected: "Risk score 90: this sign-in was blocked because of an unrecognized device, an unusual location, " +
				"an unusual typing pattern, an unusual login time and repeated failed attempts.",
		},
		{
			name:      "alert wording",
			breakdown: RiskBreakdown{AttemptsMultiplier: 3},
			score:     45,
			decision:  DecisionAlert,
			expected:  "Risk score 45: this sign-in was allowed and flagged for review because of repeated failed attempts.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GenerateExplanation(tt.breakdown, tt.score, tt.decision))
		})
	}
}

func TestJoinPhrases(t *testing.T) {
	assert.Equal(t, "", joinPhrases(nil))
	assert.Equal(t, "a", joinPhrases([]string{"a"}))
	assert.Equal(t, "a and b", joinPhrases([]string{"a", "b"}))
	assert.Equal(t, "a, b and c", joinPhrases([]string{"a", "b", "c"}))
}

func TestClassifyHiddenReason(t *testing.T) {
	tests := []struct {
		name      string
		breakdown RiskBreakdown
		enhanced  *EnhancedRiskFactors
		expected  HiddenReasonKind
	}{
		{"normal", RiskBreakdown{}, &EnhancedRiskFactors{}, ReasonNormal},
		{"normal without enhanced", RiskBreakdown{}, nil, ReasonNormal},
		{
			"travel outranks everything",
			RiskBreakdown{DeviceDrift: 25, GeoDrift: 20},
			&EnhancedRiskFactors{ImpossibleTravel: 15, BotLikelihoodScore: 20, IPReputation: 19},
			ReasonImpossibleTravel,
		},
		{"bot before ip", RiskBreakdown{}, &EnhancedRiskFactors{BotLikelihoodScore: 10, IPReputation: 19}, ReasonBot},
		{"ip before velocity", RiskBreakdown{}, &EnhancedRiskFactors{IPReputation: 15, VelocityScore: 15}, ReasonIPReputation},
		{"velocity before browser", RiskBreakdown{}, &EnhancedRiskFactors{VelocityScore: 15, BrowserPatternScore: 15}, ReasonVelocity},
		{"browser before device", RiskBreakdown{DeviceDrift: 25}, &EnhancedRiskFactors{BrowserPatternScore: 10}, ReasonBrowserAnomaly},
		{"enhanced below thresholds", RiskBreakdown{DeviceDrift: 25}, &EnhancedRiskFactors{ImpossibleTravel: 14, IPReputation: 14, BotLikelihoodScore: 9}, ReasonUnknownDevice},
		{"device family match is not reported", RiskBreakdown{DeviceDrift: 10, GeoDrift: 20}, nil, ReasonGeoAnomaly},
		{"typing", RiskBreakdown{TypingDrift: 15, TimingAnomaly: 10}, nil, ReasonTypingAnomaly},
		{"time", RiskBreakdown{TimingAnomaly: 5}, nil, ReasonUnusualTime},
		{"attempts alone are normal", RiskBreakdown{AttemptsMultiplier: 10}, nil, ReasonNormal},
		{
			"nil enhanced skips enhanced rules",
			RiskBreakdown{DeviceDrift: 25},
			nil,
			ReasonUnknownDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyHiddenReason(tt.breakdown, tt.enhanced))
		})
	}
}

func TestHiddenReason_Strings(t *testing.T) {
	seen := map[string]bool{}
	for k := ReasonImpossibleTravel; k <= ReasonNormal; k++ {
		s := k.String()
		assert.NotEmpty(t, s)
		assert.False(t, seen[s], "duplicate reason text %q", s)
		seen[s] = true
	}
	assert.Equal(t, "Normal login pattern", HiddenReason(RiskBreakdown{}, nil))
	assert.Equal(t, ReasonImpossibleTravel.String(),
		HiddenReason(RiskBreakdown{}, &EnhancedRiskFactors{ImpossibleTravel: 25}))
}

func TestExplanation_DoesNotLeakHiddenReason(t *testing.T) {
	breakdown := RiskBreakdown{DeviceDrift: 25, GeoDrift: 20}
	enhanced := &EnhancedRiskFactors{ImpossibleTravel: 25, BotLikelihoodScore: 20}

	explanation := GenerateExplanation(breakdown, 90, DecisionBlock)
	hidden := HiddenReason(breakdown, enhanced)

	assert.NotContains(t, explanation, hidden)
	for _, word := range []string{"travel", "bot", "automated", "reputation", "velocity", "fingerprint"} {
		assert.NotContains(t, strings.ToLower(explanation), word)
	}
}

func TestExtractFeatures(t *testing.T) {
	occurred := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC) // Wednesday
	event := LoginEvent{
		PasswordCorrect: true,
		Typing:          &TypingMetrics{TypingSpeed: 52, KeystrokeCount: 14, TotalTypingTime: 3200},
		Attempts:        2,
		Hour:            9,
		OccurredAt:      occurred,
	}
	breakdown := RiskBreakdown{DeviceDrift: 10, GeoDrift: 20}
	enhanced := EnhancedRiskFactors{BrowserPatternScore: 5}

	f := ExtractFeatures(event, breakdown, enhanced)

	assert.InDelta(t, 2.0/3, f.FingerprintStability, 1e-9)
	f.FingerprintStability = 0
	assert.Equal(t, anomaly.Features{
		TypingSpeed:       52,
		KeystrokeCount:    14,
		TotalTypingTime:   3200,
		HourOfDay:         9,
		DayOfWeek:         3,
		DeviceConsistency: 0.6,
		GeoDistance:       20,
		AttemptCount:      2,
		PasswordCorrect:   1,
	}, f)
}

func TestExtractFeatures_Defaults(t *testing.T) {
	f := ExtractFeatures(LoginEvent{Hour: -1, Attempts: -2}, RiskBreakdown{DeviceDrift: 25}, EnhancedRiskFactors{})

	assert.Equal(t, 45.0, f.TypingSpeed)
	assert.Equal(t, 23.0, f.HourOfDay)
	assert.Equal(t, 0.0, f.AttemptCount)
	assert.Equal(t, 0.0, f.DeviceConsistency)
	assert.Equal(t, 1.0, f.FingerprintStability)
	assert.Equal(t, 0.0, f.PasswordCorrect)
}
