package risk

import (
	"github.com/openidx/loginrisk/internal/anomaly"
)

// ExtractFeatures renders a scored login as anomaly model input.
//
// There is no geolocation, so geo_distance is the geo drift component.
// device_consistency and fingerprint_stability are 1 for a fully matching
// device or clean fingerprint and fall towards 0 as drift grows.
func ExtractFeatures(event LoginEvent, breakdown RiskBreakdown, enhanced EnhancedRiskFactors) anomaly.Features {
	typing := event.Typing.withDefaults()

	passwordCorrect := 0.0
	if event.PasswordCorrect {
		passwordCorrect = 1
	}

	return anomaly.Features{
		TypingSpeed:          typing.TypingSpeed,
		KeystrokeCount:       float64(typing.KeystrokeCount),
		TotalTypingTime:      typing.TotalTypingTime,
		HourOfDay:            float64(((event.Hour % 24) + 24) % 24),
		DayOfWeek:            float64(event.OccurredAt.Weekday()),
		DeviceConsistency:    1 - float64(breakdown.DeviceDrift)/deviceUnknownDrift,
		GeoDistance:          float64(breakdown.GeoDrift),
		AttemptCount:         float64(max(event.Attempts, 0)),
		FingerprintStability: 1 - float64(enhanced.BrowserPatternScore)/float64(FactorBrowserPattern.Max()),
		PasswordCorrect:      passwordCorrect,
	}
}
