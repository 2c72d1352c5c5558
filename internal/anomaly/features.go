// Package anomaly implements a lightweight statistical anomaly detector for
// login behavior.
//
// Every login contributes a 10-feature sample. Once enough samples exist the
// model learns a per-feature mean, standard deviation and an acceptance band
// taken from the 10th and 90th percentile of normal samples. Predictions
// measure how far each feature falls outside its band in units of standard
// deviation.
package anomaly

// NumFeatures is the fixed length of a feature vector
const NumFeatures = 10

// Feature indexes a position in the feature vector
type Feature int

const (
	FeatureTypingSpeed Feature = iota
	FeatureKeystrokeCount
	FeatureTotalTypingTime
	FeatureHourOfDay
	FeatureDayOfWeek
	FeatureDeviceConsistency
	FeatureGeoDistance
	FeatureAttemptCount
	FeatureFingerprintStability
	FeaturePasswordCorrect
)

var featureNames = [NumFeatures]string{
	"typing_speed",
	"keystroke_count",
	"total_typing_time",
	"hour_of_day",
	"day_of_week",
	"device_consistency",
	"geo_distance",
	"attempt_count",
	"fingerprint_stability",
	"password_correct",
}

func (f Feature) String() string {
	if f < 0 || int(f) >= NumFeatures {
		return "unknown"
	}
	return featureNames[f]
}

// FeatureNames returns the feature names in vector order
func FeatureNames() []string {
	names := make([]string, NumFeatures)
	copy(names, featureNames[:])
	return names
}

// Vector is a feature vector in Feature order
type Vector [NumFeatures]float64

// Features is one login rendered as model input
type Features struct {
	TypingSpeed          float64 `json:"typing_speed"`
	KeystrokeCount       float64 `json:"keystroke_count"`
	TotalTypingTime      float64 `json:"total_typing_time"`
	HourOfDay            float64 `json:"hour_of_day"`
	DayOfWeek            float64 `json:"day_of_week"`
	DeviceConsistency    float64 `json:"device_consistency"`
	GeoDistance          float64 `json:"geo_distance"`
	AttemptCount         float64 `json:"attempt_count"`
	FingerprintStability float64 `json:"fingerprint_stability"`
	PasswordCorrect      float64 `json:"password_correct"`
}

// Vector returns f in Feature order
func (f Features) Vector() Vector {
	return Vector{
		FeatureTypingSpeed:          f.TypingSpeed,
		FeatureKeystrokeCount:       f.KeystrokeCount,
		FeatureTotalTypingTime:      f.TotalTypingTime,
		FeatureHourOfDay:            f.HourOfDay,
		FeatureDayOfWeek:            f.DayOfWeek,
		FeatureDeviceConsistency:    f.DeviceConsistency,
		FeatureGeoDistance:          f.GeoDistance,
		FeatureAttemptCount:         f.AttemptCount,
		FeatureFingerprintStability: f.FingerprintStability,
		FeaturePasswordCorrect:      f.PasswordCorrect,
	}
}
