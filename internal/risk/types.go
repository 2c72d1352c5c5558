// Package risk scores login attempts for fraud risk and turns the score into
// an allow/alert/challenge/block decision with an explanation.
package risk

import (
	"time"

	"github.com/openidx/loginrisk/internal/anomaly"
)

// RiskLevel represents the classification of risk
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "safe"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

func (r RiskLevel) String() string {
	return string(r)
}

// Decision is the action taken on a login
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionAlert     Decision = "alert"
	DecisionChallenge Decision = "challenge"
	DecisionBlock     Decision = "block"
)

func (d Decision) String() string {
	return string(d)
}

// LoginWindow is the inclusive range of hours a user normally logs in
type LoginWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UserBaseline is a user's expected login behavior
type UserBaseline struct {
	PrimaryDevice      string      `json:"primary_device"`
	PrimaryRegion      string      `json:"primary_region"`
	AvgTypingSpeed     float64     `json:"avg_typing_speed"` // WPM
	TypicalLoginWindow LoginWindow `json:"typical_login_window"`

	LastLoginIP   string     `json:"last_login_ip,omitempty"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
	LastLoginGeo  string     `json:"last_login_geo,omitempty"`
}

// DefaultBaseline is used for users with no stored baseline
func DefaultBaseline() UserBaseline {
	return UserBaseline{
		PrimaryDevice:      "Windows-Chrome",
		PrimaryRegion:      "US East",
		AvgTypingSpeed:     45,
		TypicalLoginWindow: LoginWindow{Start: 8, End: 18},
	}
}

const (
	defaultTypingSpeed = 45.0
	defaultKeyDownMs   = 100.0
	defaultKeyUpMs     = 50.0
)

// TypingMetrics are keystroke dynamics captured on the login form. Speed is
// in WPM and times are in milliseconds.
type TypingMetrics struct {
	TypingSpeed     float64 `json:"typing_speed" binding:"max=1000"`
	AvgKeyDownTime  float64 `json:"avg_key_down_time" binding:"max=10000"`
	AvgKeyUpTime    float64 `json:"avg_key_up_time" binding:"max=10000"`
	KeystrokeCount  int     `json:"keystroke_count" binding:"max=100000"`
	TotalTypingTime float64 `json:"total_typing_time" binding:"max=3600000"`
}

// withDefaults replaces missing or non-positive readings with the documented
// defaults (45 WPM, 100ms key-down, 50ms key-up).
func (t *TypingMetrics) withDefaults() TypingMetrics {
	var out TypingMetrics
	if t != nil {
		out = *t
	}
	if !(out.TypingSpeed > 0) {
		out.TypingSpeed = defaultTypingSpeed
	}
	if !(out.AvgKeyDownTime > 0) {
		out.AvgKeyDownTime = defaultKeyDownMs
	}
	if !(out.AvgKeyUpTime > 0) {
		out.AvgKeyUpTime = defaultKeyUpMs
	}
	if out.KeystrokeCount < 0 {
		out.KeystrokeCount = 0
	}
	if !(out.TotalTypingTime > 0) {
		out.TotalTypingTime = 0
	}
	return out
}

// Fingerprint is the browser fingerprint submitted with the login
type Fingerprint struct {
	UserAgent      string `json:"user_agent,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Language       string `json:"language,omitempty"`
	ScreenRes      string `json:"screen_resolution,omitempty"`
	Timezone       string `json:"timezone"`
	CookiesEnabled bool   `json:"cookies_enabled"`
	WebGLRenderer  string `json:"webgl_renderer"`
}

// LoginEvent is one login attempt to be scored
type LoginEvent struct {
	Username        string         `json:"username"`
	PasswordCorrect bool           `json:"password_correct"`
	Fingerprint     *Fingerprint   `json:"fingerprint,omitempty"`
	Typing          *TypingMetrics `json:"typing_metrics,omitempty"`
	IP              string         `json:"ip"`
	Device          string         `json:"device"`
	DeviceType      string         `json:"device_type,omitempty"`
	GeoLabel        string         `json:"geo_label"`
	RegionCode      string         `json:"region_code,omitempty"`
	Attempts        int            `json:"attempts"`
	Hour            int            `json:"hour"` // 0..23, local to the user
	OccurredAt      time.Time      `json:"occurred_at"`
}

// RiskBreakdown is the baseline comparison, one component per factor
type RiskBreakdown struct {
	DeviceDrift        int `json:"device_drift"`        // 0..30
	GeoDrift           int `json:"geo_drift"`           // 0..25
	TypingDrift        int `json:"typing_drift"`        // 0..25
	TimingAnomaly      int `json:"timing_anomaly"`      // 0..10
	AttemptsMultiplier int `json:"attempts_multiplier"` // 0..10
}

// Sum adds the components without capping
func (b RiskBreakdown) Sum() int {
	return b.DeviceDrift + b.GeoDrift + b.TypingDrift + b.TimingAnomaly + b.AttemptsMultiplier
}

// EnhancedRiskFactors are the supplementary heuristics
type EnhancedRiskFactors struct {
	IPReputation        int  `json:"ip_reputation"`                    // 0..20
	ImpossibleTravel    int  `json:"impossible_travel"`                // 0..25
	VelocityScore       int  `json:"velocity_score"`                   // 0..15
	BrowserPatternScore int  `json:"browser_pattern_score"`            // 0..15
	BotLikelihoodScore  int  `json:"bot_likelihood_score"`             // 0..20
	BehavioralScore     int  `json:"behavioral_score"`                 // 0..15
	AIModelAnomalyScore *int `json:"ai_model_anomaly_score,omitempty"` // 0..100
}

// Sum adds the heuristic factors, excluding the model score
func (e EnhancedRiskFactors) Sum() int {
	return e.IPReputation + e.ImpossibleTravel + e.VelocityScore +
		e.BrowserPatternScore + e.BotLikelihoodScore + e.BehavioralScore
}

// RuleTier is one decision tier
type RuleTier struct {
	Enabled   bool `json:"enabled"`
	Threshold int  `json:"threshold"`
}

// SecurityRules map a score to a decision. Tiers are tested block first.
type SecurityRules struct {
	Block     RuleTier `json:"block"`
	Challenge RuleTier `json:"challenge"`
	Alert     RuleTier `json:"alert"`
	Allow     RuleTier `json:"allow"`
}

// DefaultSecurityRules returns the stock thresholds
func DefaultSecurityRules() SecurityRules {
	return SecurityRules{
		Block:     RuleTier{Enabled: true, Threshold: 80},
		Challenge: RuleTier{Enabled: true, Threshold: 60},
		Alert:     RuleTier{Enabled: true, Threshold: 40},
		Allow:     RuleTier{Enabled: true, Threshold: 0},
	}
}

// RiskCalculationResponse is returned by the partner calculation route
type RiskCalculationResponse struct {
	Score       int           `json:"score"`
	Level       RiskLevel     `json:"level"`
	Decision    Decision      `json:"decision"`
	Breakdown   RiskBreakdown `json:"breakdown"`
	Explanation string        `json:"explanation"`
}

// LoginAttempt is the audit record of one evaluated login. HiddenReason is
// for administrators only.
type LoginAttempt struct {
	ID           string              `json:"id"`
	Username     string              `json:"username"`
	IP           string              `json:"ip"`
	Device       string              `json:"device"`
	Geo          string              `json:"geo"`
	Score        int                 `json:"score"`
	Level        RiskLevel           `json:"level"`
	Decision     Decision            `json:"decision"`
	Breakdown    RiskBreakdown       `json:"breakdown"`
	Enhanced     EnhancedRiskFactors `json:"enhanced"`
	Prediction   *anomaly.Prediction `json:"prediction,omitempty"`
	Success      bool                `json:"success"`
	RequiresOTP  bool                `json:"requires_otp"`
	Reason       string              `json:"reason"`
	HiddenReason string              `json:"hidden_reason"`
	CreatedAt    time.Time           `json:"created_at"`
}
