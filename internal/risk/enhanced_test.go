package risk

import (
	"math"
	"testing"
	"time"
)

var enhancedNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := enhancedNow.Add(-d)
	return &t
}

func TestOctetSumReputation(t *testing.T) {
	tests := []struct {
		ip       string
		expected int
	}{
		{"10.0.0.1", 0},
		{"10.255.255.255", 0},
		{"192.168.1.1", 0},
		{"8.8.8.8", 12},
		{"203.0.113.5", 1},
		{"1.1.1.1", 4},
		{"::1", 0},
		{"2001:db8::1", 0},
		{"not-an-ip", 0},
		{"", 0},
	}

	rep := OctetSumReputation{}
	for _, tt := range tests {
		if got := rep.Reputation(tt.ip); got != tt.expected {
			t.Errorf("Reputation(%q) = %d, want %d", tt.ip, got, tt.expected)
		}
	}
}

func TestImpossibleTravel(t *testing.T) {
	tests := []struct {
		name     string
		last     *time.Time
		lastGeo  string
		geo      string
		expected int
	}{
		{"no previous login", nil, "US East", "Asia East", 0},
		{"changed within 2h", ago(time.Hour), "US East", "Asia East", 25},
		{"changed within 6h", ago(3 * time.Hour), "US East", "Asia East", 15},
		{"changed long ago", ago(7 * time.Hour), "US East", "Asia East", 0},
		{"same geo after normalization", ago(10 * time.Minute), "us  east", "US East", 0},
		{"unknown previous geo", ago(10 * time.Minute), "", "Asia East", 0},
		{"exactly 2h", ago(2 * time.Hour), "US East", "Asia East", 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEnhancedFactors(EnhancedInput{
				IP:            "10.0.0.1",
				LastLoginTime: tt.last,
				LastGeo:       tt.lastGeo,
				CurrentGeo:    tt.geo,
				Now:           enhancedNow,
			}).ImpossibleTravel
			if got != tt.expected {
				t.Errorf("ImpossibleTravel = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestVelocity(t *testing.T) {
	future := enhancedNow.Add(time.Minute)

	tests := []struct {
		name     string
		last     *time.Time
		expected int
	}{
		{"no previous login", nil, 0},
		{"30 seconds", ago(30 * time.Second), 15},
		{"just under a minute", ago(59 * time.Second), 15},
		{"a minute", ago(time.Minute), 0},
		{"an hour", ago(time.Hour), 0},
		{"clock skew counts as zero elapsed", &future, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEnhancedFactors(EnhancedInput{LastLoginTime: tt.last, Now: enhancedNow}).VelocityScore
			if got != tt.expected {
				t.Errorf("VelocityScore = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestBrowserPattern(t *testing.T) {
	clean := &Fingerprint{CookiesEnabled: true, Timezone: "Europe/Berlin", WebGLRenderer: "ANGLE"}

	tests := []struct {
		name     string
		fp       *Fingerprint
		expected int
	}{
		{"no fingerprint", nil, 0},
		{"clean fingerprint", clean, 0},
		{"cookies disabled", &Fingerprint{Timezone: "UTC", WebGLRenderer: "ANGLE"}, 5},
		{"undefined timezone", &Fingerprint{CookiesEnabled: true, Timezone: "undefined", WebGLRenderer: "ANGLE"}, 5},
		{"missing renderer", &Fingerprint{CookiesEnabled: true, Timezone: "UTC", WebGLRenderer: "  "}, 5},
		{"everything wrong", &Fingerprint{Timezone: "undefined"}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := browserPattern(tt.fp); got != tt.expected {
				t.Errorf("browserPattern() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestBotLikelihoodAndBehavioral(t *testing.T) {
	tests := []struct {
		name       string
		typing     *TypingMetrics
		bot        int
		behavioral int
	}{
		{"defaults", nil, 0, 0},
		{"human", &TypingMetrics{TypingSpeed: 50, AvgKeyDownTime: 95}, 0, 2},
		{"fast key presses", &TypingMetrics{TypingSpeed: 46, AvgKeyDownTime: 10}, 10, 0},
		{"slow key presses", &TypingMetrics{TypingSpeed: 60, AvgKeyDownTime: 600}, 10, 5},
		{"too fast typing", &TypingMetrics{TypingSpeed: 250, AvgKeyDownTime: 100}, 10, 15},
		{"scripted", &TypingMetrics{TypingSpeed: 300, AvgKeyDownTime: 5}, 20, 15},
		{"boundary key-down", &TypingMetrics{TypingSpeed: 45, AvgKeyDownTime: 20}, 0, 0},
		{"slow typist", &TypingMetrics{TypingSpeed: 15}, 0, 10},
		{"overflowing speed", &TypingMetrics{TypingSpeed: 1e20, AvgKeyDownTime: 100}, 10, 15},
		{"infinite speed", &TypingMetrics{TypingSpeed: math.Inf(1), AvgKeyDownTime: 100}, 10, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEnhancedFactors(EnhancedInput{Typing: tt.typing, Now: enhancedNow})
			if got.BotLikelihoodScore != tt.bot {
				t.Errorf("BotLikelihoodScore = %d, want %d", got.BotLikelihoodScore, tt.bot)
			}
			if got.BehavioralScore != tt.behavioral {
				t.Errorf("BehavioralScore = %d, want %d", got.BehavioralScore, tt.behavioral)
			}
		})
	}
}

func TestComputeEnhancedFactors_ClampsProviderOutput(t *testing.T) {
	tests := []struct {
		raw, expected int
	}{
		{99, 20},
		{20, 20},
		{7, 7},
		{-4, 0},
	}

	for _, tt := range tests {
		raw := tt.raw
		got := ComputeEnhancedFactors(EnhancedInput{
			IP:         "8.8.8.8",
			Now:        enhancedNow,
			Reputation: IPReputationFunc(func(string) int { return raw }),
		}).IPReputation
		if got != tt.expected {
			t.Errorf("IPReputation with provider %d = %d, want %d", tt.raw, got, tt.expected)
		}
	}
}

func TestComputeEnhancedFactors_DefaultReputation(t *testing.T) {
	got := ComputeEnhancedFactors(EnhancedInput{IP: "8.8.8.8", Now: enhancedNow})
	if got.IPReputation != 12 {
		t.Errorf("IPReputation = %d, want 12", got.IPReputation)
	}
	if got.AIModelAnomalyScore != nil {
		t.Error("AIModelAnomalyScore should be left for the caller")
	}
}

func TestFactor_Table(t *testing.T) {
	tests := []struct {
		factor Factor
		name   string
		max    int
	}{
		{FactorIPReputation, "ip_reputation", 20},
		{FactorImpossibleTravel, "impossible_travel", 25},
		{FactorVelocity, "velocity", 15},
		{FactorBrowserPattern, "browser_pattern", 15},
		{FactorBotLikelihood, "bot_likelihood", 20},
		{FactorBehavioral, "behavioral", 15},
		{Factor(-1), "unknown", 0},
		{numFactors, "unknown", 0},
	}

	for _, tt := range tests {
		if got := tt.factor.String(); got != tt.name {
			t.Errorf("Factor(%d).String() = %q, want %q", tt.factor, got, tt.name)
		}
		if got := tt.factor.Max(); got != tt.max {
			t.Errorf("Factor(%d).Max() = %d, want %d", tt.factor, got, tt.max)
		}
	}
}

func TestComputeEnhancedFactors_Bounds(t *testing.T) {
	ips := []string{"8.8.8.8", "255.255.255.255", "10.1.1.1", "::1"}
	speeds := []float64{0, 1, 45, 199, 201, 1000, 1e20, math.MaxFloat64}
	keyDowns := []float64{0, 1, 19, 100, 501, 5000}
	lasts := []*time.Time{nil, ago(time.Second), ago(time.Hour), ago(5 * time.Hour), ago(48 * time.Hour)}

	for _, ip := range ips {
		for _, s := range speeds {
			for _, k := range keyDowns {
				for _, last := range lasts {
					f := ComputeEnhancedFactors(EnhancedInput{
						IP:            ip,
						LastLoginTime: last,
						LastGeo:       "US East",
						CurrentGeo:    "Asia East",
						Now:           enhancedNow,
						Typing:        &TypingMetrics{TypingSpeed: s, AvgKeyDownTime: k},
						Fingerprint:   &Fingerprint{Timezone: "undefined"},
					})
					values := []int{f.IPReputation, f.ImpossibleTravel, f.VelocityScore,
						f.BrowserPatternScore, f.BotLikelihoodScore, f.BehavioralScore}
					for i, v := range values {
						if v < 0 || v > Factor(i).Max() {
							t.Fatalf("%s = %d outside 0..%d", Factor(i), v, Factor(i).Max())
						}
					}
				}
			}
		}
	}
}
