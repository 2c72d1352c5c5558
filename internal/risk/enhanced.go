package risk

import (
	"math"
	"net"
	"strings"
	"time"
)

// Factor identifies one enhanced heuristic
type Factor int

const (
	FactorIPReputation Factor = iota
	FactorImpossibleTravel
	FactorVelocity
	FactorBrowserPattern
	FactorBotLikelihood
	FactorBehavioral
	numFactors
)

var factorMax = [numFactors]int{
	FactorIPReputation:     20,
	FactorImpossibleTravel: 25,
	FactorVelocity:         15,
	FactorBrowserPattern:   15,
	FactorBotLikelihood:    20,
	FactorBehavioral:       15,
}

var factorNames = [numFactors]string{
	FactorIPReputation:     "ip_reputation",
	FactorImpossibleTravel: "impossible_travel",
	FactorVelocity:         "velocity",
	FactorBrowserPattern:   "browser_pattern",
	FactorBotLikelihood:    "bot_likelihood",
	FactorBehavioral:       "behavioral",
}

func (f Factor) String() string {
	if f < 0 || f >= numFactors {
		return "unknown"
	}
	return factorNames[f]
}

// Max is the largest score the factor can contribute
func (f Factor) Max() int {
	if f < 0 || f >= numFactors {
		return 0
	}
	return factorMax[f]
}

func (f Factor) clamp(v int) int {
	return clamp(v, 0, f.Max())
}

const (
	travelWindowShort = 2 * time.Hour
	travelWindowLong  = 6 * time.Hour
	travelScoreShort  = 25
	travelScoreLong   = 15

	velocityWindow = 60 * time.Second
	velocityScore  = 15

	browserSignalScore = 5

	botKeyDownMinMs   = 20.0
	botKeyDownMaxMs   = 500.0
	botMaxTypingWPM   = 200.0
	botSignalScore    = 10
	behavioralDivisor = 3.0
)

// IPReputationProvider scores how suspicious a source address is, 0..20.
type IPReputationProvider interface {
	Reputation(ip string) int
}

// IPReputationFunc adapts a function to IPReputationProvider
type IPReputationFunc func(ip string) int

func (f IPReputationFunc) Reputation(ip string) int {
	return f(ip)
}

// OctetSumReputation is a deterministic placeholder for a threat-intel
// lookup: private 10/8 and 192.168/16 addresses score 0, other IPv4 addresses
// score the sum of their octets mod 20, anything else scores 0.
type OctetSumReputation struct{}

func (OctetSumReputation) Reputation(ip string) int {
	if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.") {
		return 0
	}
	v4 := net.ParseIP(strings.TrimSpace(ip)).To4()
	if v4 == nil {
		return 0
	}
	sum := 0
	for _, octet := range v4 {
		sum += int(octet)
	}
	return sum % 20
}

// EnhancedInput carries what the enhanced heuristics need. LastLoginTime is
// nil when the user has no previous successful login.
type EnhancedInput struct {
	IP            string
	LastIP        string
	LastLoginTime *time.Time
	LastGeo       string
	CurrentGeo    string
	Now           time.Time
	Typing        *TypingMetrics
	Fingerprint   *Fingerprint
	Reputation    IPReputationProvider
}

// ComputeEnhancedFactors evaluates the supplementary heuristics. Every factor
// is clamped to its Factor.Max.
func ComputeEnhancedFactors(in EnhancedInput) EnhancedRiskFactors {
	rep := in.Reputation
	if rep == nil {
		rep = OctetSumReputation{}
	}
	typing := in.Typing.withDefaults()

	return EnhancedRiskFactors{
		IPReputation:        FactorIPReputation.clamp(rep.Reputation(in.IP)),
		ImpossibleTravel:    FactorImpossibleTravel.clamp(impossibleTravel(in)),
		VelocityScore:       FactorVelocity.clamp(velocity(in)),
		BrowserPatternScore: FactorBrowserPattern.clamp(browserPattern(in.Fingerprint)),
		BotLikelihoodScore:  FactorBotLikelihood.clamp(botLikelihood(typing)),
		BehavioralScore:     FactorBehavioral.clamp(behavioral(typing)),
	}
}

// sinceLastLogin returns the time elapsed since the previous login. Clock
// skew that puts the previous login in the future counts as zero elapsed.
func sinceLastLogin(in EnhancedInput) (time.Duration, bool) {
	if in.LastLoginTime == nil || in.LastLoginTime.IsZero() {
		return 0, false
	}
	elapsed := in.Now.Sub(*in.LastLoginTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

func impossibleTravel(in EnhancedInput) int {
	elapsed, ok := sinceLastLogin(in)
	if !ok {
		return 0
	}
	last, cur := normalizeLabel(in.LastGeo), normalizeLabel(in.CurrentGeo)
	if last == "" || cur == "" || last == cur {
		return 0
	}
	switch {
	case elapsed < travelWindowShort:
		return travelScoreShort
	case elapsed < travelWindowLong:
		return travelScoreLong
	default:
		return 0
	}
}

func velocity(in EnhancedInput) int {
	elapsed, ok := sinceLastLogin(in)
	if ok && elapsed < velocityWindow {
		return velocityScore
	}
	return 0
}

func browserPattern(fp *Fingerprint) int {
	if fp == nil {
		return 0
	}
	score := 0
	if !fp.CookiesEnabled {
		score += browserSignalScore
	}
	if fp.Timezone == "undefined" {
		score += browserSignalScore
	}
	if strings.TrimSpace(fp.WebGLRenderer) == "" {
		score += browserSignalScore
	}
	return score
}

func botLikelihood(t TypingMetrics) int {
	score := 0
	if t.AvgKeyDownTime < botKeyDownMinMs || t.AvgKeyDownTime > botKeyDownMaxMs {
		score += botSignalScore
	}
	if t.TypingSpeed > botMaxTypingWPM {
		score += botSignalScore
	}
	return score
}

func behavioral(t TypingMetrics) int {
	return floorPoints(math.Round(math.Abs(t.TypingSpeed-defaultTypingSpeed)/behavioralDivisor), FactorBehavioral.Max())
}
