package risk

import (
	"fmt"
	"strings"
)

// disclosure lists the breakdown components that may be named to the user,
// with the minimum value at which each is mentioned.
var disclosure = []struct {
	min    int
	value  func(RiskBreakdown) int
	phrase string
}{
	{15, func(b RiskBreakdown) int { return b.DeviceDrift }, "an unrecognized device"},
	{12, func(b RiskBreakdown) int { return b.GeoDrift }, "an unusual location"},
	{12, func(b RiskBreakdown) int { return b.TypingDrift }, "an unusual typing pattern"},
	{5, func(b RiskBreakdown) int { return b.TimingAnomaly }, "an unusual login time"},
	{3, func(b RiskBreakdown) int { return b.AttemptsMultiplier }, "repeated failed attempts"},
}

// GenerateExplanation builds the user-facing explanation. It names only
// breakdown components and never the enhanced heuristics.
func GenerateExplanation(breakdown RiskBreakdown, score int, decision Decision) string {
	var phrases []string
	for _, d := range disclosure {
		if d.value(breakdown) >= d.min {
			phrases = append(phrases, d.phrase)
		}
	}

	if len(phrases) == 0 {
		return fmt.Sprintf("Risk score %d: this sign-in matches your normal login behavior.", score)
	}

	var action string
	switch decision {
	case DecisionBlock:
		action = "was blocked"
	case DecisionChallenge:
		action = "needs additional verification"
	case DecisionAlert:
		action = "was allowed and flagged for review"
	default:
		action = "was allowed"
	}
	return fmt.Sprintf("Risk score %d: this sign-in %s because of %s.", score, action, joinPhrases(phrases))
}

// joinPhrases renders "a", "a and b", or "a, b and c"
func joinPhrases(phrases []string) string {
	switch len(phrases) {
	case 0:
		return ""
	case 1:
		return phrases[0]
	default:
		return strings.Join(phrases[:len(phrases)-1], ", ") + " and " + phrases[len(phrases)-1]
	}
}

// HiddenReasonKind is the admin-facing cause of a decision
type HiddenReasonKind int

const (
	ReasonImpossibleTravel HiddenReasonKind = iota
	ReasonBot
	ReasonIPReputation
	ReasonVelocity
	ReasonBrowserAnomaly
	ReasonUnknownDevice
	ReasonGeoAnomaly
	ReasonTypingAnomaly
	ReasonUnusualTime
	ReasonNormal
)

// hiddenReasons is evaluated in order; the first matching rule wins.
// Enhanced rules are skipped when no enhanced factors were computed.
var hiddenReasons = []struct {
	kind     HiddenReasonKind
	enhanced bool
	match    func(RiskBreakdown, EnhancedRiskFactors) bool
	text     string
}{
	{ReasonImpossibleTravel, true, func(_ RiskBreakdown, e EnhancedRiskFactors) bool { return e.ImpossibleTravel >= 15 },
		"Impossible travel: location changed faster than physically possible since the last login"},
	{ReasonBot, true, func(_ RiskBreakdown, e EnhancedRiskFactors) bool { return e.BotLikelihoodScore >= 10 },
		"Automated client suspected: keystroke timing or typing speed is outside human range"},
	{ReasonIPReputation, true, func(_ RiskBreakdown, e EnhancedRiskFactors) bool { return e.IPReputation >= 15 },
		"Source IP has a poor reputation score"},
	{ReasonVelocity, true, func(_ RiskBreakdown, e EnhancedRiskFactors) bool { return e.VelocityScore >= 10 },
		"Login velocity: repeated login within a minute of the previous one"},
	{ReasonBrowserAnomaly, true, func(_ RiskBreakdown, e EnhancedRiskFactors) bool { return e.BrowserPatternScore >= 10 },
		"Browser fingerprint anomalies: cookies disabled, missing timezone or WebGL renderer"},
	{ReasonUnknownDevice, false, func(b RiskBreakdown, _ EnhancedRiskFactors) bool { return b.DeviceDrift >= 20 },
		"Unrecognized device for this account"},
	{ReasonGeoAnomaly, false, func(b RiskBreakdown, _ EnhancedRiskFactors) bool { return b.GeoDrift >= 15 },
		"Login from outside the user's primary region"},
	{ReasonTypingAnomaly, false, func(b RiskBreakdown, _ EnhancedRiskFactors) bool { return b.TypingDrift >= 15 },
		"Typing speed deviates strongly from the user's baseline"},
	{ReasonUnusualTime, false, func(b RiskBreakdown, _ EnhancedRiskFactors) bool { return b.TimingAnomaly >= 5 },
		"Login outside the user's typical hours"},
}

const normalHiddenReason = "Normal login pattern"

func (k HiddenReasonKind) String() string {
	for _, r := range hiddenReasons {
		if r.kind == k {
			return r.text
		}
	}
	return normalHiddenReason
}

// ClassifyHiddenReason returns the highest-priority cause for the admin view
func ClassifyHiddenReason(breakdown RiskBreakdown, enhanced *EnhancedRiskFactors) HiddenReasonKind {
	var e EnhancedRiskFactors
	if enhanced != nil {
		e = *enhanced
	}
	for _, r := range hiddenReasons {
		if r.enhanced && enhanced == nil {
			continue
		}
		if r.match(breakdown, e) {
			return r.kind
		}
	}
	return ReasonNormal
}

// HiddenReason returns the admin-only reason text. It must never be sent on a
// user-facing response.
func HiddenReason(breakdown RiskBreakdown, enhanced *EnhancedRiskFactors) string {
	return ClassifyHiddenReason(breakdown, enhanced).String()
}
